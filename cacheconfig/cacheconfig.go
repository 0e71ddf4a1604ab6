// Package cacheconfig models the configuration a cache is created with and its two
// wire layouts.
//
// Creating a cache sends only the properties the caller set, each prefixed by its
// property code:
//
//	┌─────────┬───────────┬──────────┬───────┬──────────┬───────┬─────
//	│ len i32 │ count i16 │ code i16 │ value │ code i16 │ value │ ...
//	└─────────┴───────────┴──────────┴───────┴──────────┴───────┴─────
//
// Reading a cache's configuration returns every property in a fixed order with no
// codes, followed by the key configuration and query entity lists. len includes
// its own four bytes. Strings are STRING objects (NULL when unset); every other
// property is a raw scalar.
package cacheconfig

import (
	"errors"
	"fmt"
	"sort"

	"gridclient/binarytype"
	"gridclient/codec"
)

var (
	// ErrUnsupported is returned for layout parts this client does not model, such
	// as query entities.
	ErrUnsupported     = errors.New("cacheconfig: unsupported configuration content")
	ErrUnknownProperty = errors.New("cacheconfig: unknown property")
)

// Property identifies one configuration property on the wire.
type Property int16

const (
	Name                          Property = 0
	CacheModeProp                 Property = 1
	AtomicityModeProp             Property = 2
	Backups                       Property = 3
	WriteSynchronizationModeProp  Property = 4
	CopyOnRead                    Property = 5
	ReadFromBackup                Property = 6
	DataRegionName                Property = 100
	OnheapCacheEnabled            Property = 101
	QueryParallelism              Property = 201
	QueryDetailMetricsSize        Property = 202
	SQLSchema                     Property = 203
	SQLIndexInlineMaxSize         Property = 204
	SQLEscapeAll                  Property = 205
	MaxQueryIterators             Property = 206
	RebalanceModeProp             Property = 300
	RebalanceDelay                Property = 301
	RebalanceTimeout              Property = 302
	RebalanceBatchSize            Property = 303
	RebalanceBatchesPrefetchCount Property = 304
	RebalanceOrder                Property = 305
	RebalanceThrottle             Property = 306
	GroupName                     Property = 400
	DefaultLockTimeout            Property = 402
	MaxConcurrentAsyncOperations  Property = 403
	PartitionLossPolicyProp       Property = 404
	EagerTTL                      Property = 405
	StatisticsEnabled             Property = 406
)

type propertyInfo struct {
	name string
	kind binarytype.TypeCode
}

var properties = map[Property]propertyInfo{
	Name:                          {"name", binarytype.String},
	CacheModeProp:                 {"cacheMode", binarytype.Integer},
	AtomicityModeProp:             {"atomicityMode", binarytype.Integer},
	Backups:                       {"backups", binarytype.Integer},
	WriteSynchronizationModeProp:  {"writeSynchronizationMode", binarytype.Integer},
	CopyOnRead:                    {"copyOnRead", binarytype.Boolean},
	ReadFromBackup:                {"readFromBackup", binarytype.Boolean},
	DataRegionName:                {"dataRegionName", binarytype.String},
	OnheapCacheEnabled:            {"onheapCacheEnabled", binarytype.Boolean},
	QueryParallelism:              {"queryParallelism", binarytype.Integer},
	QueryDetailMetricsSize:        {"queryDetailMetricsSize", binarytype.Integer},
	SQLSchema:                     {"sqlSchema", binarytype.String},
	SQLIndexInlineMaxSize:         {"sqlIndexInlineMaxSize", binarytype.Integer},
	SQLEscapeAll:                  {"sqlEscapeAll", binarytype.Boolean},
	MaxQueryIterators:             {"maxQueryIterators", binarytype.Integer},
	RebalanceModeProp:             {"rebalanceMode", binarytype.Integer},
	RebalanceDelay:                {"rebalanceDelay", binarytype.Long},
	RebalanceTimeout:              {"rebalanceTimeout", binarytype.Long},
	RebalanceBatchSize:            {"rebalanceBatchSize", binarytype.Integer},
	RebalanceBatchesPrefetchCount: {"rebalanceBatchesPrefetchCount", binarytype.Long},
	RebalanceOrder:                {"rebalanceOrder", binarytype.Integer},
	RebalanceThrottle:             {"rebalanceThrottle", binarytype.Long},
	GroupName:                     {"groupName", binarytype.String},
	DefaultLockTimeout:            {"defaultLockTimeout", binarytype.Long},
	MaxConcurrentAsyncOperations:  {"maxConcurrentAsyncOperations", binarytype.Integer},
	PartitionLossPolicyProp:       {"partitionLossPolicy", binarytype.Integer},
	EagerTTL:                      {"eagerTtl", binarytype.Boolean},
	StatisticsEnabled:             {"statisticsEnabled", binarytype.Boolean},
}

// fixedLayout is the order a node lists properties in a configuration response.
var fixedLayout = []Property{
	AtomicityModeProp,
	Backups,
	CacheModeProp,
	CopyOnRead,
	DataRegionName,
	EagerTTL,
	StatisticsEnabled,
	GroupName,
	DefaultLockTimeout,
	MaxConcurrentAsyncOperations,
	MaxQueryIterators,
	Name,
	OnheapCacheEnabled,
	PartitionLossPolicyProp,
	QueryDetailMetricsSize,
	QueryParallelism,
	ReadFromBackup,
	RebalanceBatchSize,
	RebalanceBatchesPrefetchCount,
	RebalanceDelay,
	RebalanceModeProp,
	RebalanceOrder,
	RebalanceThrottle,
	RebalanceTimeout,
	SQLEscapeAll,
	SQLIndexInlineMaxSize,
	SQLSchema,
	WriteSynchronizationModeProp,
}

func (p Property) String() string {
	if info, ok := properties[p]; ok {
		return info.name
	}
	return fmt.Sprintf("property(%d)", int16(p))
}

// Configuration holds the properties set on a cache. The zero value is not usable;
// call New.
type Configuration struct {
	values map[Property]any
}

func New() *Configuration {
	return &Configuration{values: make(map[Property]any)}
}

// Set assigns a property. Integer properties accept int32 or any of the mode types
// in this package, long properties int64, boolean properties bool and string
// properties string.
func (c *Configuration) Set(p Property, v any) error {
	info, ok := properties[p]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownProperty, int16(p))
	}
	normalized, ok := normalize(info.kind, v)
	if !ok {
		return fmt.Errorf("cacheconfig: %s: %w", p, &binarytype.TypeMismatchError{Observed: observed(v), Declared: info.kind})
	}
	c.values[p] = normalized
	return nil
}

// Get returns a property and whether it was set.
func (c *Configuration) Get(p Property) (any, bool) {
	v, ok := c.values[p]
	return v, ok
}

// Len returns the number of properties set.
func (c *Configuration) Len() int {
	return len(c.values)
}

func (c *Configuration) CacheName() string {
	s, _ := c.values[Name].(string)
	return s
}

func (c *Configuration) SetName(name string) *Configuration {
	c.values[Name] = name
	return c
}

func (c *Configuration) SetCacheMode(m CacheMode) *Configuration {
	c.values[CacheModeProp] = int32(m)
	return c
}

func (c *Configuration) SetAtomicityMode(m AtomicityMode) *Configuration {
	c.values[AtomicityModeProp] = int32(m)
	return c
}

func (c *Configuration) SetBackups(n int32) *Configuration {
	c.values[Backups] = n
	return c
}

func (c *Configuration) SetWriteSynchronizationMode(m WriteSynchronizationMode) *Configuration {
	c.values[WriteSynchronizationModeProp] = int32(m)
	return c
}

func (c *Configuration) CacheMode() CacheMode {
	v, _ := c.values[CacheModeProp].(int32)
	return CacheMode(v)
}

func (c *Configuration) AtomicityMode() AtomicityMode {
	v, _ := c.values[AtomicityModeProp].(int32)
	return AtomicityMode(v)
}

func (c *Configuration) BackupCount() int32 {
	v, _ := c.values[Backups].(int32)
	return v
}

// Merge returns a copy of base with every property set in c applied on top.
func (c *Configuration) Merge(base *Configuration) *Configuration {
	out := New()
	for p, v := range base.values {
		out.values[p] = v
	}
	for p, v := range c.values {
		out.values[p] = v
	}
	return out
}

// WriteCreate encodes the properties that were set, in ascending code order.
func (c *Configuration) WriteCreate(w *codec.Writer) {
	start := w.Len()
	w.WriteInt32(0)
	w.WriteInt16(int16(len(c.values)))
	codes := make([]Property, 0, len(c.values))
	for p := range c.values {
		codes = append(codes, p)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	for _, p := range codes {
		w.WriteInt16(int16(p))
		writeValue(w, properties[p].kind, c.values[p])
	}
	w.PutInt32At(start, int32(w.Len()-start))
}

// ReadCreate decodes a property list written by WriteCreate.
func ReadCreate(r *codec.Reader) (*Configuration, error) {
	if _, err := r.ReadInt32(); err != nil {
		return nil, err
	}
	n, err := r.ReadInt16()
	if err != nil {
		return nil, err
	}
	c := New()
	for i := 0; i < int(n); i++ {
		code, err := r.ReadInt16()
		if err != nil {
			return nil, err
		}
		p := Property(code)
		info, ok := properties[p]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownProperty, code)
		}
		v, err := readValue(r, info.kind)
		if err != nil {
			return nil, fmt.Errorf("cacheconfig: read %s: %w", p, err)
		}
		if v != nil {
			c.values[p] = v
		}
	}
	return c, nil
}

// WriteFull encodes every property in the fixed layout. Properties that were not
// set are written from Defaults.
func (c *Configuration) WriteFull(w *codec.Writer) {
	full := c.Merge(Defaults())
	start := w.Len()
	w.WriteInt32(0)
	for _, p := range fixedLayout {
		writeValue(w, properties[p].kind, full.values[p])
	}
	w.WriteInt32(0) // key configurations
	w.WriteInt32(0) // query entities
	w.PutInt32At(start, int32(w.Len()-start))
}

// ReadFull decodes a configuration written in the fixed layout.
func ReadFull(r *codec.Reader) (*Configuration, error) {
	if _, err := r.ReadInt32(); err != nil {
		return nil, err
	}
	c := New()
	for _, p := range fixedLayout {
		v, err := readValue(r, properties[p].kind)
		if err != nil {
			return nil, fmt.Errorf("cacheconfig: read %s: %w", p, err)
		}
		if v != nil {
			c.values[p] = v
		}
	}
	for _, part := range []string{"key configurations", "query entities"} {
		n, err := r.ReadInt32()
		if err != nil {
			return nil, err
		}
		if n != 0 {
			return nil, fmt.Errorf("%w: %d %s", ErrUnsupported, n, part)
		}
	}
	return c, nil
}

func writeValue(w *codec.Writer, kind binarytype.TypeCode, v any) {
	switch kind {
	case binarytype.Integer:
		n, _ := v.(int32)
		w.WriteInt32(n)
	case binarytype.Long:
		n, _ := v.(int64)
		w.WriteInt64(n)
	case binarytype.Boolean:
		b, _ := v.(bool)
		w.WriteBool(b)
	case binarytype.String:
		s, _ := v.(string)
		w.WriteNullableString(s)
	}
}

func readValue(r *codec.Reader, kind binarytype.TypeCode) (any, error) {
	switch kind {
	case binarytype.Integer:
		return r.ReadInt32()
	case binarytype.Long:
		return r.ReadInt64()
	case binarytype.Boolean:
		return r.ReadBool()
	case binarytype.String:
		v, err := r.ReadObject(binarytype.Declare(binarytype.String))
		if err != nil || v == nil {
			return nil, err
		}
		return v, nil
	}
	return nil, &binarytype.InternalError{Op: "cacheconfig.readValue", Code: kind}
}

func normalize(kind binarytype.TypeCode, v any) (any, bool) {
	switch kind {
	case binarytype.Integer:
		switch n := v.(type) {
		case int32:
			return n, true
		case CacheMode:
			return int32(n), true
		case AtomicityMode:
			return int32(n), true
		case WriteSynchronizationMode:
			return int32(n), true
		case RebalanceMode:
			return int32(n), true
		case PartitionLossPolicy:
			return int32(n), true
		}
	case binarytype.Long:
		n, ok := v.(int64)
		return n, ok
	case binarytype.Boolean:
		b, ok := v.(bool)
		return b, ok
	case binarytype.String:
		s, ok := v.(string)
		return s, ok
	}
	return nil, false
}

func observed(v any) binarytype.TypeCode {
	code, err := codec.InferTypeCode(v)
	if err != nil {
		return binarytype.Null
	}
	return code
}
