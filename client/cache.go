package client

import (
	"context"
	"fmt"

	"gridclient/binarytype"
	"gridclient/cacheconfig"
	"gridclient/codec"
	"gridclient/protocol"
)

// PeekMode selects which copies GetSize counts.
type PeekMode int8

const (
	PeekAll PeekMode = iota
	PeekNear
	PeekPrimary
	PeekBackup
)

// Entry is one key/value pair returned by GetAll.
type Entry struct {
	Key   any
	Value any
}

// Cache is a handle to a named cache. Key and value types are optional: when set,
// every key or value written is checked against them before any byte is sent, and
// every value read must carry exactly that type code (or NULL, if nullable).
//
// A Cache is immutable; SetKeyType and SetValueType return a modified copy.
type Cache struct {
	client    *Client
	name      string
	id        int32
	keyType   binarytype.DeclaredType
	valueType binarytype.DeclaredType
}

func newCache(c *Client, name string) *Cache {
	return &Cache{
		client:    c,
		name:      name,
		id:        protocol.CacheID(name),
		keyType:   binarytype.Any,
		valueType: binarytype.Any,
	}
}

func (c *Cache) Name() string { return c.name }

// ID is the identifier requests address the cache by.
func (c *Cache) ID() int32 { return c.id }

func (c *Cache) KeyType() binarytype.DeclaredType   { return c.keyType }
func (c *Cache) ValueType() binarytype.DeclaredType { return c.valueType }

// SetKeyType returns a copy of c that checks keys against t. A nil t removes the check.
func (c *Cache) SetKeyType(t binarytype.TypeRef) *Cache {
	cp := *c
	cp.keyType = binarytype.Wrap(t)
	return &cp
}

// SetValueType returns a copy of c that checks values against t. A nil t removes the check.
func (c *Cache) SetValueType(t binarytype.TypeRef) *Cache {
	cp := *c
	cp.valueType = binarytype.Wrap(t)
	return &cp
}

// request starts a payload addressed to this cache.
func (c *Cache) request() *codec.Writer {
	w := codec.NewWriter(64)
	w.WriteInt32(c.id)
	w.WriteInt8(0) // flags
	return w
}

func (c *Cache) writeKey(w *codec.Writer, key any) error {
	if err := w.WriteObject(key, c.keyType); err != nil {
		return fmt.Errorf("client: %s key: %w", c.name, err)
	}
	return nil
}

func (c *Cache) writeValue(w *codec.Writer, value any) error {
	if err := w.WriteObject(value, c.valueType); err != nil {
		return fmt.Errorf("client: %s value: %w", c.name, err)
	}
	return nil
}

func (c *Cache) writeKeys(w *codec.Writer, keys []any) error {
	w.WriteInt32(int32(len(keys)))
	for _, k := range keys {
		if err := c.writeKey(w, k); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) readValue(r *codec.Reader) (any, error) {
	v, err := r.ReadObject(c.valueType)
	if err != nil {
		return nil, fmt.Errorf("client: %s value: %w", c.name, err)
	}
	return v, nil
}

// keyOp sends op with a single key and returns the response reader.
func (c *Cache) keyOp(ctx context.Context, op protocol.Opcode, key any) (*codec.Reader, error) {
	w := c.request()
	if err := c.writeKey(w, key); err != nil {
		return nil, err
	}
	return c.client.do(ctx, op, w.Bytes())
}

// keyValueOp sends op with a key and one or more values.
func (c *Cache) keyValueOp(ctx context.Context, op protocol.Opcode, key any, values ...any) (*codec.Reader, error) {
	w := c.request()
	if err := c.writeKey(w, key); err != nil {
		return nil, err
	}
	for _, v := range values {
		if err := c.writeValue(w, v); err != nil {
			return nil, err
		}
	}
	return c.client.do(ctx, op, w.Bytes())
}

func (c *Cache) keysOp(ctx context.Context, op protocol.Opcode, keys []any) (*codec.Reader, error) {
	w := c.request()
	if err := c.writeKeys(w, keys); err != nil {
		return nil, err
	}
	return c.client.do(ctx, op, w.Bytes())
}

func (c *Cache) valueResult(r *codec.Reader, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return c.readValue(r)
}

func boolResult(r *codec.Reader, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	return r.ReadBool()
}

func noResult(_ *codec.Reader, err error) error {
	return err
}

// Configuration fetches the cache's configuration from the node.
func (c *Cache) Configuration(ctx context.Context) (*cacheconfig.Configuration, error) {
	r, err := c.client.do(ctx, protocol.OpCacheGetConfiguration, c.request().Bytes())
	if err != nil {
		return nil, err
	}
	return cacheconfig.ReadFull(r)
}

// Get returns the value stored under key. A missing key reads as NULL, so with a
// non-nullable value type it fails with a type mismatch.
func (c *Cache) Get(ctx context.Context, key any) (any, error) {
	return c.valueResult(c.keyOp(ctx, protocol.OpCacheGet, key))
}

// GetAll returns the entries that exist for keys, in no particular order.
func (c *Cache) GetAll(ctx context.Context, keys ...any) ([]Entry, error) {
	r, err := c.keysOp(ctx, protocol.OpCacheGetAll, keys)
	if err != nil {
		return nil, err
	}
	n, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 || int(n) > r.Remaining() {
		return nil, fmt.Errorf("%w: entry count %d", codec.ErrInvalidLength, n)
	}
	entries := make([]Entry, 0, n)
	for i := int32(0); i < n; i++ {
		k, err := r.ReadObject(c.keyType)
		if err != nil {
			return nil, fmt.Errorf("client: %s key: %w", c.name, err)
		}
		v, err := c.readValue(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: k, Value: v})
	}
	return entries, nil
}

func (c *Cache) Put(ctx context.Context, key, value any) error {
	return noResult(c.keyValueOp(ctx, protocol.OpCachePut, key, value))
}

// PutAll stores every entry in one request. All entries are type checked before
// anything is sent.
func (c *Cache) PutAll(ctx context.Context, entries []Entry) error {
	w := c.request()
	w.WriteInt32(int32(len(entries)))
	for _, e := range entries {
		if err := c.writeKey(w, e.Key); err != nil {
			return err
		}
		if err := c.writeValue(w, e.Value); err != nil {
			return err
		}
	}
	_, err := c.client.do(ctx, protocol.OpCachePutAll, w.Bytes())
	return err
}

// PutIfAbsent stores value unless key exists and reports whether it did.
func (c *Cache) PutIfAbsent(ctx context.Context, key, value any) (bool, error) {
	return boolResult(c.keyValueOp(ctx, protocol.OpCachePutIfAbsent, key, value))
}

// GetAndPut stores value and returns the previous value, or nil.
func (c *Cache) GetAndPut(ctx context.Context, key, value any) (any, error) {
	return c.valueResult(c.keyValueOp(ctx, protocol.OpCacheGetAndPut, key, value))
}

// GetAndReplace replaces the value only if key exists and returns the previous value.
func (c *Cache) GetAndReplace(ctx context.Context, key, value any) (any, error) {
	return c.valueResult(c.keyValueOp(ctx, protocol.OpCacheGetAndReplace, key, value))
}

func (c *Cache) GetAndRemove(ctx context.Context, key any) (any, error) {
	return c.valueResult(c.keyOp(ctx, protocol.OpCacheGetAndRemove, key))
}

// GetAndPutIfAbsent stores value unless key exists and returns the existing value, or nil.
func (c *Cache) GetAndPutIfAbsent(ctx context.Context, key, value any) (any, error) {
	return c.valueResult(c.keyValueOp(ctx, protocol.OpCacheGetAndPutIfAbsent, key, value))
}

// Replace replaces the value only if key exists and reports whether it did.
func (c *Cache) Replace(ctx context.Context, key, value any) (bool, error) {
	return boolResult(c.keyValueOp(ctx, protocol.OpCacheReplace, key, value))
}

// ReplaceIfEquals replaces the value only if the current one equals oldValue.
func (c *Cache) ReplaceIfEquals(ctx context.Context, key, oldValue, newValue any) (bool, error) {
	return boolResult(c.keyValueOp(ctx, protocol.OpCacheReplaceIfEquals, key, oldValue, newValue))
}

func (c *Cache) ContainsKey(ctx context.Context, key any) (bool, error) {
	return boolResult(c.keyOp(ctx, protocol.OpCacheContainsKey, key))
}

// ContainsKeys reports whether every key exists.
func (c *Cache) ContainsKeys(ctx context.Context, keys ...any) (bool, error) {
	return boolResult(c.keysOp(ctx, protocol.OpCacheContainsKeys, keys))
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) error {
	return noResult(c.client.do(ctx, protocol.OpCacheClear, c.request().Bytes()))
}

func (c *Cache) ClearKey(ctx context.Context, key any) error {
	return noResult(c.keyOp(ctx, protocol.OpCacheClearKey, key))
}

func (c *Cache) ClearKeys(ctx context.Context, keys ...any) error {
	return noResult(c.keysOp(ctx, protocol.OpCacheClearKeys, keys))
}

// RemoveKey removes key and reports whether it existed.
func (c *Cache) RemoveKey(ctx context.Context, key any) (bool, error) {
	return boolResult(c.keyOp(ctx, protocol.OpCacheRemoveKey, key))
}

// RemoveIfEquals removes key only if its value equals value.
func (c *Cache) RemoveIfEquals(ctx context.Context, key, value any) (bool, error) {
	return boolResult(c.keyValueOp(ctx, protocol.OpCacheRemoveIfEquals, key, value))
}

func (c *Cache) RemoveKeys(ctx context.Context, keys ...any) error {
	return noResult(c.keysOp(ctx, protocol.OpCacheRemoveKeys, keys))
}

// RemoveAll removes every entry.
func (c *Cache) RemoveAll(ctx context.Context) error {
	return noResult(c.client.do(ctx, protocol.OpCacheRemoveAll, c.request().Bytes()))
}

// GetSize counts entries in the given peek modes; none means PeekAll.
func (c *Cache) GetSize(ctx context.Context, modes ...PeekMode) (int64, error) {
	w := c.request()
	w.WriteInt32(int32(len(modes)))
	for _, m := range modes {
		w.WriteInt8(int8(m))
	}
	r, err := c.client.do(ctx, protocol.OpCacheGetSize, w.Bytes())
	if err != nil {
		return 0, err
	}
	return r.ReadInt64()
}
