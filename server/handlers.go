package server

import (
	"bytes"
	"fmt"

	"gridclient/binarytype"
	"gridclient/cacheconfig"
	"gridclient/codec"
	"gridclient/protocol"
)

// statusError is a failure reported to the client as a non-zero response status.
type statusError struct {
	status int32
	msg    string
}

func (e *statusError) Error() string {
	return e.msg
}

// opHandler decodes one request payload from r and encodes its result into w.
type opHandler func(s *Server, r *codec.Reader, w *codec.Writer) error

// cacheHandler is an operation on an existing cache.
type cacheHandler func(c *cache, r *codec.Reader, w *codec.Writer) error

var handlers = map[protocol.Opcode]opHandler{
	protocol.OpCacheGet:               onCache(get),
	protocol.OpCachePut:               onCache(put),
	protocol.OpCachePutIfAbsent:       onCache(putIfAbsent),
	protocol.OpCacheGetAll:            onCache(getAll),
	protocol.OpCachePutAll:            onCache(putAll),
	protocol.OpCacheGetAndPut:         onCache(getAndPut),
	protocol.OpCacheGetAndReplace:     onCache(getAndReplace),
	protocol.OpCacheGetAndRemove:      onCache(getAndRemove),
	protocol.OpCacheGetAndPutIfAbsent: onCache(getAndPutIfAbsent),
	protocol.OpCacheReplace:           onCache(replace),
	protocol.OpCacheReplaceIfEquals:   onCache(replaceIfEquals),
	protocol.OpCacheContainsKey:       onCache(containsKey),
	protocol.OpCacheContainsKeys:      onCache(containsKeys),
	protocol.OpCacheClear:             onCache(clearAll),
	protocol.OpCacheClearKey:          onCache(removeOne(false)),
	protocol.OpCacheClearKeys:         onCache(removeMany),
	protocol.OpCacheRemoveKey:         onCache(removeOne(true)),
	protocol.OpCacheRemoveIfEquals:    onCache(removeIfEquals),
	protocol.OpCacheRemoveKeys:        onCache(removeMany),
	protocol.OpCacheRemoveAll:         onCache(clearAll),
	protocol.OpCacheGetSize:           onCache(getSize),

	protocol.OpCacheGetNames:                     getNames,
	protocol.OpCacheCreateWithName:               createWithName(true),
	protocol.OpCacheGetOrCreateWithName:          createWithName(false),
	protocol.OpCacheCreateWithConfiguration:      createWithConfiguration(true),
	protocol.OpCacheGetOrCreateWithConfiguration: createWithConfiguration(false),
	protocol.OpCacheGetConfiguration:             onCache(getConfiguration),
	protocol.OpCacheDestroy:                      destroy,
}

// onCache resolves the cache id and flags that start every cache payload.
func onCache(fn cacheHandler) opHandler {
	return func(s *Server, r *codec.Reader, w *codec.Writer) error {
		id, err := r.ReadInt32()
		if err != nil {
			return err
		}
		if _, err := r.ReadInt8(); err != nil { // flags
			return err
		}
		c, err := s.store.lookup(id)
		if err != nil {
			return err
		}
		return fn(c, r, w)
	}
}

// readKey returns a copy of the next serialized object, which may be kept.
func readKey(r *codec.Reader) ([]byte, error) {
	raw, err := r.SkipObject()
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), raw...), nil
}

// readValue is readKey for values, which must not be NULL.
func readValue(r *codec.Reader) ([]byte, error) {
	raw, err := readKey(r)
	if err != nil {
		return nil, err
	}
	if len(raw) == 1 && binarytype.TypeCode(raw[0]) == binarytype.Null {
		return nil, &statusError{status: protocol.StatusFailed, msg: "cache values must not be null"}
	}
	return raw, nil
}

func readKeyValue(r *codec.Reader) ([]byte, []byte, error) {
	key, err := readKey(r)
	if err != nil {
		return nil, nil, err
	}
	value, err := readValue(r)
	if err != nil {
		return nil, nil, err
	}
	return key, value, nil
}

func readKeys(r *codec.Reader) ([][]byte, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 || int(n) > r.Remaining() {
		return nil, fmt.Errorf("%w: key count %d", codec.ErrInvalidLength, n)
	}
	keys := make([][]byte, n)
	for i := range keys {
		if keys[i], err = readKey(r); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// writeValue writes a stored value, or NULL when there is none.
func writeValue(w *codec.Writer, v []byte, ok bool) {
	if !ok {
		w.WriteNull()
		return
	}
	w.WriteRaw(v)
}

func get(c *cache, r *codec.Reader, w *codec.Writer) error {
	key, err := readKey(r)
	if err != nil {
		return err
	}
	v, ok := c.get(key)
	writeValue(w, v, ok)
	return nil
}

func put(c *cache, r *codec.Reader, w *codec.Writer) error {
	key, value, err := readKeyValue(r)
	if err != nil {
		return err
	}
	c.update(func(entries map[string][]byte) { entries[string(key)] = value })
	return nil
}

func putIfAbsent(c *cache, r *codec.Reader, w *codec.Writer) error {
	key, value, err := readKeyValue(r)
	if err != nil {
		return err
	}
	var stored bool
	c.update(func(entries map[string][]byte) {
		if _, ok := entries[string(key)]; !ok {
			entries[string(key)] = value
			stored = true
		}
	})
	w.WriteBool(stored)
	return nil
}

func getAll(c *cache, r *codec.Reader, w *codec.Writer) error {
	keys, err := readKeys(r)
	if err != nil {
		return err
	}
	countAt := w.Len()
	w.WriteInt32(0)
	var found int32
	for _, key := range keys {
		if v, ok := c.get(key); ok {
			w.WriteRaw(key)
			w.WriteRaw(v)
			found++
		}
	}
	w.PutInt32At(countAt, found)
	return nil
}

func putAll(c *cache, r *codec.Reader, w *codec.Writer) error {
	n, err := r.ReadInt32()
	if err != nil {
		return err
	}
	if n < 0 || int(n) > r.Remaining() {
		return fmt.Errorf("%w: entry count %d", codec.ErrInvalidLength, n)
	}
	keys := make([][]byte, n)
	values := make([][]byte, n)
	for i := range keys {
		if keys[i], values[i], err = readKeyValue(r); err != nil {
			return err
		}
	}
	c.update(func(entries map[string][]byte) {
		for i, key := range keys {
			entries[string(key)] = values[i]
		}
	})
	return nil
}

func getAndPut(c *cache, r *codec.Reader, w *codec.Writer) error {
	key, value, err := readKeyValue(r)
	if err != nil {
		return err
	}
	c.update(func(entries map[string][]byte) {
		old, ok := entries[string(key)]
		entries[string(key)] = value
		writeValue(w, old, ok)
	})
	return nil
}

func getAndReplace(c *cache, r *codec.Reader, w *codec.Writer) error {
	key, value, err := readKeyValue(r)
	if err != nil {
		return err
	}
	c.update(func(entries map[string][]byte) {
		old, ok := entries[string(key)]
		if ok {
			entries[string(key)] = value
		}
		writeValue(w, old, ok)
	})
	return nil
}

func getAndRemove(c *cache, r *codec.Reader, w *codec.Writer) error {
	key, err := readKey(r)
	if err != nil {
		return err
	}
	c.update(func(entries map[string][]byte) {
		old, ok := entries[string(key)]
		delete(entries, string(key))
		writeValue(w, old, ok)
	})
	return nil
}

func getAndPutIfAbsent(c *cache, r *codec.Reader, w *codec.Writer) error {
	key, value, err := readKeyValue(r)
	if err != nil {
		return err
	}
	c.update(func(entries map[string][]byte) {
		old, ok := entries[string(key)]
		if !ok {
			entries[string(key)] = value
		}
		writeValue(w, old, ok)
	})
	return nil
}

func replace(c *cache, r *codec.Reader, w *codec.Writer) error {
	key, value, err := readKeyValue(r)
	if err != nil {
		return err
	}
	var replaced bool
	c.update(func(entries map[string][]byte) {
		if _, ok := entries[string(key)]; ok {
			entries[string(key)] = value
			replaced = true
		}
	})
	w.WriteBool(replaced)
	return nil
}

func replaceIfEquals(c *cache, r *codec.Reader, w *codec.Writer) error {
	key, expected, err := readKeyValue(r)
	if err != nil {
		return err
	}
	value, err := readValue(r)
	if err != nil {
		return err
	}
	var replaced bool
	c.update(func(entries map[string][]byte) {
		if old, ok := entries[string(key)]; ok && bytes.Equal(old, expected) {
			entries[string(key)] = value
			replaced = true
		}
	})
	w.WriteBool(replaced)
	return nil
}

func containsKey(c *cache, r *codec.Reader, w *codec.Writer) error {
	key, err := readKey(r)
	if err != nil {
		return err
	}
	_, ok := c.get(key)
	w.WriteBool(ok)
	return nil
}

func containsKeys(c *cache, r *codec.Reader, w *codec.Writer) error {
	keys, err := readKeys(r)
	if err != nil {
		return err
	}
	all := true
	for _, key := range keys {
		if _, ok := c.get(key); !ok {
			all = false
			break
		}
	}
	w.WriteBool(all)
	return nil
}

func clearAll(c *cache, r *codec.Reader, w *codec.Writer) error {
	c.update(func(entries map[string][]byte) { clear(entries) })
	return nil
}

// removeOne serves removeKey, which reports whether the key existed, and clearKey,
// which does not.
func removeOne(report bool) cacheHandler {
	return func(c *cache, r *codec.Reader, w *codec.Writer) error {
		key, err := readKey(r)
		if err != nil {
			return err
		}
		var existed bool
		c.update(func(entries map[string][]byte) {
			_, existed = entries[string(key)]
			delete(entries, string(key))
		})
		if report {
			w.WriteBool(existed)
		}
		return nil
	}
}

func removeMany(c *cache, r *codec.Reader, w *codec.Writer) error {
	keys, err := readKeys(r)
	if err != nil {
		return err
	}
	c.update(func(entries map[string][]byte) {
		for _, key := range keys {
			delete(entries, string(key))
		}
	})
	return nil
}

func removeIfEquals(c *cache, r *codec.Reader, w *codec.Writer) error {
	key, expected, err := readKeyValue(r)
	if err != nil {
		return err
	}
	var removed bool
	c.update(func(entries map[string][]byte) {
		if old, ok := entries[string(key)]; ok && bytes.Equal(old, expected) {
			delete(entries, string(key))
			removed = true
		}
	})
	w.WriteBool(removed)
	return nil
}

// Peek modes of getSize.
const (
	peekAll     int8 = 0
	peekNear    int8 = 1
	peekPrimary int8 = 2
	peekBackup  int8 = 3
)

// getSize counts entries. A single node holds every entry as primary and keeps no
// backup or near copies.
func getSize(c *cache, r *codec.Reader, w *codec.Writer) error {
	n, err := r.ReadInt32()
	if err != nil {
		return err
	}
	counted := n == 0
	for i := int32(0); i < n; i++ {
		mode, err := r.ReadInt8()
		if err != nil {
			return err
		}
		switch mode {
		case peekAll, peekPrimary:
			counted = true
		case peekNear, peekBackup:
		default:
			return &statusError{status: protocol.StatusFailed, msg: fmt.Sprintf("unknown peek mode %d", mode)}
		}
	}
	var size int64
	if counted {
		size = int64(c.size())
	}
	w.WriteInt64(size)
	return nil
}

func getConfiguration(c *cache, r *codec.Reader, w *codec.Writer) error {
	c.cfg.WriteFull(w)
	return nil
}

func getNames(s *Server, r *codec.Reader, w *codec.Writer) error {
	names := s.store.names()
	w.WriteInt32(int32(len(names)))
	for _, name := range names {
		w.WriteStringObject(name)
	}
	return nil
}

func createWithName(mustNotExist bool) opHandler {
	return func(s *Server, r *codec.Reader, w *codec.Writer) error {
		name, err := r.ReadStringObject()
		if err != nil {
			return err
		}
		return s.store.create(cacheconfig.New().SetName(name), mustNotExist)
	}
}

func createWithConfiguration(mustNotExist bool) opHandler {
	return func(s *Server, r *codec.Reader, w *codec.Writer) error {
		cfg, err := cacheconfig.ReadCreate(r)
		if err != nil {
			return err
		}
		return s.store.create(cfg, mustNotExist)
	}
}

func destroy(s *Server, r *codec.Reader, w *codec.Writer) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	return s.store.destroy(id)
}
