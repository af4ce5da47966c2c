package cache

import (
	"strconv"
	"strings"
	"time"
)

const defaultVersionedTTL = time.Hour

// VersionedCache stores one value per entity version, for example a QC
// pipeline built from a parameter as of its modified_at. Storing a new
// version evicts every older version of the same entity.
type VersionedCache[V any] struct {
	items Cache[string, V]
	ttl   time.Duration
}

func NewVersionedCache[V any](ttl time.Duration) *VersionedCache[V] {
	return NewVersionedCacheWith[V](NewTTLCache[string, V](), ttl)
}

func NewVersionedCacheWith[V any](items Cache[string, V], ttl time.Duration) *VersionedCache[V] {
	if ttl <= 0 {
		ttl = defaultVersionedTTL
	}
	return &VersionedCache[V]{items: items, ttl: ttl}
}

func (c *VersionedCache[V]) Get(id int64, version time.Time) (V, bool) {
	return c.items.Get(VersionKey(id, version))
}

func (c *VersionedCache[V]) Set(id int64, version time.Time, value V) {
	key := VersionKey(id, version)
	prefix := entityPrefix(id)
	c.items.DeleteFunc(func(k string) bool {
		return k != key && strings.HasPrefix(k, prefix)
	})
	c.items.Set(key, value, c.ttl)
}

// GetOrBuild returns the cached value or builds, stores and returns a new one.
func (c *VersionedCache[V]) GetOrBuild(id int64, version time.Time, build func() (V, error)) (V, error) {
	if value, ok := c.Get(id, version); ok {
		return value, nil
	}
	value, err := build()
	if err != nil {
		return value, err
	}
	c.Set(id, version, value)
	return value, nil
}

func (c *VersionedCache[V]) Len() int {
	return c.items.Len()
}

// VersionKey renders "<id>:<version unix nanos>".
func VersionKey(id int64, version time.Time) string {
	return entityPrefix(id) + strconv.FormatInt(version.UTC().UnixNano(), 10)
}

func entityPrefix(id int64) string {
	return strconv.FormatInt(id, 10) + ":"
}
