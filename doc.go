// Package tagcache serves derived, expensive-to-compute content from a cache
// and keeps it correct when the underlying entities change out of band.
//
// Components:
//   - Provider: byte store with TTL (LRU, Ristretto, BigCache, Redis).
//   - Codec[V]: (de)serializes V <-> []byte.
//   - tagindex.Index: entity tag <-> cache key associations.
//   - genstore.GenStore: per-key staleness generation. Marking an entry stale
//     bumps its generation; the stored value is left alone.
//
// Reads go through Fetch, which implements stale-while-revalidate:
//
//	Missing        -> compute (single-flight), store, return   (blocks)
//	Fresh          -> return
//	Stale          -> return now, refresh once in the background
//
// A stale entry that outlived the stale window of its revalidation profile
// is treated as Missing.
//
// Invalidation:
//
//	keys, _ := cache.InvalidateTag(ctx, entryID, "max") // every key tagged entryID is now stale
package tagcache
