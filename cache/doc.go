// Package cache provides a capacity-bounded key/value store with pluggable
// eviction (LRU, LFU, FIFO) and TTL expiry.
//
// Expiry is enforced twice: lazily on read (an expired entry is a miss and is
// removed on the spot) and proactively by a periodic sweeper owned by the
// store. Both paths share the same locked removal code, so a sweep can never
// race an in-flight Set on the same key.
//
// A miss is a normal outcome, not an error.
package cache
