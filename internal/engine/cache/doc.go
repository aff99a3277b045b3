// Package cache provides a read-through cache for EPSS lookups with pluggable storage backends.
//
// The package avoids redundant calls to the scoring API for identical or overlapping
// queries. Key features:
//   - Deterministic SHA256-based cache keys built from canonicalized query parameters
//   - A five-operation Backend contract with file, Redis, SQL and in-memory implementations
//   - Lazy TTL freshness checks performed by the Coordinator, independent of the backend
//   - Thread-safe hit/miss/eviction statistics, exportable as Prometheus metrics
//
// Backends never enforce TTL on read. The Coordinator decides freshness from the entry's
// stored timestamp and TTL, so expiry behaves the same on every backend. Backend failures
// degrade to a cache miss and never fail a lookup.
package cache
