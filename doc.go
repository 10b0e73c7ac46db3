// Package datasource implements a two-tier caching data source over a
// document store, built for resolver layers that issue many small
// fetch-by-id calls per request.
//
// Tiers:
//   - Loader: request-scoped; coalesces concurrent lookups for one id into
//     a single batched store fetch and memoizes each outcome until the
//     data source is discarded at end of request.
//   - Provider: shared across requests; a byte store with per-entry TTL
//     (e.g. Ristretto, Redis, BigCache) holding codec-encoded documents
//     under "<prefix><collection>:<id>" keys.
//
// Read flow: FindOneByID checks the provider first (a hit decodes and
// returns without touching the loader) and on miss delegates to the
// loader, then writes the fetched document back with a TTL. Writes go to
// the store directly and call Prime or DeleteFromCacheByID to keep both
// tiers consistent.
//
// Construct one DataSource per incoming request, injecting the shared
// provider; the loader inside is never reused across requests.
package datasource
