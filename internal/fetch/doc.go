// Package fetch coordinates remote page downloads in front of the disk cache.
//
// Coalescer guarantees at most one in-flight remote fetch per cache key: the
// first caller for a cold key starts the fetch, later callers join it and all
// observe the same bytes or the same error. Successful results are persisted
// through the cache before being handed back, but a failed write never fails
// the request itself.
//
// Cancellation follows a last-cancel-aborts policy. A caller whose context
// ends stops waiting immediately, while the shared fetch keeps running for the
// remaining joiners; only when every joiner has gone is the shared fetch
// context cancelled and the key released for a fresh attempt.
//
// Preloader drives the same pipeline ahead of navigation for a small window of
// neighbouring pages and discards the results.
package fetch
