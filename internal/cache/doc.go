// Package cache implements the disk-backed page store: blobs addressed by
// (scope, item) keys live under StoragePath/<library>/<scope>/<item>, written
// with temp file + rename so readers never observe partial pages. A Ledger
// tracks aggregate size/count so stores avoid a full directory walk, and a
// background cleanup evicts the least recently accessed pages once the
// configured byte budget is approached. Fetch pipelines (package fetch)
// depend on the Has/Read/Store surface only.
package cache
