// Package storage persists registered domains, the certificate last observed
// for each, and the notifier's dedup state.
//
// The only backend is SQLite (modernc.org/sqlite, no cgo). Driver "none"
// runs without a store.
package storage
