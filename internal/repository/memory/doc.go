// Package memory is an in-process implementation of the newsletter stores.
//
// It mirrors the locking behaviour of the Postgres implementation closely
// enough to run the concurrency tests against: an idempotency key
// inserted by an open transaction blocks other inserts of the same key until
// that transaction ends, and a claimed delivery task is skipped by other
// dequeuers until it is completed or released. Nothing survives a restart.
package memory
