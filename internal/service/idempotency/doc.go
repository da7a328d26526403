// Package idempotency implements the request de-duplication ledger.
//
// A ledger row is keyed by (user id, idempotency key) and is either the
// "processing" sentinel or a saved HTTP response. The first writer inserts
// the sentinel inside its business transaction and overwrites it with the
// response before committing; every later request with the same key gets
// the saved response back. Storage implementations serialize concurrent
// first writers on the row itself (a unique index in Postgres), so a
// duplicate that arrives mid-flight waits for the owner to finish.
//
// Storage implementations live in repository/postgres/ and repository/memory/.
package idempotency
