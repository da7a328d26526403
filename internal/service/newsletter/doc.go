// Package newsletter implements publishing a newsletter issue.
//
// Publishing is a single transaction that claims the request's idempotency
// key, stores the issue, enqueues one delivery task per confirmed subscriber
// and saves the HTTP response the caller will see. Delivery itself happens
// later, in internal/worker, by draining the queue. The service depends on
// repository interfaces defined in this package and never imports api/.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package newsletter
