// Package httputil provides shared HTTP response helpers for handlers.
//
// Handlers use these instead of raw http.ResponseWriter calls so error
// bodies share one JSON shape and internal errors are logged in one place.
package httputil
