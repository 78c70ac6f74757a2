// Package responsecache persists backend responses so a harvest can be
// resumed, or re-run offline, without hitting the backend again.
//
// It supports:
//   - sqlite (default; modernc.org/sqlite, no cgo)
//   - postgres (pgx)
//   - redis
//   - memory (tests and dry runs)
//
// Payloads are zlib-compressed before they reach a backend. All access goes
// through a single owner goroutine (see Cache), so backends never see
// concurrent calls.
package responsecache
