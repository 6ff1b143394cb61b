// Package database provides PostgreSQL connection pool management.
//
// The relay uses a single pool for its optional traffic journal. The pool is
// never consulted to rebuild channel membership; it only stores history.
package database
