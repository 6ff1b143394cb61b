// Package journal records routed relay traffic to PostgreSQL.
//
// The relay calls Writer.Record for every routed command envelope. Entries
// are queued in memory and batch-inserted by a background flush loop. The
// journal is write-only history: the relay never reads it back.
package journal
