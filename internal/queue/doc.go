// Package queue persists the processing pipeline state in PostgreSQL.
//
// Items move pending -> processing -> moved -> emby_pending -> completed.
// Any non-terminal stage can transition to error; errored items with retry
// budget left are re-promoted by the retry worker. Claiming uses
// FOR UPDATE SKIP LOCKED so concurrent workers (and concurrent daemon
// instances sharing one database) never hand out the same item twice.
package queue
