// Package kolog is a structured logging library with queue-based
// asynchronous dispatch.
//
// Producers hand event payloads to an immutable, context-carrying Logger.
// The Logger runs its processor chain and forwards the record to a Manager,
// either synchronously (the record is pushed straight to its handlers under
// a dedicated lock) or through a bounded in-memory queue consumed by a
// single background worker. When the queue is full one of three
// backpressure policies applies: drop the new record, block until space
// frees, or drop the oldest queued record.
//
// Records are routed to handlers hierarchically by logger name: an exact
// match wins, then each dot-separated parent, then "root", and with no
// match at all the record is silently discarded. Each handler owns a
// renderer and its own processor chain, and writes to a destination (file,
// rotating file, stream, or nothing).
//
// Shutdown drains the queue, stops the worker within a configured timeout
// and closes every handler. A Manager can be started again afterwards.
package kolog
