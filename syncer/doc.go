// Package syncer drives bulk history backfill and incremental pagination
// on top of the relay manager's one-shot fetch primitive. It pages
// backwards through stored gift-wraps with a moving until cursor, feeds
// each batch to the envelope pipeline, and stops early at a checkpoint
// batch whose every event is already known locally.
package syncer
