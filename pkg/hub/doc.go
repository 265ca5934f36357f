// Package hub fans lifecycle events out to dashboard subscribers.
//
// Every published event gets a sequence number and is queued for each
// attached subscriber under one lock. A per-subscriber writer goroutine
// drains the queue and interleaves heartbeats. Subscribers that cannot keep
// up are detached instead of silently missing events, so an attached
// subscriber never sees a gap in seq.
package hub
