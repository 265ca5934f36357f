// Package session supervises per-tenant chat-engine connections.
//
// Invariants:
// - Every session id is owned by one actor goroutine; transitions, timer
//   firings and engine events for an id never interleave.
// - At most one live engine handle exists per id.
// - Engine events and timers carry the generation they were armed for and
//   are ignored once that generation is superseded.
// - Logout and Delete cancel owned timers before the transition completes.
//
// Usage:
//
//	mgr, _ := session.NewManager(session.Config{
//		Factory:  factory,
//		Resolver: resolver,
//		Auth:     session.NewDirAuthStore("/var/lib/wagateway/auth"),
//		Events:   hub,
//	})
//	snap, _ := mgr.Create(ctx, "tenant-1")
//	_ = snap.State // connecting
package session
