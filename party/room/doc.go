// Package room implements the watch-party room state machine and the
// process-wide room registry.
//
// A Room tracks the members of one party, their readiness to start
// playback, the currently active video, and the viewing history. Rooms
// are created lazily when the first member joins and are removed from
// the registry the moment the last member leaves; an empty room never
// survives in the registry.
//
// Every mutation of a room happens under that room's mutex, so
// concurrent connection goroutines cannot interleave a read-then-decide
// sequence such as the video idempotence check. The one suspension
// point, the metadata resolution during a video change, deliberately
// runs outside the lock and re-validates the idempotence condition
// before committing.
package room
