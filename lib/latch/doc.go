// Package latch provides the exclusive node latches used by the tree and
// the evictor.
//
// Go has no notion of a thread identity, so every latch acquisition names
// an Owner. An Owner counts the latches it currently holds, which lets
// callers (and tests) assert that a unit of work left no latch behind.
//
// Thread-safety:
//
//	Latch is safe for concurrent use. An Owner must only be used by one
//	goroutine at a time, the same way a thread owns its latches.
package latch
