/*
Package evictor keeps the resident tree nodes of a cache within its memory
budget.

# Overview

An Evictor runs in passes. A pass asks the budget how many bytes have to be
freed and then runs batches until that many bytes are gone, no progress is
made, or a fixed number of batches has run. A batch walks the node registry
once: it repeatedly selects a victim from a small window of nodes and
evicts it.

Victims are chosen by an approximate policy. With the level policy (the
default) the selector prefers the lowest tree level, then clean over dirty
nodes, then the oldest generation. BINs that only hold leaves count as
level 0 so their leaves are stripped before any internal node goes. With
the LRU policy only the generation counts.

# Eviction

A BIN victim is first compressed and stripped of its resident leaves. Only a
victim that had nothing to strip is detached from its parent, so a node is
never stripped and detached in the same attempt. Dirty nodes are written to
the log before they are detached, provisionally when the database is in
deferred-write mode or a checkpoint has already flushed past the level of
the node. The root of a tree is evicted under the root latch of the tree.

All latches are tracked by a latchGuard and released before any eviction
call returns, whether it succeeded, found a stale victim or failed on a log
write.

# Concurrency

Passes are started by the daemon goroutine (Start, AlertIfNeeded) or inline
by writers that find the cache critically over budget (DoCriticalEviction).
Only one pass runs at a time: a caller that finds a pass active returns
immediately.

# Shared caches

An Evictor created with NewShared serves several environments that share
one budget. Its scanner interleaves the registries of all tenants with a
smooth weighted round robin. The weight of a tenant grows with its usage
beyond an even split of the cache, recomputed at the start of every batch.
*/
package evictor
