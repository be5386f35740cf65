// Package tree implements the latch-coupled B-tree whose in-memory nodes are
// managed by the evictor.
//
// The tree is made of internal nodes (IN) and bottom internal nodes (BIN).
// INs reference child nodes, BINs reference leaf values. Every slot holds
// the log address (LSN) of its target and, while the target is resident,
// a direct in-memory reference. Evicting a target clears the reference and
// keeps the LSN, so the target can be faulted back in from the log.
//
// Levels follow the classic encoding: the high bits identify the tree
// (MainLevel for user databases, DBMapLevel for the mapping tree) and the
// low 16 bits (LevelMask) hold the height above the leaves. A BIN is at
// level MainLevel|1.
//
// Besides the write path (Insert, Get, Delete, Sync) the package exposes
// the narrow structural hooks the evictor needs:
//
//   - Tree.FindParent: locate and latch the parent of a node
//   - Tree.Compress: drop known-deleted slots of a BIN without fetching
//   - Tree.WithRootLatchedExclusive: run a callback with the root latched
//   - Node.EvictLeaves / Node.DetachChild / Node.UpdateEntry
//
// Thread-safety:
//
//	All slot level data of a Node is guarded by the node latch. Generation,
//	dirty flag, residency, cursor count and the budgeted size are atomics
//	so the evictor can classify nodes without latching them. The root
//	reference of a Tree is guarded by the root latch. Latches are always
//	acquired top-down (root latch, parent, child).
package tree
