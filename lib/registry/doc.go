/*
Package registry holds the set of tree nodes that are resident in a cache.

The registry is an ordered set keyed by node id, stored in a google/btree.
The evictor scans it with a Cursor that remembers the id of the last node it
returned, so a scan continues where the previous batch stopped. Removing a
node that a cursor already returned, or has yet to return, is always safe:
the cursor never holds a reference into the tree, it re-seeks on every call.

Membership is mirrored in the resident flag of the node itself so the
evictor can check it without taking the registry lock.

Thread-safety: all methods are safe for concurrent use. A Cursor must only
be used by one goroutine at a time.
*/
package registry
