/*
Package wal provides an in-memory write-ahead log and checkpoint state for
btcache environments.

MemLog assigns LSNs the way a file based log does: records are appended to
numbered files at increasing offsets, and a new file is started once the
current one reaches its size limit. Every record carries an xxhash
checksum that is verified when the record is read back, so a node or leaf
faulted in after eviction is known to be the one that was written.

The log also implements the mapping tree hook used after a root eviction
(ModifyDbRoot) and records the options of every node write, which tests use
to check how the evictor logged a node.

Checkpoint holds the highest level flushed by a running checkpoint per
database. The evictor logs nodes below that level provisionally.
*/
package wal
