package tree

import (
	"fmt"
	"math"
)

// --------------------------------------------------------------------------
// Log sequence numbers
// --------------------------------------------------------------------------

// LSN is the address of a log entry: file number in the high 32 bits,
// offset within the file in the low 32 bits.
type LSN uint64

// NullLSN marks a slot or root that has never been logged.
const NullLSN LSN = math.MaxUint64

// MakeLSN builds an LSN from a file number and offset
func MakeLSN(file, offset uint32) LSN {
	return LSN(uint64(file)<<32 | uint64(offset))
}

// File returns the file number part of the LSN
func (l LSN) File() uint32 {
	return uint32(l >> 32)
}

// Offset returns the offset part of the LSN
func (l LSN) Offset() uint32 {
	return uint32(l)
}

func (l LSN) String() string {
	if l == NullLSN {
		return "<null>"
	}
	return fmt.Sprintf("0x%x/0x%x", l.File(), l.Offset())
}

// --------------------------------------------------------------------------
// Levels
// --------------------------------------------------------------------------

const (
	// LevelMask extracts the height of a node above the leaves
	LevelMask int32 = 0x0ffff
	// MainLevel is the level prefix of user database trees
	MainLevel int32 = 0x10000
	// DBMapLevel is the level prefix of the mapping tree
	DBMapLevel int32 = 0x20000
	// BINLevel is the level of a bottom internal node of a user database
	BINLevel = MainLevel | 1
)

// --------------------------------------------------------------------------
// Node kinds
// --------------------------------------------------------------------------

// Kind distinguishes internal nodes from bottom internal nodes
type Kind uint8

const (
	KindIN Kind = iota
	KindBIN
)

// String returns the log entry type name of the kind
func (k Kind) String() string {
	switch k {
	case KindIN:
		return "IN"
	case KindBIN:
		return "BIN"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Eviction classification
// --------------------------------------------------------------------------

// EvictionType classifies how much of a node may be evicted.
type EvictionType uint8

const (
	// MayNotEvict nodes are never selected
	MayNotEvict EvictionType = iota
	// MayEvictLNs nodes hold resident leaves that may be stripped
	MayEvictLNs
	// MayEvictNode nodes may be detached from their parent as a whole
	MayEvictNode
)

func (e EvictionType) String() string {
	switch e {
	case MayNotEvict:
		return "may-not-evict"
	case MayEvictLNs:
		return "may-evict-lns"
	case MayEvictNode:
		return "may-evict-node"
	default:
		return "unknown"
	}
}
