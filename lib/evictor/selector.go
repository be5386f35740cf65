package evictor

import (
	"github.com/ValentinKolb/btcache/lib/tree"
	"github.com/ansel1/merry"
)

// ErrUnexpectedNode is returned when a resident node belongs to a database
// whose deletion has completed. It is not retried.
var ErrUnexpectedNode = merry.New("unexpected node in cache")

// SelectStats counts the work of one selectVictim call
type SelectStats struct {
	// Iterated is the number of nodes taken from the scanner
	Iterated int
	// Considered is the number of eligible nodes compared
	Considered int
}

// selectVictim scans at most maxIterate nodes and compares up to
// nodesPerScan eligible ones. It returns the best victim, or nil if the
// window held no eligible node. The scanner is allowed to wrap around once.
func (e *Evictor) selectVictim(maxIterate, nodesPerScan int) (*tree.Node, *Tenant, SelectStats, error) {
	var st SelectStats
	if maxIterate <= 0 {
		return nil, nil, st, nil
	}

	var (
		target       *tree.Node
		targetTenant *Tenant
		targetLevel  int32
		targetDirty  bool
		targetGen    uint64
		wrapped      bool
	)

	for st.Considered < nodesPerScan && st.Iterated < maxIterate {
		n, tenant := e.scanner.NextCandidate()
		if n == nil {
			if wrapped {
				break
			}
			wrapped = true
			continue
		}
		st.Iterated++

		// removed from the registry after the scanner yielded it
		if !n.IsResident() {
			continue
		}
		db := n.Database()
		if db == nil || db.IsDeleteFinished() {
			return nil, nil, st, unexpectedNode(n, db)
		}
		if db.IsDeleted() {
			continue
		}

		// a read-only env dirties nodes during recovery, only take a dirty
		// node if nothing else was found
		dirty := n.IsDirty()
		if tenant.ReadOnly && dirty && target != nil {
			continue
		}

		evictType := n.EvictionType()
		if evictType == tree.MayNotEvict {
			continue
		}

		gen := n.Generation()
		if e.config.LRUOnly {
			if target == nil || gen < targetGen {
				target, targetTenant, targetGen = n, tenant, gen
			}
		} else {
			level := normalizeLevel(n, evictType)
			switch {
			case target == nil:
				target, targetTenant = n, tenant
				targetLevel, targetDirty, targetGen = level, dirty, gen
			case targetLevel != level:
				if targetLevel > level {
					target, targetTenant = n, tenant
					targetLevel, targetDirty, targetGen = level, dirty, gen
				}
			case targetDirty != dirty:
				if targetDirty {
					target, targetTenant = n, tenant
					targetDirty, targetGen = dirty, gen
				}
			case targetGen > gen:
				target, targetTenant, targetGen = n, tenant, gen
			}
		}
		st.Considered++
	}

	return target, targetTenant, st, nil
}

// normalizeLevel strips the tree prefix from the level. A BIN that only
// holds strippable leaves counts as level 0 so it is preferred over other
// bottom nodes.
func normalizeLevel(n *tree.Node, evictType tree.EvictionType) int32 {
	level := n.Level() & tree.LevelMask
	if level == 1 && evictType == tree.MayEvictLNs {
		level = 0
	}
	return level
}

func unexpectedNode(n *tree.Node, db *tree.Database) error {
	err := merry.Wrap(ErrUnexpectedNode).
		WithValue("node", n.ID()).
		WithValue("type", n.Kind().String())
	if db == nil {
		return err.Append("node has no database")
	}
	return err.
		WithValue("database", db.Name()).
		WithValue("databaseID", db.ID()).
		WithValue("rootLSN", db.Tree().RootLSN().String()).
		Appendf("node %d of deleted database %s is still resident", n.ID(), db.Name())
}
