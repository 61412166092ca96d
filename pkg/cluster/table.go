package cluster

import (
	"sort"
	"sync"
)

// NodeId identifies a cluster node by its announced "endpoint:port" address.
type NodeId string

// Shard is a cluster node's responsibility for a contiguous slot range.
type Shard struct {
	NodeId NodeId
	Low    HashSlot // inclusive
	High   HashSlot // inclusive
}

func (s Shard) contains(slot HashSlot) bool {
	return slot >= s.Low && slot <= s.High
}

// Table is a routing table: a sorted list of (ClosedRange<slot>, Shard),
// looked up by binary search on slot. Safe for concurrent reads and
// updates; updates happen off the hot path, on MOVED/ASK redirection or a
// periodic topology refresh.
type Table struct {
	mu     sync.RWMutex
	shards []Shard // sorted by Low
}

// NewTable builds a routing table from an unordered shard list.
func NewTable(shards []Shard) *Table {
	t := &Table{}
	t.Replace(shards)
	return t
}

// Replace atomically swaps the entire routing table, sorting by Low.
func (t *Table) Replace(shards []Shard) {
	sorted := make([]Shard, len(shards))
	copy(sorted, shards)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Low < sorted[j].Low })
	t.mu.Lock()
	t.shards = sorted
	t.mu.Unlock()
}

// Lookup returns the shard owning slot, or false if no shard covers it.
func (t *Table) Lookup(slot HashSlot) (Shard, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	shards := t.shards
	i := sort.Search(len(shards), func(i int) bool { return shards[i].High >= slot })
	if i < len(shards) && shards[i].contains(slot) {
		return shards[i], true
	}
	return Shard{}, false
}

// NodeFor is a convenience wrapper combining KeySlot and Lookup.
func (t *Table) NodeFor(key []byte) (NodeId, bool) {
	shard, ok := t.Lookup(KeySlot(key))
	if !ok {
		return "", false
	}
	return shard.NodeId, true
}

// ApplyMoved updates the single-slot ownership named by a MOVED redirect.
// A covering one-slot shard is reassigned to nodeId; a wider covering shard
// is split so the slot becomes its own one-slot shard owned by nodeId (even
// when the covering shard already belongs to nodeId); an uncovered slot
// gets a new one-slot shard. Real topologies move whole slot ranges, but the
// redirect line only tells us about the one slot that triggered it; the
// resulting table stays correct for subsequent lookups of that slot and is
// reconciled on the next full refresh.
func (t *Table) ApplyMoved(slot HashSlot, nodeId NodeId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.shards {
		if s.contains(slot) {
			if s.Low == s.High {
				t.shards[i].NodeId = nodeId
				return
			}
			// Split the covering range so only the moved slot changes
			// ownership.
			remaining := make([]Shard, 0, len(t.shards)+2)
			remaining = append(remaining, t.shards[:i]...)
			if slot > s.Low {
				remaining = append(remaining, Shard{NodeId: s.NodeId, Low: s.Low, High: slot - 1})
			}
			remaining = append(remaining, Shard{NodeId: nodeId, Low: slot, High: slot})
			if slot < s.High {
				remaining = append(remaining, Shard{NodeId: s.NodeId, Low: slot + 1, High: s.High})
			}
			remaining = append(remaining, t.shards[i+1:]...)
			t.shards = remaining
			return
		}
	}
	t.shards = append(t.shards, Shard{NodeId: nodeId, Low: slot, High: slot})
	sort.Slice(t.shards, func(i, j int) bool { return t.shards[i].Low < t.shards[j].Low })
}
