package core

import (
	"math/big"

	"github.com/stablis/stablis-contracts/crypto"
)

// SortedRatioIndex keeps per-asset position owners ordered by descending
// nominal collateral ratio. The head is the safest position, the tail the
// riskiest. Hints point at the expected neighbors and degrade to a scan
// from the head when stale.
type SortedRatioIndex struct {
	lists map[string]*ratioList
}

type ratioList struct {
	nodes map[string]*ratioNode
	head  *ratioNode
	tail  *ratioNode
}

type ratioNode struct {
	owner crypto.Address
	ratio *big.Int
	prev  *ratioNode
	next  *ratioNode
}

func NewSortedRatioIndex() *SortedRatioIndex {
	return &SortedRatioIndex{lists: make(map[string]*ratioList)}
}

// Reset drops every list so the index can be rebuilt from stored positions.
func (i *SortedRatioIndex) Reset() {
	i.lists = make(map[string]*ratioList)
}

func (i *SortedRatioIndex) list(asset string) *ratioList {
	l, ok := i.lists[asset]
	if !ok {
		l = &ratioList{nodes: make(map[string]*ratioNode)}
		i.lists[asset] = l
	}
	return l
}

func (i *SortedRatioIndex) First(asset string) (crypto.Address, bool) {
	l := i.list(asset)
	if l.head == nil {
		return crypto.Address{}, false
	}
	return l.head.owner, true
}

func (i *SortedRatioIndex) Last(asset string) (crypto.Address, bool) {
	l := i.list(asset)
	if l.tail == nil {
		return crypto.Address{}, false
	}
	return l.tail.owner, true
}

func (i *SortedRatioIndex) Next(asset string, owner crypto.Address) (crypto.Address, bool) {
	node := i.list(asset).nodes[owner.Key()]
	if node == nil || node.next == nil {
		return crypto.Address{}, false
	}
	return node.next.owner, true
}

func (i *SortedRatioIndex) Prev(asset string, owner crypto.Address) (crypto.Address, bool) {
	node := i.list(asset).nodes[owner.Key()]
	if node == nil || node.prev == nil {
		return crypto.Address{}, false
	}
	return node.prev.owner, true
}

func (i *SortedRatioIndex) Contains(asset string, owner crypto.Address) bool {
	return i.list(asset).nodes[owner.Key()] != nil
}

func (i *SortedRatioIndex) Size(asset string) int {
	return len(i.list(asset).nodes)
}

// Insert places the owner at its ratio-ordered spot. An owner already
// present is repositioned.
func (i *SortedRatioIndex) Insert(asset string, owner crypto.Address, ratio *big.Int, prevHint, nextHint crypto.Address) {
	l := i.list(asset)
	if l.nodes[owner.Key()] != nil {
		l.remove(owner)
	}
	node := &ratioNode{owner: owner, ratio: new(big.Int).Set(ratio)}
	l.insert(node, prevHint, nextHint)
}

// Reinsert repositions an owner after its ratio changed.
func (i *SortedRatioIndex) Reinsert(asset string, owner crypto.Address, ratio *big.Int, prevHint, nextHint crypto.Address) {
	i.Insert(asset, owner, ratio, prevHint, nextHint)
}

func (i *SortedRatioIndex) Remove(asset string, owner crypto.Address) {
	i.list(asset).remove(owner)
}

func (l *ratioList) remove(owner crypto.Address) {
	node := l.nodes[owner.Key()]
	if node == nil {
		return
	}
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	delete(l.nodes, owner.Key())
}

// insert links the node between a validated hint pair, or walks from the
// head to the first node whose ratio is strictly below the new one. Equal
// ratios keep insertion order.
func (l *ratioList) insert(node *ratioNode, prevHint, nextHint crypto.Address) {
	if prev, next, ok := l.validHintPair(node.ratio, prevHint, nextHint); ok {
		l.link(node, prev, next)
		return
	}

	var prev *ratioNode
	current := l.head
	for current != nil && current.ratio.Cmp(node.ratio) >= 0 {
		prev = current
		current = current.next
	}
	l.link(node, prev, current)
}

// validHintPair accepts hints that are adjacent in the list and bracket the
// new ratio. A nil prev means insertion at the head, a nil next at the tail.
func (l *ratioList) validHintPair(ratio *big.Int, prevHint, nextHint crypto.Address) (*ratioNode, *ratioNode, bool) {
	if prevHint.IsZero() && nextHint.IsZero() {
		return nil, nil, false
	}
	var prev, next *ratioNode
	if !prevHint.IsZero() {
		if prev = l.nodes[prevHint.Key()]; prev == nil {
			return nil, nil, false
		}
	}
	if !nextHint.IsZero() {
		if next = l.nodes[nextHint.Key()]; next == nil {
			return nil, nil, false
		}
	}
	if prev == nil && l.head != next {
		return nil, nil, false
	}
	if next == nil && l.tail != prev {
		return nil, nil, false
	}
	if prev != nil && prev.next != next {
		return nil, nil, false
	}
	if prev != nil && prev.ratio.Cmp(ratio) < 0 {
		return nil, nil, false
	}
	if next != nil && next.ratio.Cmp(ratio) > 0 {
		return nil, nil, false
	}
	return prev, next, true
}

func (l *ratioList) link(node, prev, next *ratioNode) {
	node.prev = prev
	node.next = next
	if prev != nil {
		prev.next = node
	} else {
		l.head = node
	}
	if next != nil {
		next.prev = node
	} else {
		l.tail = node
	}
	l.nodes[node.owner.Key()] = node
}
