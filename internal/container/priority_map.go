// Package container provides the generic map and priority-map primitives
// shared by the pending-call table and the response cache.
package container

import "container/heap"

type (
	// PriorityMap provides a map with a built-in priority queue, so the
	// lowest-priority entry can be found without a linear scan while the
	// map still supports O(1) point lookups, inserts, and deletes.
	PriorityMap[K comparable, V any, P Priority] struct {
		q priorityQueue[K, V, P]
		m map[K]*pmEntry[K, V, P]
	}

	// Priority defines the number types usable as a priority value.
	Priority interface{ ~int64 | ~float64 }

	// https://pkg.go.dev/container/heap#example-package-PriorityQueue
	priorityQueue[K comparable, V any, P Priority] []*pmEntry[K, V, P]

	pmEntry[K comparable, V any, P Priority] struct {
		key K
		val V
		pri P
		idx int
	}
)

func (pq priorityQueue[K, V, P]) Len() int { return len(pq) }

func (pq priorityQueue[K, V, P]) Less(i, j int) bool { return pq[i].pri < pq[j].pri }

func (pq priorityQueue[K, V, P]) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].idx = i
	pq[j].idx = j
}

func (pq *priorityQueue[K, V, P]) Push(v any) {
	//nolint:forcetypeassert // type is guaranteed by the implementation
	e := v.(*pmEntry[K, V, P])
	e.idx = len(*pq)
	*pq = append(*pq, e)
}

func (pq *priorityQueue[K, V, P]) Pop() any {
	o := *pq
	n := len(o)
	e := o[n-1]
	o[n-1] = nil
	*pq = o[0 : n-1]
	return e
}

// NewPriorityMap creates a new empty priority map.
func NewPriorityMap[K comparable, V any, P Priority]() PriorityMap[K, V, P] {
	return PriorityMap[K, V, P]{m: map[K]*pmEntry[K, V, P]{}}
}

// Len returns the number of elements in the map.
func (p *PriorityMap[K, V, P]) Len() int { return len(p.q) }

// Get looks up an element in the map by its key.
func (p *PriorityMap[K, V, P]) Get(key K) (V, bool) {
	if e, ok := p.m[key]; ok {
		return e.val, true
	}
	var zv V
	return zv, false
}

// Set inserts or updates an element and its priority.
func (p *PriorityMap[K, V, P]) Set(key K, val V, pri P) {
	if e, ok := p.m[key]; ok {
		e.val = val
		e.pri = pri
		heap.Fix(&p.q, e.idx)
		return
	}
	e := &pmEntry[K, V, P]{key: key, val: val, pri: pri}
	p.m[key] = e
	heap.Push(&p.q, e)
}

// Peek returns the key and value with the lowest priority without removing
// it.
func (p *PriorityMap[K, V, P]) Peek() (K, V, bool) {
	if len(p.q) == 0 {
		var zk K
		var zv V
		return zk, zv, false
	}
	e := p.q[0]
	return e.key, e.val, true
}

// Pop removes and returns the key and value with the lowest priority.
func (p *PriorityMap[K, V, P]) Pop() (K, V, bool) {
	if len(p.q) == 0 {
		var zk K
		var zv V
		return zk, zv, false
	}
	//nolint:forcetypeassert // type is guaranteed by the implementation
	e := heap.Pop(&p.q).(*pmEntry[K, V, P])
	delete(p.m, e.key)
	return e.key, e.val, true
}

// Delete removes an element from the map, if present.
func (p *PriorityMap[K, V, P]) Delete(key K) {
	if e, ok := p.m[key]; ok {
		heap.Remove(&p.q, e.idx)
		delete(p.m, key)
	}
}

// Find returns the first value (in unspecified order) for which f returns
// true.
func (p *PriorityMap[K, V, P]) Find(f func(V) bool) (V, bool) {
	for _, e := range p.m {
		if f(e.val) {
			return e.val, true
		}
	}
	var zv V
	return zv, false
}
