package vectorindex

import "sort"

type heapItem struct {
	id   string
	dist float64
}

// minHeap pops the smallest-distance item first; used for the candidate
// frontier during search_layer.
type minHeap struct{ items []heapItem }

func newMinHeap() *minHeap { return &minHeap{} }

func (h *minHeap) Len() int { return len(h.items) }

func (h *minHeap) push(it heapItem) {
	h.items = append(h.items, it)
	i := len(h.items) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if h.items[parent].dist <= h.items[i].dist {
			break
		}
		h.items[parent], h.items[i] = h.items[i], h.items[parent]
		i = parent
	}
}

func (h *minHeap) pop() heapItem {
	top := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	h.items = h.items[:last]
	h.siftDown(0)
	return top
}

func (h *minHeap) siftDown(i int) {
	n := len(h.items)
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < n && h.items[left].dist < h.items[smallest].dist {
			smallest = left
		}
		if right < n && h.items[right].dist < h.items[smallest].dist {
			smallest = right
		}
		if smallest == i {
			return
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}

// maxHeap pops the largest-distance (worst) item first; used to bound the
// result set at ef entries during search_layer.
type maxHeap struct{ items []heapItem }

func newMaxHeap() *maxHeap { return &maxHeap{} }

func (h *maxHeap) Len() int { return len(h.items) }

func (h *maxHeap) peek() *heapItem {
	if len(h.items) == 0 {
		return nil
	}
	return &h.items[0]
}

func (h *maxHeap) push(it heapItem) {
	h.items = append(h.items, it)
	i := len(h.items) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if h.items[parent].dist >= h.items[i].dist {
			break
		}
		h.items[parent], h.items[i] = h.items[i], h.items[parent]
		i = parent
	}
}

func (h *maxHeap) pop() heapItem {
	top := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	h.items = h.items[:last]
	h.siftDown(0)
	return top
}

func (h *maxHeap) siftDown(i int) {
	n := len(h.items)
	for {
		left, right := 2*i+1, 2*i+2
		largest := i
		if left < n && h.items[left].dist > h.items[largest].dist {
			largest = left
		}
		if right < n && h.items[right].dist > h.items[largest].dist {
			largest = right
		}
		if largest == i {
			return
		}
		h.items[i], h.items[largest] = h.items[largest], h.items[i]
		i = largest
	}
}

// drainAscending empties the heap into a slice ordered by ascending distance.
func (h *maxHeap) drainAscending() []heapItem {
	out := append([]heapItem(nil), h.items...)
	sort.Slice(out, func(i, j int) bool { return out[i].dist < out[j].dist })
	return out
}

func sortByScoreDesc(matches []Match) {
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
}
