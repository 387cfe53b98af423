package scheduler

import "time"

// entry is a job waiting for its next run.
type entry struct {
	job     *Job
	nextRun time.Time
	index   int // index in the heap (for heap.Interface)
}

// jobHeap is a min-heap of entries ordered by nextRun
type jobHeap []*entry

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	return h[i].nextRun.Before(h[j].nextRun)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x interface{}) {
	n := len(*h)
	e := x.(*entry)
	e.index = n
	*h = append(*h, e)
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil // avoid memory leak
	e.index = -1
	*h = old[0 : n-1]
	return e
}
