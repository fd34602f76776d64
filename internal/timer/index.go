package timer

import (
	"container/heap"
	"sort"

	"timerd/internal/clock"
)

// taskKey is the ordering key of a pending task.
type taskKey struct {
	deadline clock.Tick
	id       TaskID
}

func (a taskKey) less(b taskKey) bool {
	if a.deadline != b.deadline {
		return a.deadline < b.deadline
	}
	return a.id < b.id
}

// keyHeap is a min-heap of keys. pos tracks each id's slot so a key can be
// removed in O(log n) without scanning.
type keyHeap struct {
	keys []taskKey
	pos  map[TaskID]int
}

func (h *keyHeap) Len() int           { return len(h.keys) }
func (h *keyHeap) Less(i, j int) bool { return h.keys[i].less(h.keys[j]) }
func (h *keyHeap) Swap(i, j int) {
	h.keys[i], h.keys[j] = h.keys[j], h.keys[i]
	h.pos[h.keys[i].id] = i
	h.pos[h.keys[j].id] = j
}

func (h *keyHeap) Push(x any) {
	k := x.(taskKey)
	h.pos[k.id] = len(h.keys)
	h.keys = append(h.keys, k)
}

func (h *keyHeap) Pop() any {
	n := len(h.keys)
	k := h.keys[n-1]
	h.keys = h.keys[:n-1]
	delete(h.pos, k.id)
	return k
}

// index is the ordered task index: records live in an id-keyed store, and the
// heap only ever holds (deadline, id) pairs. Rebalancing the heap never
// invalidates anything the store hands out.
//
// index is not safe for concurrent use; the Scheduler lock guards it.
type index struct {
	records map[TaskID]*record
	keys    keyHeap
}

func newIndex() *index {
	return &index{
		records: map[TaskID]*record{},
		keys:    keyHeap{pos: map[TaskID]int{}},
	}
}

func (x *index) len() int { return len(x.records) }

// insert adds r, replacing any record already stored under r.id.
func (x *index) insert(r *record) taskKey {
	if _, ok := x.records[r.id]; ok {
		x.remove(r.id)
	}
	k := taskKey{deadline: r.deadline, id: r.id}
	x.records[r.id] = r
	heap.Push(&x.keys, k)
	return k
}

// peekMin returns the earliest deadline.
func (x *index) peekMin() (clock.Tick, bool) {
	if len(x.keys.keys) == 0 {
		return 0, false
	}
	return x.keys.keys[0].deadline, true
}

// popMin removes and returns the first record in execution order.
func (x *index) popMin() (*record, bool) {
	if len(x.keys.keys) == 0 {
		return nil, false
	}
	k := heap.Pop(&x.keys).(taskKey)
	r := x.records[k.id]
	delete(x.records, k.id)
	return r, true
}

// popDue pops the first record if its deadline is at or before now and its
// id is at most ceiling.
//
// Records added after a drain pass began carry ids above the pass's ceiling
// and deadlines no earlier than its tick, so they sort after every record that
// was already due: stopping at the first one leaves nothing due behind it.
func (x *index) popDue(now clock.Tick, ceiling TaskID) (*record, bool) {
	if len(x.keys.keys) == 0 {
		return nil, false
	}
	k := x.keys.keys[0]
	if k.deadline > now || k.id > ceiling {
		return nil, false
	}
	return x.popMin()
}

func (x *index) remove(id TaskID) bool {
	i, ok := x.keys.pos[id]
	if !ok {
		return false
	}
	heap.Remove(&x.keys, i)
	delete(x.records, id)
	return true
}

func (x *index) get(id TaskID) (*record, bool) {
	r, ok := x.records[id]
	return r, ok
}

// ordered returns copies of the pending records in execution order.
func (x *index) ordered() []record {
	out := make([]record, 0, len(x.records))
	for _, r := range x.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		return taskKey{out[i].deadline, out[i].id}.less(taskKey{out[j].deadline, out[j].id})
	})
	return out
}

func (x *index) clear() int {
	n := len(x.records)
	x.records = map[TaskID]*record{}
	x.keys = keyHeap{pos: map[TaskID]int{}}
	return n
}
