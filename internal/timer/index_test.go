package timer

import (
	"math/rand"
	"testing"

	"timerd/internal/clock"
)

func rec(id TaskID, deadline clock.Tick) *record {
	return &record{id: id, deadline: deadline, fn: func() {}}
}

func TestIndexOrdersByDeadlineThenID(t *testing.T) {
	t.Parallel()
	x := newIndex()
	x.insert(rec(3, 50))
	x.insert(rec(1, 50))
	x.insert(rec(4, 10))
	x.insert(rec(2, 30))

	want := []TaskID{4, 2, 1, 3}
	for i, id := range want {
		r, ok := x.popMin()
		if !ok {
			t.Fatalf("pop %d: empty index", i)
		}
		if r.id != id {
			t.Fatalf("pop %d: id = %d, want %d", i, r.id, id)
		}
	}
	if _, ok := x.popMin(); ok {
		t.Fatal("index should be empty")
	}
	if _, ok := x.peekMin(); ok {
		t.Fatal("peekMin on empty index should report false")
	}
}

func TestIndexRemove(t *testing.T) {
	t.Parallel()
	x := newIndex()
	for i := 1; i <= 5; i++ {
		x.insert(rec(TaskID(i), clock.Tick(i*10)))
	}
	if !x.remove(1) {
		t.Fatal("remove(1) = false")
	}
	if x.remove(1) {
		t.Fatal("second remove(1) = true")
	}
	if x.remove(42) {
		t.Fatal("remove(unknown) = true")
	}
	if !x.remove(4) {
		t.Fatal("remove(4) = false")
	}
	if x.len() != 3 {
		t.Fatalf("len = %d, want 3", x.len())
	}
	d, ok := x.peekMin()
	if !ok || d != 20 {
		t.Fatalf("peekMin = %d,%v want 20,true", d, ok)
	}
	if _, ok := x.get(4); ok {
		t.Fatal("removed record still in store")
	}
}

func TestIndexInsertReplacesSameID(t *testing.T) {
	t.Parallel()
	x := newIndex()
	r := rec(1, 100)
	x.insert(r)
	r.deadline = 5
	x.insert(r)
	if x.len() != 1 {
		t.Fatalf("len = %d, want 1", x.len())
	}
	if d, _ := x.peekMin(); d != 5 {
		t.Fatalf("peekMin = %d, want 5", d)
	}
}

func TestIndexPopDue(t *testing.T) {
	t.Parallel()
	const all = TaskID(1 << 62)
	tests := []struct {
		name    string
		now     clock.Tick
		ceiling TaskID
		wantID  TaskID
		wantOK  bool
	}{
		{name: "nothing due", now: 9, ceiling: all},
		{name: "first due", now: 10, ceiling: all, wantID: 1, wantOK: true},
		{name: "id above ceiling", now: 30, ceiling: 0},
		{name: "ceiling at id", now: 30, ceiling: 1, wantID: 1, wantOK: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			x := newIndex()
			x.insert(rec(1, 10))
			x.insert(rec(2, 20))
			r, ok := x.popDue(tt.now, tt.ceiling)
			if ok != tt.wantOK || (ok && r.id != tt.wantID) {
				t.Fatalf("popDue(%d, %d) = %v,%v want id %d,%v", tt.now, tt.ceiling, r, ok, tt.wantID, tt.wantOK)
			}
		})
	}

	x := newIndex()
	x.insert(rec(1, 10))
	x.insert(rec(2, 20))
	if _, ok := x.popDue(10, all); !ok {
		t.Fatal("popDue(10) did not pop the task due at 10")
	}
	if _, ok := x.popDue(15, all); ok {
		t.Fatal("popDue(15) popped a task due at 20")
	}
}

// Random insert/remove sequences must keep the heap positions and the store in sync.
func TestIndexRandomizedConsistency(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	x := newIndex()
	live := map[TaskID]clock.Tick{}
	var next TaskID
	for i := 0; i < 2000; i++ {
		switch rng.Intn(3) {
		case 0, 1:
			next++
			d := clock.Tick(rng.Intn(100))
			x.insert(rec(next, d))
			live[next] = d
		case 2:
			id := TaskID(rng.Intn(int(next) + 1))
			_, want := live[id]
			if got := x.remove(id); got != want {
				t.Fatalf("remove(%d) = %v, want %v", id, got, want)
			}
			delete(live, id)
		}
		if x.len() != len(live) || x.keys.Len() != len(live) || len(x.keys.pos) != len(live) {
			t.Fatalf("size mismatch: store=%d heap=%d pos=%d live=%d", x.len(), x.keys.Len(), len(x.keys.pos), len(live))
		}
	}

	prev := taskKey{deadline: -1}
	for x.len() > 0 {
		r, _ := x.popMin()
		k := taskKey{r.deadline, r.id}
		if !prev.less(k) {
			t.Fatalf("out of order: %+v after %+v", k, prev)
		}
		if live[r.id] != r.deadline {
			t.Fatalf("record %d deadline = %d, want %d", r.id, r.deadline, live[r.id])
		}
		prev = k
	}
}

func TestIndexOrderedAndClear(t *testing.T) {
	t.Parallel()
	x := newIndex()
	x.insert(rec(2, 7))
	x.insert(rec(1, 7))
	x.insert(rec(3, 1))
	got := x.ordered()
	if len(got) != 3 || got[0].id != 3 || got[1].id != 1 || got[2].id != 2 {
		t.Fatalf("ordered = %+v", got)
	}
	if n := x.clear(); n != 3 {
		t.Fatalf("clear = %d, want 3", n)
	}
	if x.len() != 0 || x.keys.Len() != 0 {
		t.Fatal("index not empty after clear")
	}
}
