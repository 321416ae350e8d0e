package queue

import "testing"

func TestGetsDrainBeforePosts(t *testing.T) {
	q := New()
	q.Push(Job{SessionID: 1, IsPOST: true})
	q.Push(Job{SessionID: 2, IsPOST: false})
	q.Push(Job{SessionID: 3, IsPOST: true})
	q.Push(Job{SessionID: 4, IsPOST: false})

	want := []uint64{2, 4, 1, 3}
	for i, id := range want {
		j, ok := q.Pop()
		if !ok {
			t.Fatalf("pop %d: queue empty early", i)
		}
		if j.SessionID != id {
			t.Fatalf("pop %d: session = %d, want %d", i, j.SessionID, id)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("queue not empty after draining every pushed job")
	}
}

func TestRemoveDropsQueuedJobFromEitherSegment(t *testing.T) {
	q := New()
	q.Push(Job{SessionID: 1, IsPOST: false})
	q.Push(Job{SessionID: 2, IsPOST: false})
	q.Push(Job{SessionID: 3, IsPOST: true})

	q.Remove(2)
	q.Remove(3)
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after removing 2 of 3 jobs", q.Len())
	}
	j, ok := q.Pop()
	if !ok || j.SessionID != 1 {
		t.Fatalf("remaining job = %+v, ok=%v, want session 1", j, ok)
	}
}

func TestRemoveMissingSessionIsNoop(t *testing.T) {
	q := New()
	q.Push(Job{SessionID: 1})
	q.Remove(99)
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (no-op remove of unknown session)", q.Len())
	}
}
