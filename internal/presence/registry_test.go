package presence

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestMarkOnlineOffline(t *testing.T) {
	r := NewRegistry()

	snap := r.MarkOnline("u1")
	if !reflect.DeepEqual(snap, []string{"u1"}) {
		t.Fatalf("snapshot after online: %v", snap)
	}
	if !r.Online("u1") {
		t.Fatalf("u1 should be online")
	}

	snap = r.MarkOffline("u1")
	if len(snap) != 0 {
		t.Fatalf("snapshot after offline: %v", snap)
	}
	if r.Online("u1") {
		t.Fatalf("u1 should be offline")
	}
}

func TestRefCountedPresence(t *testing.T) {
	r := NewRegistry()

	r.MarkOnline("u1")
	r.MarkOnline("u1") // second tab

	// Closing one connection keeps the user online.
	r.MarkOffline("u1")
	if !r.Online("u1") {
		t.Fatalf("u1 went offline with a connection still open")
	}
	r.MarkOffline("u1")
	if r.Online("u1") {
		t.Fatalf("u1 still online after last disconnect")
	}
}

func TestOfflineUnknownUserIsNoop(t *testing.T) {
	r := NewRegistry()
	r.MarkOnline("u1")
	snap := r.MarkOffline("ghost")
	if !reflect.DeepEqual(snap, []string{"u1"}) {
		t.Fatalf("unexpected snapshot: %v", snap)
	}
}

func TestSnapshotSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		r.MarkOnline(id)
	}
	if got := r.Snapshot(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("snapshot not sorted: %v", got)
	}
}

func TestConcurrentChurn(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("u%d", i%4)
			for j := 0; j < 100; j++ {
				r.MarkOnline(id)
				r.MarkOffline(id)
			}
		}(i)
	}
	wg.Wait()
	if got := r.Snapshot(); len(got) != 0 {
		t.Fatalf("expected empty registry after balanced churn, got %v", got)
	}
}
