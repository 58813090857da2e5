package ids

import (
	"sync"
	"testing"
)

func TestGeneratorUniqueAndIncreasing(t *testing.T) {
	g := NewGenerator(7)
	var last int64
	for i := 0; i < 10000; i++ {
		id := g.Next()
		if id <= last {
			t.Fatalf("id %d not greater than previous %d", id, last)
		}
		if NodeOf(id) != 7 {
			t.Fatalf("node = %d, want 7", NodeOf(id))
		}
		last = id
	}
}

func TestGeneratorConcurrent(t *testing.T) {
	g := NewGenerator(3)
	const workers, per = 8, 500
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{}, workers*per)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				id := g.Next()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != workers*per {
		t.Fatalf("got %d unique ids, want %d", len(seen), workers*per)
	}
}

func TestInvalidNodeFallsBack(t *testing.T) {
	if NodeOf(NewGenerator(5000).Next()) != 1 {
		t.Fatal("out of range node should fall back to 1")
	}
}

func TestNewConnID(t *testing.T) {
	a, b := NewConnID(), NewConnID()
	if a == "" || a == b {
		t.Fatalf("conn ids must be unique: %q %q", a, b)
	}
}
