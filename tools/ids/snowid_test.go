package ids

import (
	"strings"
	"sync"
	"testing"
)

func TestGeneratorUniqueAndIncreasing(t *testing.T) {
	g := NewGenerator(7)
	var last int64
	seen := make(map[int64]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id := g.Next()
		if id <= last {
			t.Fatalf("id %d not greater than previous %d", id, last)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = struct{}{}
		last = id
	}
	if node := (last >> 12) & 0x3FF; node != 7 {
		t.Fatalf("node bits=%d", node)
	}
}

func TestGenerateConcurrent(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := GenerateString()
				mu.Lock()
				if _, dup := seen[id]; dup {
					mu.Unlock()
					t.Errorf("duplicate id %s", id)
					return
				}
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func TestPrefixed(t *testing.T) {
	if id := Prefixed("m"); !strings.HasPrefix(id, "m_") {
		t.Fatalf("Prefixed=%q", id)
	}
}
