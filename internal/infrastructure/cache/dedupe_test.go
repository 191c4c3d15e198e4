package cache

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryDedupeStore(t *testing.T) {
	store := NewMemoryDedupeStore()
	ctx := context.Background()

	seen, err := store.Seen(ctx, "d-1")
	if err != nil {
		t.Fatalf("Seen failed: %v", err)
	}
	if seen {
		t.Error("fresh id reported as seen")
	}

	seen, err = store.Seen(ctx, "d-1")
	if err != nil {
		t.Fatalf("Seen failed: %v", err)
	}
	if !seen {
		t.Error("repeat id reported as fresh")
	}

	seen, _ = store.Seen(ctx, "d-2")
	if seen {
		t.Error("unrelated id reported as seen")
	}
}

// Forget makes room for the provider's retry of a delivery that failed
// to apply.
func TestMemoryDedupeStore_Forget(t *testing.T) {
	store := NewMemoryDedupeStore()
	ctx := context.Background()

	if _, err := store.Seen(ctx, "d-1"); err != nil {
		t.Fatalf("Seen failed: %v", err)
	}
	if err := store.Forget(ctx, "d-1"); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}

	seen, err := store.Seen(ctx, "d-1")
	if err != nil {
		t.Fatalf("Seen failed: %v", err)
	}
	if seen {
		t.Error("forgotten id still reported as seen")
	}

	// Forgetting an unknown id is a no-op.
	if err := store.Forget(ctx, "never-seen"); err != nil {
		t.Fatalf("Forget of unknown id failed: %v", err)
	}
}

// Exactly one of many concurrent deliveries of the same id may pass.
func TestMemoryDedupeStore_Concurrent(t *testing.T) {
	store := NewMemoryDedupeStore()
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen, err := store.Seen(ctx, "d-race")
			if err != nil {
				t.Errorf("Seen failed: %v", err)
				return
			}
			if !seen {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if fresh != 1 {
		t.Errorf("%d callers saw the id as fresh, want 1", fresh)
	}
}
