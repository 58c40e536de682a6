package alloc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"earn-bot/internal/nowpay"
	"earn-bot/internal/repo"
	"earn-bot/migrations"
)

type fakeSource struct {
	mu        sync.Mutex
	created   int
	orderRefs []string
	err       error
}

func (f *fakeSource) CreatePayment(ctx context.Context, orderRef string) (*nowpay.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created++
	f.orderRefs = append(f.orderRefs, orderRef)
	return &nowpay.Payment{PayAddress: fmt.Sprintf("0xaddr%d", f.created)}, nil
}

func newTestStore(t *testing.T) repo.Store {
	t.Helper()
	ctx := context.Background()
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "test.db"), slog.Default())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func ensureUser(t *testing.T, store repo.Store, userID int64) {
	t.Helper()
	if _, err := store.EnsureUser(context.Background(), userID, nil); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
}

func waitForAddress(t *testing.T, a *Allocator, userID int64) string {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		addr, err := a.Request(ctx, userID)
		if err == nil {
			return addr
		}
		if !errors.Is(err, ErrPoolEmpty) {
			t.Fatalf("request: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no address allocated before deadline")
	return ""
}

func TestRequestIsIdempotentPerUser(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{}
	allocator := New(store, source, slog.Default())
	allocator.SetDelay(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go allocator.Run(ctx)

	ensureUser(t, store, 1)
	first := waitForAddress(t, allocator, 1)
	for i := 0; i < 3; i++ {
		again, err := allocator.Request(context.Background(), 1)
		if err != nil {
			t.Fatalf("repeat request: %v", err)
		}
		if again != first {
			t.Fatalf("repeat request = %s, want %s", again, first)
		}
	}
}

func TestDistinctUsersGetDistinctAddresses(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{}
	allocator := New(store, source, slog.Default())
	allocator.SetDelay(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go allocator.Run(ctx)

	seen := make(map[string]int64)
	for userID := int64(1); userID <= 5; userID++ {
		ensureUser(t, store, userID)
		addr := waitForAddress(t, allocator, userID)
		if prev, ok := seen[addr]; ok {
			t.Fatalf("address %s handed to both %d and %d", addr, prev, userID)
		}
		seen[addr] = userID
	}
}

func TestRequestPoolEmptyWhileSourceDown(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{err: errors.New("upstream down")}
	allocator := New(store, source, slog.Default())
	allocator.SetDelay(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go allocator.Run(ctx)

	ensureUser(t, store, 1)
	if _, err := allocator.Request(context.Background(), 1); !errors.Is(err, ErrPoolEmpty) {
		t.Fatalf("err = %v, want ErrPoolEmpty", err)
	}

	// Recovery: once the source is back, requests succeed again.
	source.mu.Lock()
	source.err = nil
	source.mu.Unlock()

	addr := waitForAddress(t, allocator, 1)
	if addr == "" {
		t.Fatal("empty address after recovery")
	}
}

func TestReplenishUsesRequesterOrderRef(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{}
	allocator := New(store, source, slog.Default())
	allocator.SetDelay(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go allocator.Run(ctx)

	ensureUser(t, store, 77)
	waitForAddress(t, allocator, 77)

	source.mu.Lock()
	defer source.mu.Unlock()
	if len(source.orderRefs) == 0 {
		t.Fatal("no payments created")
	}
	last := source.orderRefs[len(source.orderRefs)-1]
	var userID int64
	var ts int64
	if _, err := fmt.Sscanf(last, "%d-%d", &userID, &ts); err != nil {
		t.Fatalf("order ref %q: %v", last, err)
	}
	if userID != 0 && userID != 77 {
		t.Fatalf("order ref user = %d, want 0 or 77", userID)
	}
}
