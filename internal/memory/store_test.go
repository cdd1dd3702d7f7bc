package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/marketing-hub/internal/domain"
)

type fakePersister struct {
	mu      sync.Mutex
	data    map[string][]domain.MemoryEntry
	saves   int
	saveErr error
}

func newFakePersister() *fakePersister {
	return &fakePersister{data: make(map[string][]domain.MemoryEntry)}
}

func (f *fakePersister) LoadMemory(_ context.Context, ownerID string) ([]domain.MemoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.MemoryEntry(nil), f.data[ownerID]...), nil
}

func (f *fakePersister) SaveMemory(_ context.Context, ownerID string, entries []domain.MemoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.data[ownerID] = append([]domain.MemoryEntry(nil), entries...)
	return nil
}

func newTestStore(p Persister) *Store {
	s := NewStore("owner-1", p, 0, nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var n int
	s.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return s
}

func TestRememberRecallReplacesWholeEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(nil)

	if err := s.RememberWeighted(ctx, "tone", "formal", 0.9); err != nil {
		t.Fatalf("RememberWeighted() error = %v", err)
	}
	first, _ := s.Recall("tone")

	if err := s.Remember(ctx, "tone", "casual"); err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	got, ok := s.Recall("tone")
	if !ok {
		t.Fatal("Recall() found nothing")
	}
	if got.Value != "casual" {
		t.Errorf("value = %v, want casual", got.Value)
	}
	if got.Importance != domain.DefaultImportance {
		t.Errorf("importance = %v, want default %v", got.Importance, domain.DefaultImportance)
	}
	if !got.Timestamp.After(first.Timestamp) {
		t.Errorf("timestamp not replaced: %v <= %v", got.Timestamp, first.Timestamp)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestRememberRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	s := newTestStore(nil)
	if err := s.Remember(context.Background(), "  ", "x"); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("Remember() error = %v, want ErrEmptyKey", err)
	}
}

func TestListAllSortedByImportance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(nil)
	_ = s.RememberWeighted(ctx, "low", 1, 0.1)
	_ = s.RememberWeighted(ctx, "high", 2, 0.9)
	_ = s.RememberWeighted(ctx, "mid", 3, 0.5)

	got := s.ListAll()
	want := []string{"high", "mid", "low"}
	for i, key := range want {
		if got[i].Key != key {
			t.Fatalf("ListAll()[%d] = %s, want %s", i, got[i].Key, key)
		}
	}
}

func TestCapacityEvictsLowestImportance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(nil)
	for i := 0; i <= DefaultCapacity; i++ {
		importance := float64(i+1) / float64(DefaultCapacity+2)
		if err := s.RememberWeighted(ctx, fmt.Sprintf("k%03d", i), i, importance); err != nil {
			t.Fatalf("RememberWeighted(%d) error = %v", i, err)
		}
		if s.Len() > DefaultCapacity {
			t.Fatalf("Len() = %d after insert %d", s.Len(), i)
		}
	}

	all := s.ListAll()
	if len(all) != DefaultCapacity {
		t.Fatalf("len(ListAll()) = %d, want %d", len(all), DefaultCapacity)
	}
	for _, e := range all {
		if e.Key == "k000" {
			t.Fatal("lowest-importance entry k000 survived eviction")
		}
	}
	if all[0].Key != fmt.Sprintf("k%03d", DefaultCapacity) {
		t.Errorf("first entry = %s, want highest importance", all[0].Key)
	}
}

func TestCapacityEvictsOlderOnEqualImportance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore("owner", nil, 2, nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var n int
	s.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	}

	_ = s.Remember(ctx, "oldest", 1)
	_ = s.Remember(ctx, "middle", 2)
	_ = s.Remember(ctx, "newest", 3)

	if _, ok := s.Recall("oldest"); ok {
		t.Error("oldest equal-importance entry should have been evicted")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestForget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := newFakePersister()
	s := newTestStore(p)
	_ = s.Remember(ctx, "name", "Layla")

	removed, err := s.Forget(ctx, "name")
	if err != nil || !removed {
		t.Fatalf("Forget() = %v, %v; want true, nil", removed, err)
	}
	if removed, _ := s.Forget(ctx, "name"); removed {
		t.Error("second Forget() should report nothing removed")
	}
	if len(p.data["owner-1"]) != 0 {
		t.Errorf("persisted entries = %d, want 0", len(p.data["owner-1"]))
	}
}

func TestPersistenceRoundTripThroughLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := newFakePersister()
	s := newTestStore(p)
	_ = s.RememberWeighted(ctx, "company", "Nakhla Coffee", 0.95)

	reloaded := NewStore("owner-1", p, 0, nil)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got, ok := reloaded.Recall("company")
	if !ok || got.Value != "Nakhla Coffee" {
		t.Fatalf("Recall(company) = %+v, %v", got, ok)
	}
}

func TestPersistFailureKeepsInMemoryEntry(t *testing.T) {
	t.Parallel()

	p := newFakePersister()
	p.saveErr = errors.New("disk full")
	s := newTestStore(p)

	err := s.Remember(context.Background(), "k", "v")
	if err == nil {
		t.Fatal("Remember() should surface the persistence error")
	}
	if _, ok := s.Recall("k"); !ok {
		t.Error("entry should stay in memory when persistence fails")
	}
}

// gatedPersister blocks the first SaveMemory call, and LoadMemory for
// blockedOwner, until gate is closed.
type gatedPersister struct {
	*fakePersister
	gate         chan struct{}
	started      chan struct{}
	blockedOwner string
	once         sync.Once
}

func newGatedPersister() *gatedPersister {
	return &gatedPersister{
		fakePersister: newFakePersister(),
		gate:          make(chan struct{}),
		started:       make(chan struct{}),
	}
}

func (g *gatedPersister) LoadMemory(ctx context.Context, ownerID string) ([]domain.MemoryEntry, error) {
	if ownerID == g.blockedOwner {
		close(g.started)
		<-g.gate
	}
	return g.fakePersister.LoadMemory(ctx, ownerID)
}

func (g *gatedPersister) SaveMemory(ctx context.Context, ownerID string, entries []domain.MemoryEntry) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.started)
		<-g.gate
	}
	return g.fakePersister.SaveMemory(ctx, ownerID, entries)
}

func TestConcurrentWritesPersistInOrder(t *testing.T) {
	t.Parallel()

	p := newGatedPersister()
	s := newTestStore(p)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = s.Remember(ctx, "a", 1)
	}()
	<-p.started

	go func() {
		defer wg.Done()
		_ = s.Remember(ctx, "b", 2)
	}()
	// Give the second write time to reach the persister if it is not held back.
	time.Sleep(20 * time.Millisecond)
	close(p.gate)
	wg.Wait()

	stored, _ := p.fakePersister.LoadMemory(ctx, "owner-1")
	if len(stored) != 2 {
		t.Fatalf("persisted %d entries, want 2: %+v", len(stored), stored)
	}
	if s.Len() != 2 {
		t.Errorf("in-memory entries = %d, want 2", s.Len())
	}
}

func TestRegistryLoadDoesNotBlockOtherOwners(t *testing.T) {
	t.Parallel()

	p := newGatedPersister()
	p.blockedOwner = "slow"
	p.once.Do(func() {}) // saves pass straight through
	r := NewRegistry(p, 10, nil)

	slow := make(chan *Store, 1)
	go func() { slow <- r.For(context.Background(), "slow") }()
	<-p.started

	fast := make(chan *Store, 1)
	go func() { fast <- r.For(context.Background(), "fast") }()
	select {
	case <-fast:
	case <-time.After(2 * time.Second):
		t.Fatal("loading one owner blocked another")
	}

	close(p.gate)
	s := <-slow
	if r.For(context.Background(), "slow") != s {
		t.Error("For() should cache the loaded store")
	}
}

func TestRegistryReturnsSameStore(t *testing.T) {
	t.Parallel()

	r := NewRegistry(newFakePersister(), 10, nil)
	a := r.For(context.Background(), "u1")
	b := r.For(context.Background(), "u1")
	if a != b {
		t.Error("For() should cache stores per owner")
	}
	if r.For(context.Background(), "u2") == a {
		t.Error("different owners must not share a store")
	}
}

func TestFilePersisterRoundTrip(t *testing.T) {
	t.Parallel()

	p, err := NewFilePersister(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilePersister() error = %v", err)
	}
	ctx := context.Background()

	entries, err := p.LoadMemory(ctx, "anon_abc")
	if err != nil || len(entries) != 0 {
		t.Fatalf("LoadMemory() on missing file = %v, %v", entries, err)
	}

	want := []domain.MemoryEntry{{Key: "name", Value: "Omar", Importance: 0.8, Timestamp: time.Unix(100, 0).UTC()}}
	if err := p.SaveMemory(ctx, "anon_abc", want); err != nil {
		t.Fatalf("SaveMemory() error = %v", err)
	}
	got, err := p.LoadMemory(ctx, "anon_abc")
	if err != nil {
		t.Fatalf("LoadMemory() error = %v", err)
	}
	if len(got) != 1 || got[0].Key != "name" || got[0].Value != "Omar" {
		t.Fatalf("LoadMemory() = %+v", got)
	}
}
