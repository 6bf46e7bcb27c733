package draft

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type testHasher struct{}

func (testHasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func newTestEngine(historyCap int) (*Engine, *fakeClock) {
	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewEngine(historyCap, clk, testHasher{}), clk
}

func addN(t *testing.T, e *Engine, clk *fakeClock, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		content := json.RawMessage(fmt.Sprintf(`{"rev":%d}`, i))
		if _, err := e.AddVersion(context.Background(), "proj-1", "user-1", content, Meta{Author: "user-1"}); err != nil {
			t.Fatalf("AddVersion() %d error = %v", i, err)
		}
		clk.advance(time.Minute)
	}
}

func TestAddVersionNumbersFromOne(t *testing.T) {
	t.Parallel()

	engine, clk := newTestEngine(DefaultHistoryCap)
	ctx := context.Background()

	first, err := engine.AddVersion(ctx, "proj-1", "user-1", json.RawMessage(`{"a":1}`), Meta{Author: "user-1"})
	if err != nil {
		t.Fatalf("AddVersion() error = %v", err)
	}
	if first.Version != 1 || first.Checksum == "" || first.Size != len(`{"a":1}`) {
		t.Fatalf("unexpected first snapshot %+v", first)
	}
	clk.advance(time.Minute)

	second, err := engine.AddVersion(ctx, "proj-1", "user-1", json.RawMessage(`{"a":2}`), Meta{Author: "user-1"})
	if err != nil {
		t.Fatalf("AddVersion() error = %v", err)
	}
	if second.Version != 2 {
		t.Fatalf("expected version 2, got %d", second.Version)
	}

	current, err := engine.Current(ctx, "proj-1", "user-1")
	if err != nil || current.Version != 2 {
		t.Fatalf("expected current version 2, got %+v err=%v", current, err)
	}
}

func TestHistoryCapEvictsOldest(t *testing.T) {
	t.Parallel()

	engine, clk := newTestEngine(3)
	addN(t, engine, clk, 4)

	history, err := engine.History(context.Background(), "proj-1", "user-1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 snapshots after eviction, got %d", len(history))
	}
	// Newest-first; version 1 was evicted and numbering is not reused.
	if history[0].Version != 4 || history[2].Version != 2 {
		t.Fatalf("unexpected versions %d..%d", history[0].Version, history[2].Version)
	}

	clk.advance(time.Minute)
	next, err := engine.AddVersion(context.Background(), "proj-1", "user-1", json.RawMessage(`{}`), Meta{})
	if err != nil {
		t.Fatalf("AddVersion() error = %v", err)
	}
	if next.Version != 5 {
		t.Fatalf("expected version 5 after eviction, got %d", next.Version)
	}
}

func TestRestoreKeepsHistory(t *testing.T) {
	t.Parallel()

	engine, clk := newTestEngine(DefaultHistoryCap)
	addN(t, engine, clk, 3)
	ctx := context.Background()

	restored, err := engine.Restore(ctx, "proj-1", "user-1", 1)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored.Version != 1 {
		t.Fatalf("expected restored version 1, got %d", restored.Version)
	}

	current, err := engine.Current(ctx, "proj-1", "user-1")
	if err != nil || current.Version != 1 {
		t.Fatalf("expected current version 1, got %+v err=%v", current, err)
	}
	history, err := engine.History(ctx, "proj-1", "user-1")
	if err != nil || len(history) != 3 {
		t.Fatalf("expected history untouched, got %d err=%v", len(history), err)
	}

	if _, err := engine.Restore(ctx, "proj-1", "user-1", 99); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestCompare(t *testing.T) {
	t.Parallel()

	engine, clk := newTestEngine(DefaultHistoryCap)
	ctx := context.Background()
	if _, err := engine.AddVersion(ctx, "proj-1", "user-1", json.RawMessage(`{"a":1}`), Meta{}); err != nil {
		t.Fatalf("AddVersion() error = %v", err)
	}
	clk.advance(time.Minute)
	if _, err := engine.AddVersion(ctx, "proj-1", "user-1", json.RawMessage(`{"a":1,"b":2}`), Meta{}); err != nil {
		t.Fatalf("AddVersion() error = %v", err)
	}

	diff, err := engine.Compare(ctx, "proj-1", "user-1", 1, 2)
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if !diff.ContentDiffers {
		t.Fatal("expected content to differ")
	}
	if diff.SizeDelta != len(`{"a":1,"b":2}`)-len(`{"a":1}`) {
		t.Fatalf("unexpected size delta %d", diff.SizeDelta)
	}

	same, err := engine.Compare(ctx, "proj-1", "user-1", 1, 1)
	if err != nil || same.ContentDiffers || same.SizeDelta != 0 {
		t.Fatalf("expected identical diff, got %+v err=%v", same, err)
	}
}

func TestTagIsIdempotentUnion(t *testing.T) {
	t.Parallel()

	engine, clk := newTestEngine(DefaultHistoryCap)
	addN(t, engine, clk, 1)
	ctx := context.Background()

	snap, err := engine.Tag(ctx, "proj-1", "user-1", 1, []string{"release", "draft"})
	if err != nil {
		t.Fatalf("Tag() error = %v", err)
	}
	if len(snap.Tags) != 2 {
		t.Fatalf("expected 2 tags, got %v", snap.Tags)
	}

	snap, err = engine.Tag(ctx, "proj-1", "user-1", 1, []string{"release", "  ", "final"})
	if err != nil {
		t.Fatalf("Tag() error = %v", err)
	}
	if len(snap.Tags) != 3 {
		t.Fatalf("expected union of 3 tags, got %v", snap.Tags)
	}

	// The tagged version is current, so current reflects the tags too.
	current, err := engine.Current(ctx, "proj-1", "user-1")
	if err != nil || len(current.Tags) != 3 {
		t.Fatalf("expected current tags synced, got %+v err=%v", current, err)
	}
}

func TestSearchIsConjunctive(t *testing.T) {
	t.Parallel()

	engine, clk := newTestEngine(DefaultHistoryCap)
	ctx := context.Background()

	if _, err := engine.AddVersion(ctx, "proj-1", "user-1", json.RawMessage(`{"title":"alpha"}`), Meta{Author: "alice", Tags: []string{"release"}}); err != nil {
		t.Fatalf("AddVersion() error = %v", err)
	}
	clk.advance(time.Hour)
	cutoff := clk.Now()
	if _, err := engine.AddVersion(ctx, "proj-1", "user-1", json.RawMessage(`{"title":"beta"}`), Meta{Author: "alice"}); err != nil {
		t.Fatalf("AddVersion() error = %v", err)
	}
	clk.advance(time.Hour)
	if _, err := engine.AddVersion(ctx, "proj-1", "user-1", json.RawMessage(`{"title":"beta"}`), Meta{Author: "bob"}); err != nil {
		t.Fatalf("AddVersion() error = %v", err)
	}

	byAuthor, err := engine.Search(ctx, "proj-1", "user-1", Query{Author: "alice"})
	if err != nil || len(byAuthor) != 2 {
		t.Fatalf("expected 2 by alice, got %d err=%v", len(byAuthor), err)
	}

	combined, err := engine.Search(ctx, "proj-1", "user-1", Query{
		Author:           "alice",
		ContentSubstring: "beta",
		DateFrom:         &cutoff,
	})
	if err != nil || len(combined) != 1 || combined[0].Version != 2 {
		t.Fatalf("expected only version 2, got %+v err=%v", combined, err)
	}

	byTag, err := engine.Search(ctx, "proj-1", "user-1", Query{Tags: []string{"release"}})
	if err != nil || len(byTag) != 1 || byTag[0].Version != 1 {
		t.Fatalf("expected tagged version 1, got %+v err=%v", byTag, err)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	engine, clk := newTestEngine(DefaultHistoryCap)
	ctx := context.Background()

	if _, err := engine.AddVersion(ctx, "proj-1", "user-1", json.RawMessage(`{"n":1}`), Meta{Author: "alice", Auto: true}); err != nil {
		t.Fatalf("AddVersion() error = %v", err)
	}
	clk.advance(time.Minute)
	if _, err := engine.AddVersion(ctx, "proj-1", "user-1", json.RawMessage(`{"n":22}`), Meta{Author: "bob", Tags: []string{"v1", "good"}}); err != nil {
		t.Fatalf("AddVersion() error = %v", err)
	}

	stats, err := engine.Stats(ctx, "proj-1", "user-1")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalVersions != 2 || stats.AutoSaves != 1 || stats.ManualSaves != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.UniqueAuthors != 2 || stats.UniqueTags != 2 {
		t.Fatalf("unexpected uniques %+v", stats)
	}
	if stats.Oldest == nil || stats.Newest == nil || !stats.Newest.After(*stats.Oldest) {
		t.Fatalf("unexpected time range %+v", stats)
	}
}

func TestOwnershipIsClaimedOnFirstWrite(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(DefaultHistoryCap)
	ctx := context.Background()

	// Unknown projects are claimable by anyone.
	if !engine.Owns(ctx, "proj-1", "user-1") {
		t.Fatal("expected unknown project to be claimable")
	}
	if _, err := engine.AddVersion(ctx, "proj-1", "user-1", json.RawMessage(`{}`), Meta{}); err != nil {
		t.Fatalf("AddVersion() error = %v", err)
	}
	if engine.Owns(ctx, "proj-1", "user-2") {
		t.Fatal("expected claimed project to reject other users")
	}
	if _, err := engine.AddVersion(ctx, "proj-1", "user-2", json.RawMessage(`{}`), Meta{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign write, got %v", err)
	}
	if _, err := engine.History(ctx, "proj-1", "user-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign read, got %v", err)
	}
}
