package progress

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/p-n-ai/pai-quest/internal/curriculum"
)

func newTestGateway(t *testing.T, store Store) *Gateway {
	t.Helper()
	g := NewGateway(GatewayConfig{
		Store:    store,
		Identity: Identity{LearnerID: "u1", CourseID: "c1"},
		Timeout:  time.Second,
	})
	t.Cleanup(g.Close)
	return g
}

func TestGateway_CompleteStage(t *testing.T) {
	store := NewMemoryStore(200)
	g := newTestGateway(t, store)
	ctx := t.Context()

	res := g.CompleteStage(ctx, StageSubmission{NodeID: "n1", Score: 150, MaxScore: 150, Correct: 5, Total: 5})
	if res == nil {
		t.Fatal("CompleteStage() returned nil")
	}
	if res.Attempt != 1 || res.XPAwarded != 150 || res.TotalXP != 150 || res.Level != 1 {
		t.Errorf("first result = %+v", res)
	}
	if res.Accuracy != 1 {
		t.Errorf("Accuracy = %v, want 1", res.Accuracy)
	}

	res = g.CompleteStage(ctx, StageSubmission{NodeID: "n2", Score: 100, MaxScore: 100, Correct: 4, Total: 5})
	if res == nil {
		t.Fatal("CompleteStage() returned nil")
	}
	if res.TotalXP != 250 || res.Level != 2 || !res.LeveledUp {
		t.Errorf("second result = %+v, want total 250 level 2 leveled up", res)
	}
}

func TestGateway_CompleteStage_XPIsMonotonic(t *testing.T) {
	store := NewMemoryStore(200)
	g := newTestGateway(t, store)
	ctx := t.Context()

	scores := []int{60, 120, 90, 150, 30}
	prev := 0
	for i, score := range scores {
		res := g.CompleteStage(ctx, StageSubmission{NodeID: "n1", Score: score, MaxScore: 150, Correct: 3, Total: 5})
		if res == nil {
			t.Fatalf("attempt %d: CompleteStage() returned nil", i+1)
		}
		if res.TotalXP < prev {
			t.Errorf("attempt %d: TotalXP = %d, dropped below %d", i+1, res.TotalXP, prev)
		}
		if res.Attempt != i+1 {
			t.Errorf("attempt %d: Attempt = %d", i+1, res.Attempt)
		}
		prev = res.TotalXP
	}
	if prev != 150 {
		t.Errorf("final TotalXP = %d, want 150 (best score only)", prev)
	}
}

func TestGateway_UnlockBadge_Idempotent(t *testing.T) {
	store := NewMemoryStore(200)
	g := newTestGateway(t, store)
	ctx := t.Context()
	badge := curriculum.Badge{ID: "star", Name: "Star"}

	first := g.UnlockBadge(ctx, badge)
	if first == nil || first.AlreadyEarned {
		t.Fatalf("first UnlockBadge() = %+v, want newly earned", first)
	}
	second := g.UnlockBadge(ctx, badge)
	if second == nil || !second.AlreadyEarned {
		t.Fatalf("second UnlockBadge() = %+v, want AlreadyEarned", second)
	}
	if !second.EarnedAt.Equal(first.EarnedAt) {
		t.Error("EarnedAt should not change on re-award")
	}

	l, err := g.LoadLedger(ctx)
	if err != nil {
		t.Fatalf("LoadLedger() error = %v", err)
	}
	if got := l.Badges(); !slices.Equal(got, []string{"star"}) {
		t.Errorf("Badges() = %v, want [star]", got)
	}
}

func TestGateway_FailureReturnsNil(t *testing.T) {
	store := NewMemoryStore(200)
	store.FailWith(errors.New("connection refused"))
	g := newTestGateway(t, store)
	ctx := t.Context()

	if res := g.CompleteStage(ctx, StageSubmission{NodeID: "n1", Score: 10, Correct: 1, Total: 1}); res != nil {
		t.Errorf("CompleteStage() = %+v, want nil", res)
	}
	if res := g.UnlockBadge(ctx, curriculum.Badge{ID: "star"}); res != nil {
		t.Errorf("UnlockBadge() = %+v, want nil", res)
	}
	if _, err := g.LoadLedger(ctx); err == nil {
		t.Error("LoadLedger() should return an error")
	}

	// Fire-and-forget calls must not panic or block.
	g.UpdateCurrentNode(2)
	g.ResetProgress()
	g.TouchStreak()
	if err := g.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	store.FailWith(nil)
	l, err := g.LoadLedger(ctx)
	if err != nil {
		t.Fatalf("LoadLedger() error = %v", err)
	}
	if l.TotalXP != 0 || l.CurrentNode != 0 || l.HasBadge("star") {
		t.Errorf("failed calls changed the store: %+v", l)
	}
}

func TestGateway_InvalidSubmissionReturnsNil(t *testing.T) {
	g := newTestGateway(t, NewMemoryStore(200))
	if res := g.CompleteStage(t.Context(), StageSubmission{NodeID: "n1", Correct: 3, Total: 2}); res != nil {
		t.Errorf("CompleteStage() = %+v, want nil", res)
	}
}

func TestGateway_FireAndForget(t *testing.T) {
	store := NewMemoryStore(200)
	now := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	g := NewGateway(GatewayConfig{
		Store:    store,
		Identity: Identity{LearnerID: "u1", CourseID: "c1"},
		Now:      func() time.Time { return now },
	})
	defer g.Close()
	ctx := t.Context()

	g.UpdateCurrentNode(3)
	g.TouchStreak()
	if err := g.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	l, err := g.LoadLedger(ctx)
	if err != nil {
		t.Fatalf("LoadLedger() error = %v", err)
	}
	if l.CurrentNode != 3 {
		t.Errorf("CurrentNode = %d, want 3", l.CurrentNode)
	}
	if l.Streak.Current != 1 || !l.Streak.LastActive.Equal(time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Streak = %+v", l.Streak)
	}

	g.ResetProgress()
	if err := g.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	l, _ = g.LoadLedger(ctx)
	if l.CurrentNode != 0 {
		t.Errorf("CurrentNode after reset = %d, want 0", l.CurrentNode)
	}
}

func TestGateway_ResetAllowsXPAgain(t *testing.T) {
	store := NewMemoryStore(200)
	g := newTestGateway(t, store)
	ctx := t.Context()

	sub := StageSubmission{NodeID: "n1", Score: 100, MaxScore: 100, Correct: 5, Total: 5}
	if res := g.CompleteStage(ctx, sub); res == nil || res.XPAwarded != 100 {
		t.Fatalf("CompleteStage() = %+v", res)
	}
	g.ResetProgress()
	if err := g.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	res := g.CompleteStage(ctx, sub)
	if res == nil {
		t.Fatal("CompleteStage() returned nil")
	}
	if res.XPAwarded != 100 || res.TotalXP != 100 {
		t.Errorf("after reset got %+v, want 100 XP awarded", res)
	}
	if res.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2 (history survives reset)", res.Attempt)
	}
}

func TestGateway_RunsJobsInOrder(t *testing.T) {
	g := newTestGateway(t, NewMemoryStore(200))

	var mu sync.Mutex
	var got []int
	for i := range 50 {
		g.Go("record", func(context.Context) {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	if err := g.Flush(t.Context()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 50 {
		t.Fatalf("ran %d jobs, want 50", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("job %d ran at position %d", v, i)
		}
	}
}

func TestGateway_PanickingJobDoesNotStopWorker(t *testing.T) {
	g := newTestGateway(t, NewMemoryStore(200))

	g.Go("boom", func(context.Context) { panic("boom") })
	ran := false
	g.Go("after", func(context.Context) { ran = true })
	if err := g.Flush(t.Context()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if !ran {
		t.Error("job after a panic did not run")
	}
}

func TestGateway_CloseDrainsQueue(t *testing.T) {
	g := NewGateway(GatewayConfig{Store: NewMemoryStore(200)})

	release := make(chan struct{})
	g.Go("block", func(context.Context) { <-release })

	var mu sync.Mutex
	count := 0
	for range 5 {
		g.Go("count", func(context.Context) {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}

	closed := make(chan struct{})
	go func() {
		g.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close() returned before queued jobs ran")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-closed

	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}

	if g.Go("late", func(context.Context) {}) {
		t.Error("Go() after Close() should return false")
	}
	if err := g.Flush(t.Context()); !errors.Is(err, ErrGatewayClosed) {
		t.Errorf("Flush() after Close() error = %v, want ErrGatewayClosed", err)
	}
	g.Close()
}
