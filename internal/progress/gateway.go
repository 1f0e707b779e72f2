package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/p-n-ai/pai-quest/internal/curriculum"
)

const defaultSyncTimeout = 10 * time.Second

var ErrGatewayClosed = errors.New("sync gateway closed")

// GatewayConfig holds dependencies for a Gateway.
type GatewayConfig struct {
	Store    Store
	Identity Identity
	Timeout  time.Duration    // per store call (default 10s)
	Now      func() time.Time // defaults to time.Now
}

// Gateway is the boundary between a play session and the progress store.
// It is bound to one learner and course at construction. Store failures
// never surface as errors to the caller: the atomic operations return nil
// and the fire-and-forget ones are logged.
//
// Work queued through the gateway runs on a single worker in FIFO order,
// so persistence happens in the order it was requested.
type Gateway struct {
	store   Store
	id      Identity
	timeout time.Duration
	now     func() time.Time

	mu     sync.Mutex
	queue  []job
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

type job struct {
	name string
	fn   func(ctx context.Context)
}

// NewGateway creates a gateway and starts its worker.
func NewGateway(cfg GatewayConfig) *Gateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultSyncTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	g := &Gateway{
		store:   cfg.Store,
		id:      cfg.Identity,
		timeout: timeout,
		now:     now,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go g.run()
	return g
}

// Identity returns the learner and course the gateway is bound to.
func (g *Gateway) Identity() Identity {
	return g.id
}

// LoadLedger fetches the learner's progress from the store. Sessions call
// it at module entry to repair any local state that got ahead of the store.
func (g *Gateway) LoadLedger(ctx context.Context) (*Ledger, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	l, err := g.store.LoadProgress(ctx, g.id)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	return l, nil
}

// CompleteStage records a passed stage. It returns nil when the store could
// not be reached; the caller must then treat the stage as not persisted.
func (g *Gateway) CompleteStage(ctx context.Context, sub StageSubmission) *StageResult {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.store.CompleteStage(ctx, g.id, sub)
	if err != nil {
		slog.Error("complete stage failed",
			"learner_id", g.id.LearnerID,
			"course_id", g.id.CourseID,
			"node_id", sub.NodeID,
			"error", err,
		)
		return nil
	}

	slog.Info("stage completed",
		"learner_id", g.id.LearnerID,
		"course_id", g.id.CourseID,
		"node_id", sub.NodeID,
		"attempt", res.Attempt,
		"xp_awarded", res.XPAwarded,
		"total_xp", res.TotalXP,
		"level", res.Level,
	)
	return &res
}

// UnlockBadge awards a badge. Re-awarding reports AlreadyEarned. It returns
// nil when the store could not be reached.
func (g *Gateway) UnlockBadge(ctx context.Context, badge curriculum.Badge) *BadgeResult {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.store.UnlockBadge(ctx, g.id, badge)
	if err != nil {
		slog.Error("unlock badge failed",
			"learner_id", g.id.LearnerID,
			"badge_id", badge.ID,
			"error", err,
		)
		return nil
	}
	return &res
}

// UpdateCurrentNode persists the node pointer in the background.
func (g *Gateway) UpdateCurrentNode(index int) {
	g.Go("update_current_node", func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		if err := g.store.UpdateCurrentNode(ctx, g.id, index); err != nil {
			slog.Warn("update current node failed",
				"learner_id", g.id.LearnerID,
				"course_id", g.id.CourseID,
				"index", index,
				"error", err,
			)
		}
	})
}

// ResetProgress clears the learner's course progress in the background.
func (g *Gateway) ResetProgress() {
	g.Go("reset_progress", func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		if err := g.store.ResetProgress(ctx, g.id); err != nil {
			slog.Warn("reset progress failed",
				"learner_id", g.id.LearnerID,
				"course_id", g.id.CourseID,
				"error", err,
			)
		}
	})
}

// TouchStreak records today's activity in the background.
func (g *Gateway) TouchStreak() {
	at := g.now()
	g.Go("touch_streak", func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		if _, err := g.store.TouchStreak(ctx, g.id, at); err != nil {
			slog.Warn("touch streak failed",
				"learner_id", g.id.LearnerID,
				"error", err,
			)
		}
	})
}

// Go queues fn on the gateway worker. It returns false if the gateway is
// closed. fn receives a context detached from any caller so that queued
// work outlives the session that queued it.
func (g *Gateway) Go(name string, fn func(ctx context.Context)) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		slog.Warn("sync job dropped, gateway closed", "job", name, "learner_id", g.id.LearnerID)
		return false
	}
	g.queue = append(g.queue, job{name: name, fn: fn})
	g.mu.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}
	return true
}

// Flush blocks until every job queued before the call has run.
func (g *Gateway) Flush(ctx context.Context) error {
	reached := make(chan struct{})
	if !g.Go("flush", func(context.Context) { close(reached) }) {
		return ErrGatewayClosed
	}
	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work and waits for queued jobs to finish.
func (g *Gateway) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		<-g.done
		return
	}
	g.closed = true
	g.mu.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}
	<-g.done
}

func (g *Gateway) run() {
	defer close(g.done)
	for {
		g.mu.Lock()
		if len(g.queue) == 0 {
			closed := g.closed
			g.mu.Unlock()
			if closed {
				return
			}
			<-g.wake
			continue
		}
		j := g.queue[0]
		g.queue = g.queue[1:]
		g.mu.Unlock()

		g.exec(j)
	}
}

func (g *Gateway) exec(j job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sync job panicked",
				"job", j.name,
				"learner_id", g.id.LearnerID,
				"panic", r,
			)
		}
	}()
	j.fn(context.Background())
}
