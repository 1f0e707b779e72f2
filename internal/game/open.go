package game

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/p-n-ai/pai-quest/internal/curriculum"
)

// Open fetches the story, curriculum and stored progress for cfg.CourseID
// and starts a session. Content errors are returned and no session is
// created. A progress read failure is tolerated: the session starts from
// the ledger in cfg, or an empty one.
func Open(ctx context.Context, src curriculum.Source, cfg Config) (*Session, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}

	story, err := src.Story(ctx, cfg.CourseID)
	if err != nil {
		return nil, fmt.Errorf("load story: %w", err)
	}
	doc, err := src.Curriculum(ctx, cfg.CourseID)
	if err != nil {
		return nil, fmt.Errorf("load curriculum: %w", err)
	}
	cfg.Story = story
	cfg.Curriculum = doc

	ledger, err := cfg.Gateway.LoadLedger(ctx)
	if err != nil {
		slog.Warn("progress unavailable, starting from local state",
			"learner_id", cfg.Gateway.Identity().LearnerID,
			"course_id", cfg.CourseID,
			"error", err,
		)
	} else {
		cfg.Ledger = ledger
	}

	return NewSession(cfg)
}
