package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-quest/internal/curriculum"
)

// PostgresStore is a PostgreSQL-backed Store implementation. The schema
// lives in internal/platform/database/migrations.
type PostgresStore struct {
	pool       *pgxpool.Pool
	xpPerLevel int
}

// NewPostgresStore creates a PostgreSQL-backed progress store.
func NewPostgresStore(pool *pgxpool.Pool, xpPerLevel int) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	if xpPerLevel <= 0 {
		xpPerLevel = DefaultXPPerLevel
	}
	return &PostgresStore{pool: pool, xpPerLevel: xpPerLevel}, nil
}

func (s *PostgresStore) LoadProgress(ctx context.Context, id Identity) (*Ledger, error) {
	l := NewLedger(id)

	var completed []string
	err := s.pool.QueryRow(ctx,
		`SELECT total_xp, level, current_node, completed_nodes
		 FROM learner_progress
		 WHERE learner_id = $1 AND course_id = $2`,
		id.LearnerID,
		id.CourseID,
	).Scan(&l.TotalXP, &l.Level, &l.CurrentNode, &completed)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	for _, n := range completed {
		l.MarkCompleted(n)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT badge_id FROM learner_badges WHERE learner_id = $1`,
		id.LearnerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query badges: %w", err)
	}
	badges, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan badges: %w", err)
	}
	for _, b := range badges {
		l.AwardBadge(b)
	}

	st, err := s.getStreak(ctx, s.pool, id.LearnerID)
	if err != nil {
		return nil, err
	}
	l.Streak = st

	return l, nil
}

func (s *PostgresStore) CompleteStage(ctx context.Context, id Identity, sub StageSubmission) (StageResult, error) {
	if err := sub.Validate(); err != nil {
		return StageResult{}, err
	}

	var res StageResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := ensureProgressRow(ctx, tx, id); err != nil {
			return err
		}

		var totalXP, level int
		var resetAt time.Time
		if err := tx.QueryRow(ctx,
			`SELECT total_xp, level, reset_at
			 FROM learner_progress
			 WHERE learner_id = $1 AND course_id = $2
			 FOR UPDATE`,
			id.LearnerID,
			id.CourseID,
		).Scan(&totalXP, &level, &resetAt); err != nil {
			return fmt.Errorf("lock progress: %w", err)
		}

		var lastAttempt, best int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(attempt_number), 0),
			        COALESCE(MAX(score) FILTER (WHERE created_at > $4), 0)
			 FROM stage_attempts
			 WHERE learner_id = $1 AND course_id = $2 AND node_id = $3`,
			id.LearnerID,
			id.CourseID,
			sub.NodeID,
			resetAt,
		).Scan(&lastAttempt, &best); err != nil {
			return fmt.Errorf("read attempts: %w", err)
		}

		award := xpAward(sub.Score, best)
		newXP := totalXP + award
		newLevel := max(level, LevelForXP(newXP, s.xpPerLevel))

		if _, err := tx.Exec(ctx,
			`INSERT INTO stage_attempts
			   (id, learner_id, course_id, node_id, attempt_number, score, max_score,
			    correct, total, accuracy, time_spent_ms)
			 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			uuid.NewString(),
			id.LearnerID,
			id.CourseID,
			sub.NodeID,
			lastAttempt+1,
			sub.Score,
			sub.MaxScore,
			sub.Correct,
			sub.Total,
			sub.Accuracy(),
			sub.TimeSpent.Milliseconds(),
		); err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE learner_progress
			 SET total_xp = $3,
			     level = $4,
			     completed_nodes = CASE
			       WHEN $5 = ANY(completed_nodes) THEN completed_nodes
			       ELSE array_append(completed_nodes, $5)
			     END,
			     updated_at = NOW()
			 WHERE learner_id = $1 AND course_id = $2`,
			id.LearnerID,
			id.CourseID,
			newXP,
			newLevel,
			sub.NodeID,
		); err != nil {
			return fmt.Errorf("update progress: %w", err)
		}

		res = StageResult{
			NodeID:    sub.NodeID,
			Attempt:   lastAttempt + 1,
			XPAwarded: award,
			TotalXP:   newXP,
			Level:     newLevel,
			LeveledUp: newLevel > level,
			Accuracy:  sub.Accuracy(),
		}
		return nil
	})
	if err != nil {
		return StageResult{}, fmt.Errorf("complete stage: %w", err)
	}
	return res, nil
}

func (s *PostgresStore) UnlockBadge(ctx context.Context, id Identity, badge curriculum.Badge) (BadgeResult, error) {
	if badge.ID == "" {
		return BadgeResult{}, fmt.Errorf("badge id is required")
	}

	res := BadgeResult{BadgeID: badge.ID}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO learner_badges (learner_id, badge_id, name, description, icon)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (learner_id, badge_id) DO NOTHING
		 RETURNING earned_at`,
		id.LearnerID,
		badge.ID,
		badge.Name,
		nullIfEmpty(badge.Description),
		nullIfEmpty(badge.Icon),
	).Scan(&res.EarnedAt)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return BadgeResult{}, fmt.Errorf("insert badge: %w", err)
	}

	res.AlreadyEarned = true
	if err := s.pool.QueryRow(ctx,
		`SELECT earned_at FROM learner_badges WHERE learner_id = $1 AND badge_id = $2`,
		id.LearnerID,
		badge.ID,
	).Scan(&res.EarnedAt); err != nil {
		return BadgeResult{}, fmt.Errorf("get badge: %w", err)
	}
	return res, nil
}

func (s *PostgresStore) UpdateCurrentNode(ctx context.Context, id Identity, index int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO learner_progress (learner_id, course_id, current_node)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (learner_id, course_id)
		 DO UPDATE SET current_node = EXCLUDED.current_node, updated_at = NOW()`,
		id.LearnerID,
		id.CourseID,
		index,
	)
	if err != nil {
		return fmt.Errorf("update current node: %w", err)
	}
	return nil
}

func (s *PostgresStore) ResetProgress(ctx context.Context, id Identity) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE learner_progress
		 SET total_xp = 0,
		     level = 1,
		     current_node = 0,
		     completed_nodes = '{}',
		     reset_at = NOW(),
		     updated_at = NOW()
		 WHERE learner_id = $1 AND course_id = $2`,
		id.LearnerID,
		id.CourseID,
	)
	if err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) TouchStreak(ctx context.Context, id Identity, now time.Time) (Streak, error) {
	var out Streak
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO learner_streaks (learner_id) VALUES ($1)
			 ON CONFLICT (learner_id) DO NOTHING`,
			id.LearnerID,
		); err != nil {
			return fmt.Errorf("ensure streak: %w", err)
		}

		cur, err := s.getStreak(ctx, tx, id.LearnerID, "FOR UPDATE")
		if err != nil {
			return err
		}
		out = cur.Touch(now)

		if _, err := tx.Exec(ctx,
			`UPDATE learner_streaks
			 SET current_streak = $2, longest_streak = $3, total_days = $4, last_active = $5
			 WHERE learner_id = $1`,
			id.LearnerID,
			out.Current,
			out.Longest,
			out.TotalDays,
			out.LastActive,
		); err != nil {
			return fmt.Errorf("update streak: %w", err)
		}
		return nil
	})
	if err != nil {
		return Streak{}, fmt.Errorf("touch streak: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Attempts(ctx context.Context, id Identity, nodeID string) ([]Attempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, node_id, attempt_number, score, max_score, correct, total,
		        accuracy, time_spent_ms, created_at
		 FROM stage_attempts
		 WHERE learner_id = $1 AND course_id = $2 AND node_id = $3
		 ORDER BY attempt_number ASC`,
		id.LearnerID,
		id.CourseID,
		nodeID,
	)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	attempts := []Attempt{}
	for rows.Next() {
		var a Attempt
		var spentMs int64
		if err := rows.Scan(
			&a.ID,
			&a.NodeID,
			&a.Number,
			&a.Score,
			&a.MaxScore,
			&a.Correct,
			&a.Total,
			&a.Accuracy,
			&spentMs,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.TimeSpent = time.Duration(spentMs) * time.Millisecond
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) getStreak(ctx context.Context, q querier, learnerID string, lock ...string) (Streak, error) {
	query := `SELECT current_streak, longest_streak, total_days, last_active
		 FROM learner_streaks
		 WHERE learner_id = $1`
	if len(lock) > 0 {
		query += " " + lock[0]
	}

	var st Streak
	var last *time.Time
	err := q.QueryRow(ctx, query, learnerID).Scan(&st.Current, &st.Longest, &st.TotalDays, &last)
	if errors.Is(err, pgx.ErrNoRows) {
		return Streak{}, nil
	}
	if err != nil {
		return Streak{}, fmt.Errorf("get streak: %w", err)
	}
	if last != nil {
		st.LastActive = *last
	}
	return st, nil
}

func ensureProgressRow(ctx context.Context, tx pgx.Tx, id Identity) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO learner_progress (learner_id, course_id)
		 VALUES ($1, $2)
		 ON CONFLICT (learner_id, course_id) DO NOTHING`,
		id.LearnerID,
		id.CourseID,
	); err != nil {
		return fmt.Errorf("ensure progress: %w", err)
	}
	return nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
