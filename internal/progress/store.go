package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-quest/internal/curriculum"
)

var ErrInvalidSubmission = errors.New("invalid stage submission")

// StageSubmission is the outcome of one passed node, sent to the store.
type StageSubmission struct {
	NodeID    string        `json:"node_id"`
	Score     int           `json:"score"`
	MaxScore  int           `json:"max_score"`
	Correct   int           `json:"correct"`
	Total     int           `json:"total"`
	TimeSpent time.Duration `json:"time_spent"`
}

// Accuracy is correct answers over total questions.
func (s StageSubmission) Accuracy() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Total)
}

// Validate rejects submissions a store must not record.
func (s StageSubmission) Validate() error {
	switch {
	case s.NodeID == "":
		return fmt.Errorf("%w: node_id is required", ErrInvalidSubmission)
	case s.Total <= 0:
		return fmt.Errorf("%w: total must be positive", ErrInvalidSubmission)
	case s.Correct < 0 || s.Correct > s.Total:
		return fmt.Errorf("%w: correct %d out of range", ErrInvalidSubmission, s.Correct)
	case s.Score < 0 || (s.MaxScore > 0 && s.Score > s.MaxScore):
		return fmt.Errorf("%w: score %d out of range", ErrInvalidSubmission, s.Score)
	}
	return nil
}

// StageResult is the server-computed outcome of a stage completion.
type StageResult struct {
	NodeID    string  `json:"node_id"`
	Attempt   int     `json:"attempt"`
	XPAwarded int     `json:"xp_awarded"`
	TotalXP   int     `json:"total_xp"`
	Level     int     `json:"level"`
	LeveledUp bool    `json:"leveled_up"`
	Accuracy  float64 `json:"accuracy"`
}

// BadgeResult is the outcome of a badge unlock.
type BadgeResult struct {
	BadgeID       string    `json:"badge_id"`
	AlreadyEarned bool      `json:"already_earned"`
	EarnedAt      time.Time `json:"earned_at"`
}

// Attempt is one row of stage-attempt history.
type Attempt struct {
	ID        string        `json:"id"`
	NodeID    string        `json:"node_id"`
	Number    int           `json:"number"`
	Score     int           `json:"score"`
	MaxScore  int           `json:"max_score"`
	Correct   int           `json:"correct"`
	Total     int           `json:"total"`
	Accuracy  float64       `json:"accuracy"`
	TimeSpent time.Duration `json:"time_spent"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store is the remote progress persistence layer. CompleteStage and
// UnlockBadge are atomic; UnlockBadge is idempotent per learner and badge.
type Store interface {
	LoadProgress(ctx context.Context, id Identity) (*Ledger, error)
	CompleteStage(ctx context.Context, id Identity, sub StageSubmission) (StageResult, error)
	UnlockBadge(ctx context.Context, id Identity, badge curriculum.Badge) (BadgeResult, error)
	UpdateCurrentNode(ctx context.Context, id Identity, index int) error
	ResetProgress(ctx context.Context, id Identity) error
	TouchStreak(ctx context.Context, id Identity, now time.Time) (Streak, error)
	Attempts(ctx context.Context, id Identity, nodeID string) ([]Attempt, error)
}

// xpAward is the XP a stage completion earns: only the improvement over the
// best earlier score on the same stage, so replays never farm XP.
func xpAward(score, bestBefore int) int {
	return max(0, score-bestBefore)
}

type memoryRecord struct {
	ledger   *Ledger
	attempts map[string][]Attempt
	best     map[string]int
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	xpPerLevel int
	records    map[Identity]*memoryRecord
	badges     map[string]map[string]BadgeResult // learner -> badge -> result
	streaks    map[string]Streak                 // learner -> streak
	failWith   error
	mu         sync.Mutex
}

// NewMemoryStore creates a new in-memory progress store.
func NewMemoryStore(xpPerLevel int) *MemoryStore {
	if xpPerLevel <= 0 {
		xpPerLevel = DefaultXPPerLevel
	}
	return &MemoryStore{
		xpPerLevel: xpPerLevel,
		records:    make(map[Identity]*memoryRecord),
		badges:     make(map[string]map[string]BadgeResult),
		streaks:    make(map[string]Streak),
	}
}

// FailWith makes every following call return err, simulating a transport
// failure. Pass nil to recover.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *MemoryStore) record(id Identity) *memoryRecord {
	r, ok := s.records[id]
	if !ok {
		r = &memoryRecord{
			ledger:   NewLedger(id),
			attempts: make(map[string][]Attempt),
			best:     make(map[string]int),
		}
		s.records[id] = r
	}
	return r
}

func (s *MemoryStore) LoadProgress(_ context.Context, id Identity) (*Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}

	l := s.record(id).ledger.Clone()
	for badgeID := range s.badges[id.LearnerID] {
		l.AwardBadge(badgeID)
	}
	l.Streak = s.streaks[id.LearnerID]
	return l, nil
}

func (s *MemoryStore) CompleteStage(_ context.Context, id Identity, sub StageSubmission) (StageResult, error) {
	if err := sub.Validate(); err != nil {
		return StageResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return StageResult{}, s.failWith
	}

	r := s.record(id)
	prevLevel := r.ledger.Level
	award := xpAward(sub.Score, r.best[sub.NodeID])
	r.best[sub.NodeID] = max(r.best[sub.NodeID], sub.Score)

	r.ledger.TotalXP += award
	r.ledger.Level = max(r.ledger.Level, LevelForXP(r.ledger.TotalXP, s.xpPerLevel))
	r.ledger.MarkCompleted(sub.NodeID)

	number := len(r.attempts[sub.NodeID]) + 1
	r.attempts[sub.NodeID] = append(r.attempts[sub.NodeID], Attempt{
		ID:        uuid.NewString(),
		NodeID:    sub.NodeID,
		Number:    number,
		Score:     sub.Score,
		MaxScore:  sub.MaxScore,
		Correct:   sub.Correct,
		Total:     sub.Total,
		Accuracy:  sub.Accuracy(),
		TimeSpent: sub.TimeSpent,
		CreatedAt: time.Now(),
	})

	return StageResult{
		NodeID:    sub.NodeID,
		Attempt:   number,
		XPAwarded: award,
		TotalXP:   r.ledger.TotalXP,
		Level:     r.ledger.Level,
		LeveledUp: r.ledger.Level > prevLevel,
		Accuracy:  sub.Accuracy(),
	}, nil
}

func (s *MemoryStore) UnlockBadge(_ context.Context, id Identity, badge curriculum.Badge) (BadgeResult, error) {
	if badge.ID == "" {
		return BadgeResult{}, fmt.Errorf("badge id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return BadgeResult{}, s.failWith
	}

	earned, ok := s.badges[id.LearnerID]
	if !ok {
		earned = make(map[string]BadgeResult)
		s.badges[id.LearnerID] = earned
	}
	if prev, ok := earned[badge.ID]; ok {
		prev.AlreadyEarned = true
		return prev, nil
	}
	res := BadgeResult{BadgeID: badge.ID, EarnedAt: time.Now()}
	earned[badge.ID] = res
	return res, nil
}

func (s *MemoryStore) UpdateCurrentNode(_ context.Context, id Identity, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.record(id).ledger.CurrentNode = index
	return nil
}

func (s *MemoryStore) ResetProgress(_ context.Context, id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	// Attempt history survives a reset; best scores do not, so XP can be
	// earned again.
	if r, ok := s.records[id]; ok {
		r.ledger = NewLedger(id)
		r.best = make(map[string]int)
	}
	return nil
}

func (s *MemoryStore) TouchStreak(_ context.Context, id Identity, now time.Time) (Streak, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return Streak{}, s.failWith
	}
	st := s.streaks[id.LearnerID].Touch(now)
	s.streaks[id.LearnerID] = st
	return st, nil
}

func (s *MemoryStore) Attempts(_ context.Context, id Identity, nodeID string) ([]Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	r, ok := s.records[id]
	if !ok {
		return []Attempt{}, nil
	}
	return append([]Attempt{}, r.attempts[nodeID]...), nil
}
