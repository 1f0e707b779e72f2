// Package game runs a single play session: the phase state machine that takes
// a learner from the prologue through level selection, cutscenes and
// question rounds, grading each round and handing passed nodes to the
// progress gateway.
package game

import (
	"fmt"
	"time"
)

// Phase is the current step of a play session.
type Phase int

const (
	PhasePrologue Phase = iota + 1
	PhaseLevelSelection
	PhaseCutscene
	PhaseQuestions
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhasePrologue:
		return "prologue"
	case PhaseLevelSelection:
		return "level_selection"
	case PhaseCutscene:
		return "cutscene"
	case PhaseQuestions:
		return "questions"
	case PhaseComplete:
		return "complete"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Tier classifies a finished round.
type Tier int

const (
	TierRetry Tier = iota
	TierGood
	TierExcellent
)

func (t Tier) String() string {
	switch t {
	case TierExcellent:
		return "excellent"
	case TierGood:
		return "good"
	default:
		return "retry"
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Passed reports whether the tier advances the learner past the node.
func (t Tier) Passed() bool {
	return t != TierRetry
}

// Default accuracy cutoffs.
const (
	DefaultExcellent = 0.90
	DefaultGood      = 0.70
)

// Thresholds are the accuracy cutoffs, in [0,1], for each passing tier.
type Thresholds struct {
	Excellent float64
	Good      float64
}

// DefaultThresholds returns the canonical cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{Excellent: DefaultExcellent, Good: DefaultGood}
}

func (t Thresholds) withDefaults() Thresholds {
	if t.Excellent <= 0 {
		t.Excellent = DefaultExcellent
	}
	if t.Good <= 0 {
		t.Good = DefaultGood
	}
	if t.Good > t.Excellent {
		t.Good = t.Excellent
	}
	return t
}

// Classify maps an accuracy to its tier.
func (t Thresholds) Classify(accuracy float64) Tier {
	switch {
	case accuracy >= t.Excellent:
		return TierExcellent
	case accuracy >= t.Good:
		return TierGood
	default:
		return TierRetry
	}
}

// Crediting selects when correct answers turn into level XP.
type Crediting int

const (
	// PerQuestion credits the reward as each correct answer arrives.
	PerQuestion Crediting = iota
	// LumpSum credits correct × reward once the round passes.
	LumpSum
)

func (c Crediting) String() string {
	if c == LumpSum {
		return "lump_sum"
	}
	return "per_question"
}

// ParseCrediting parses the configuration spelling of a crediting policy.
func ParseCrediting(s string) (Crediting, error) {
	switch s {
	case "", "per_question":
		return PerQuestion, nil
	case "lump_sum":
		return LumpSum, nil
	default:
		return 0, fmt.Errorf("unknown crediting policy %q", s)
	}
}

// Outcome is the graded result of one finished round.
type Outcome struct {
	NodeID   string  `json:"node_id"`
	Tier     Tier    `json:"tier"`
	Accuracy float64 `json:"accuracy"`
	Correct  int     `json:"correct"`
	Total    int     `json:"total"`
	XPEarned int     `json:"xp_earned"`
	TimedOut bool    `json:"timed_out,omitempty"`
}

// Timer is a per-round countdown driven by an external tick source. A paused
// timer ignores ticks and keeps its elapsed time.
type Timer struct {
	limit   time.Duration
	elapsed time.Duration
	paused  bool
}

// Restart rearms the timer with a new limit and clears the pause flag. A
// zero limit disables expiry.
func (t *Timer) Restart(limit time.Duration) {
	t.limit = limit
	t.elapsed = 0
	t.paused = false
}

// Tick advances the timer by d and reports whether this tick expired it.
func (t *Timer) Tick(d time.Duration) bool {
	if t.paused || d <= 0 || t.Expired() {
		return false
	}
	t.elapsed += d
	return t.Expired()
}

func (t *Timer) Pause()  { t.paused = true }
func (t *Timer) Resume() { t.paused = false }

func (t *Timer) Paused() bool { return t.paused }

// Limited reports whether the timer can expire.
func (t *Timer) Limited() bool { return t.limit > 0 }

// Expired reports whether a limited timer has run out.
func (t *Timer) Expired() bool {
	return t.limit > 0 && t.elapsed >= t.limit
}

// Remaining is the time left, or zero for an unlimited timer.
func (t *Timer) Remaining() time.Duration {
	if t.limit <= 0 {
		return 0
	}
	return max(0, t.limit-t.elapsed)
}

func (t *Timer) Elapsed() time.Duration { return t.elapsed }
