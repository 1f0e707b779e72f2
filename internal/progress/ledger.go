// Package progress keeps a learner's cross-session progress (XP, level,
// completed nodes, badges, streak) and synchronises it with the remote
// progress store.
package progress

import (
	"encoding/json"
	"sort"
)

// DefaultXPPerLevel is the XP stride between levels.
const DefaultXPPerLevel = 200

// LevelForXP derives the level for a cumulative XP total. Level 1 starts
// at 0 XP.
func LevelForXP(xp, stride int) int {
	if stride <= 0 {
		stride = DefaultXPPerLevel
	}
	if xp < 0 {
		xp = 0
	}
	return xp/stride + 1
}

// Identity names the learner and course a ledger belongs to.
type Identity struct {
	LearnerID string
	CourseID  string
}

// Ledger is the durable progress of one learner in one course.
// TotalXP and Level only move down through Reset.
type Ledger struct {
	LearnerID   string
	CourseID    string
	TotalXP     int
	Level       int
	CurrentNode int
	Streak      Streak

	completed map[string]struct{}
	badges    map[string]struct{}
}

// NewLedger returns an empty ledger at level 1.
func NewLedger(id Identity) *Ledger {
	return &Ledger{
		LearnerID: id.LearnerID,
		CourseID:  id.CourseID,
		Level:     1,
		completed: make(map[string]struct{}),
		badges:    make(map[string]struct{}),
	}
}

// Identity returns the learner and course of the ledger.
func (l *Ledger) Identity() Identity {
	return Identity{LearnerID: l.LearnerID, CourseID: l.CourseID}
}

// ApplyStage reconciles a server stage result into the ledger and reports
// whether the node was newly completed.
func (l *Ledger) ApplyStage(nodeID string, r StageResult) bool {
	l.TotalXP = max(l.TotalXP, r.TotalXP)
	l.Level = max(l.Level, r.Level, 1)
	return l.MarkCompleted(nodeID)
}

// MarkCompleted adds nodeID to the completed set. It returns false if the
// node was already completed.
func (l *Ledger) MarkCompleted(nodeID string) bool {
	if l.completed == nil {
		l.completed = make(map[string]struct{})
	}
	if _, ok := l.completed[nodeID]; ok {
		return false
	}
	l.completed[nodeID] = struct{}{}
	return true
}

// AwardBadge adds badgeID to the earned set. It returns false, leaving the
// ledger unchanged, when the badge was already earned.
func (l *Ledger) AwardBadge(badgeID string) bool {
	if l.badges == nil {
		l.badges = make(map[string]struct{})
	}
	if _, ok := l.badges[badgeID]; ok {
		return false
	}
	l.badges[badgeID] = struct{}{}
	return true
}

// AdvanceTo moves the node pointer forward. Lower values are ignored.
func (l *Ledger) AdvanceTo(index int) {
	l.CurrentNode = max(l.CurrentNode, index)
}

// IsCompleted reports whether nodeID has been completed.
func (l *Ledger) IsCompleted(nodeID string) bool {
	_, ok := l.completed[nodeID]
	return ok
}

// HasBadge reports whether badgeID has been earned.
func (l *Ledger) HasBadge(badgeID string) bool {
	_, ok := l.badges[badgeID]
	return ok
}

// CompletedNodes returns the completed node IDs, sorted.
func (l *Ledger) CompletedNodes() []string {
	return sortedKeys(l.completed)
}

// Badges returns the earned badge IDs, sorted.
func (l *Ledger) Badges() []string {
	return sortedKeys(l.badges)
}

// HasProgress reports whether the learner has done anything in the course.
func (l *Ledger) HasProgress() bool {
	return l.TotalXP > 0 || l.CurrentNode > 0 || len(l.completed) > 0
}

// Reset clears course progress. Badges are kept: they belong to the learner,
// not to the course run. Streak is an external side table and is kept too.
func (l *Ledger) Reset() {
	l.TotalXP = 0
	l.Level = 1
	l.CurrentNode = 0
	l.completed = make(map[string]struct{})
}

// Clone returns a deep copy.
func (l *Ledger) Clone() *Ledger {
	c := *l
	c.completed = make(map[string]struct{}, len(l.completed))
	for k := range l.completed {
		c.completed[k] = struct{}{}
	}
	c.badges = make(map[string]struct{}, len(l.badges))
	for k := range l.badges {
		c.badges[k] = struct{}{}
	}
	return &c
}

type ledgerJSON struct {
	LearnerID      string   `json:"learner_id"`
	CourseID       string   `json:"course_id"`
	TotalXP        int      `json:"total_xp"`
	Level          int      `json:"level"`
	CurrentNode    int      `json:"current_node"`
	CompletedNodes []string `json:"completed_nodes"`
	EarnedBadges   []string `json:"earned_badges"`
	Streak         Streak   `json:"streak"`
}

func (l *Ledger) MarshalJSON() ([]byte, error) {
	return json.Marshal(ledgerJSON{
		LearnerID:      l.LearnerID,
		CourseID:       l.CourseID,
		TotalXP:        l.TotalXP,
		Level:          l.Level,
		CurrentNode:    l.CurrentNode,
		CompletedNodes: l.CompletedNodes(),
		EarnedBadges:   l.Badges(),
		Streak:         l.Streak,
	})
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
