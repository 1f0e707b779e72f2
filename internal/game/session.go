package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-quest/internal/curriculum"
	"github.com/p-n-ai/pai-quest/internal/progress"
	"github.com/p-n-ai/pai-quest/internal/question"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrLevelLocked       = errors.New("level locked")
	ErrUnknownLevel      = errors.New("unknown level")
	ErrSessionClosed     = errors.New("session closed")
)

// Config holds the content and dependencies of a play session.
type Config struct {
	CourseID     string
	XPPerCorrect int        // overrides the activity reward when > 0
	Thresholds   Thresholds // zero fields fall back to the defaults
	Crediting    Crediting
	Story        *curriculum.Story
	Curriculum   *curriculum.Document
	Gateway      *progress.Gateway
	Ledger       *progress.Ledger // starting progress (default: empty)
	Events       EventLogger      // default: NopEventLogger
	OnSync       func(SyncResult) // called from the gateway worker
	Clock        func() time.Time // default: time.Now
}

// SyncResult reports what the progress store made of a passed node.
type SyncResult struct {
	NodeID    string                `json:"node_id"`
	Persisted bool                  `json:"persisted"`
	Stage     *progress.StageResult `json:"stage,omitempty"`
	Badge     *progress.BadgeResult `json:"badge,omitempty"`
	NewBadge  bool                  `json:"new_badge"`
}

// AnswerResult is the verdict for one submitted answer. Outcome is set when
// the answer finished the round.
type AnswerResult struct {
	Correct  bool            `json:"correct"`
	Feedback map[string]bool `json:"feedback,omitempty"`
	Outcome  *Outcome        `json:"outcome,omitempty"`
}

// Session is one learner's run through a course story. Entry points are
// synchronous and never wait on the progress store: persistence is queued
// on the gateway and its results are applied back when they arrive.
type Session struct {
	id           string
	courseID     string
	xpPerCorrect int
	thresholds   Thresholds
	crediting    Crediting
	story        *curriculum.Story
	doc          *curriculum.Document
	gateway      *progress.Gateway
	events       EventLogger
	onSync       func(SyncResult)
	clock        func() time.Time

	mu         sync.Mutex
	phase      Phase
	node       int
	activity   curriculum.Activity
	question   int
	correct    int
	incorrect  int
	levelXP    int
	timer      Timer
	started    time.Time
	outcome    *Outcome
	ledger     *progress.Ledger
	generation int
	closed     bool
}

// NewSession creates a session and records the learner's streak.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Story == nil || len(cfg.Story.Nodes) == 0 {
		return nil, fmt.Errorf("story has no nodes")
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}

	courseID := cfg.CourseID
	if courseID == "" {
		courseID = cfg.Story.CourseID
	}
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = progress.NewLedger(cfg.Gateway.Identity())
	} else {
		ledger = ledger.Clone()
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	s := &Session{
		id:           uuid.NewString(),
		courseID:     courseID,
		xpPerCorrect: cfg.XPPerCorrect,
		thresholds:   cfg.Thresholds.withDefaults(),
		crediting:    cfg.Crediting,
		story:        cfg.Story,
		doc:          cfg.Curriculum,
		gateway:      cfg.Gateway,
		events:       events,
		onSync:       cfg.OnSync,
		clock:        clock,
		ledger:       ledger,
	}
	s.phase = s.entryPhase()

	s.gateway.TouchStreak()

	slog.Info("session started",
		"session_id", s.id,
		"learner_id", ledger.LearnerID,
		"course_id", courseID,
		"phase", s.phase.String(),
		"current_node", ledger.CurrentNode,
	)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// FinishIntro leaves the prologue, whether it was watched or skipped.
func (s *Session) FinishIntro() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect("finish_intro", PhasePrologue); err != nil {
		return err
	}
	s.phase = PhaseLevelSelection
	return nil
}

// SelectLevel enters node i. Only nodes up to the learner's frontier can be
// selected.
func (s *Session) SelectLevel(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect("select_level", PhaseLevelSelection); err != nil {
		return err
	}
	if i < 0 || i >= len(s.story.Nodes) {
		return fmt.Errorf("%w: %d", ErrUnknownLevel, i)
	}
	if i > s.frontier() {
		return fmt.Errorf("%w: %d is beyond %d", ErrLevelLocked, i, s.frontier())
	}

	node := s.story.Nodes[i]
	s.node = i
	s.activity = curriculum.Resolve(node.ActivityRef, s.doc)
	s.outcome = nil
	s.resetCounters()
	s.phase = PhaseCutscene

	s.emit(EventLevelSelected, map[string]any{
		"node_id":     node.ID,
		"index":       i,
		"activity_id": s.activity.ID,
		"fallback":    s.activity.Fallback,
	})
	return nil
}

// CutsceneComplete starts the question round, whether the cutscene was
// watched or skipped.
func (s *Session) CutsceneComplete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect("cutscene_complete", PhaseCutscene); err != nil {
		return err
	}
	s.phase = PhaseQuestions
	s.restartRound()
	return nil
}

// SubmitAnswer grades a against the current question and advances the
// round. Answering the last question finishes the round.
func (s *Session) SubmitAnswer(a question.Answer) (AnswerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect("submit_answer", PhaseQuestions); err != nil {
		return AnswerResult{}, err
	}

	q := s.activity.Questions[s.question]
	res := AnswerResult{Correct: question.Evaluate(q, a)}
	switch b := q.Body.(type) {
	case question.MatchingPairs:
		if p, ok := a.(question.Pairing); ok {
			res.Feedback = b.Feedback(p)
		}
	case question.DragDrop:
		if p, ok := a.(question.Placement); ok {
			res.Feedback = b.Feedback(p)
		}
	}

	if res.Correct {
		s.correct++
		if s.crediting == PerQuestion {
			s.levelXP += s.reward()
		}
	} else {
		s.incorrect++
	}

	s.emit(EventAnswerSubmitted, map[string]any{
		"node_id":     s.story.Nodes[s.node].ID,
		"question_id": q.ID,
		"type":        q.Kind().String(),
		"correct":     res.Correct,
	})

	s.question++
	if s.question >= len(s.activity.Questions) {
		res.Outcome = s.finishRound(false)
	}
	return res, nil
}

// TimeUp ends the current round as a timed-out retry.
func (s *Session) TimeUp() (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect("time_up", PhaseQuestions); err != nil {
		return nil, err
	}
	return s.finishRound(true), nil
}

// Tick advances the round timer by d. It returns the outcome when the tick
// expired the timer. Ticks outside the question round, or while paused, are
// ignored.
func (s *Session) Tick(d time.Duration) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.phase != PhaseQuestions {
		return nil, nil
	}
	if s.timer.Tick(d) {
		return s.finishRound(true), nil
	}
	return nil, nil
}

// Pause stops the round timer without losing elapsed time.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect("pause", PhaseQuestions); err != nil {
		return err
	}
	s.timer.Pause()
	return nil
}

// Resume restarts a paused timer.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect("resume", PhaseQuestions); err != nil {
		return err
	}
	s.timer.Resume()
	return nil
}

// Exit closes the session. Nothing from an unfinished round is persisted.
// Completions already queued still run; their results are dropped.
func (s *Session) Exit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	s.closed = true
	s.timer.Pause()

	slog.Info("session exited",
		"session_id", s.id,
		"learner_id", s.ledger.LearnerID,
		"phase", s.phase.String(),
	)
	return nil
}

// Reset wipes the learner's course progress, locally and in the store, and
// returns to the start of the story. Badges are kept.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	s.generation++
	s.ledger.Reset()
	s.gateway.ResetProgress()

	s.node = 0
	s.activity = curriculum.Activity{}
	s.outcome = nil
	s.resetCounters()
	s.timer.Restart(0)
	s.phase = s.entryPhase()

	s.emit(EventProgressReset, nil)
	return nil
}

// State is a renderable snapshot of the session.
type State struct {
	SessionID     string             `json:"session_id"`
	CourseID      string             `json:"course_id"`
	Phase         Phase              `json:"phase"`
	Node          int                `json:"node"`
	NodeID        string             `json:"node_id,omitempty"`
	NodeTitle     string             `json:"node_title,omitempty"`
	NodeCount     int                `json:"node_count"`
	Frontier      int                `json:"frontier"`
	Frames        []curriculum.Frame `json:"frames,omitempty"`
	ActivityID    string             `json:"activity_id,omitempty"`
	Fallback      bool               `json:"fallback,omitempty"`
	QuestionIndex int                `json:"question_index"`
	QuestionCount int                `json:"question_count"`
	Question      *question.Question `json:"question,omitempty"`
	Correct       int                `json:"correct"`
	Incorrect     int                `json:"incorrect"`
	LevelXP       int                `json:"level_xp"`
	TimeLimit     int                `json:"time_limit_seconds,omitempty"`
	TimeLeft      int                `json:"time_left_seconds,omitempty"`
	Paused        bool               `json:"paused"`
	Outcome       *Outcome           `json:"outcome,omitempty"`
	Ledger        *progress.Ledger   `json:"ledger"`
	Closed        bool               `json:"closed,omitempty"`
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		SessionID: s.id,
		CourseID:  s.courseID,
		Phase:     s.phase,
		Node:      s.node,
		NodeCount: len(s.story.Nodes),
		Frontier:  s.frontier(),
		Correct:   s.correct,
		Incorrect: s.incorrect,
		LevelXP:   s.levelXP,
		Paused:    s.timer.Paused(),
		Ledger:    s.ledger.Clone(),
		Closed:    s.closed,
	}
	if s.outcome != nil {
		o := *s.outcome
		st.Outcome = &o
	}

	switch s.phase {
	case PhasePrologue:
		st.Frames = s.story.Intro
	case PhaseCutscene, PhaseQuestions:
		node := s.story.Nodes[s.node]
		st.NodeID = node.ID
		st.NodeTitle = node.Title
		st.ActivityID = s.activity.ID
		st.Fallback = s.activity.Fallback
		st.QuestionCount = len(s.activity.Questions)
		if s.phase == PhaseCutscene {
			st.Frames = node.Frames
			break
		}
		st.QuestionIndex = s.question
		if q, ok := s.currentQuestion(); ok {
			st.Question = &q
		}
		if s.timer.Limited() {
			st.TimeLimit = int(s.activity.TimeLimit / time.Second)
			st.TimeLeft = int(math.Ceil(s.timer.Remaining().Seconds()))
		}
	}
	return st
}

// CurrentQuestion returns the question awaiting an answer, if any.
func (s *Session) CurrentQuestion() (question.Question, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentQuestion()
}

// Ledger returns a copy of the session's view of the learner's progress.
func (s *Session) Ledger() *progress.Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Clone()
}

func (s *Session) currentQuestion() (question.Question, bool) {
	if s.phase != PhaseQuestions || s.question >= len(s.activity.Questions) {
		return question.Question{}, false
	}
	return s.activity.Questions[s.question], true
}

func (s *Session) expect(event string, want Phase) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.phase != want {
		return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, event, s.phase)
	}
	return nil
}

func (s *Session) entryPhase() Phase {
	if len(s.story.Intro) > 0 && !s.ledger.HasProgress() {
		return PhasePrologue
	}
	return PhaseLevelSelection
}

// frontier is the furthest selectable node.
func (s *Session) frontier() int {
	return min(max(s.ledger.CurrentNode, 0), len(s.story.Nodes)-1)
}

func (s *Session) reward() int {
	if s.xpPerCorrect > 0 {
		return s.xpPerCorrect
	}
	return s.activity.XPReward
}

func (s *Session) resetCounters() {
	s.question = 0
	s.correct = 0
	s.incorrect = 0
	s.levelXP = 0
}

func (s *Session) restartRound() {
	s.resetCounters()
	s.timer.Restart(s.activity.TimeLimit)
	s.started = s.clock()
}

// finishRound grades the round. Accuracy is measured against every question
// in the activity, answered or not.
func (s *Session) finishRound(timedOut bool) *Outcome {
	node := s.story.Nodes[s.node]
	total := len(s.activity.Questions)
	accuracy := 0.0
	if total > 0 {
		accuracy = float64(s.correct) / float64(total)
	}
	tier := s.thresholds.Classify(accuracy)
	if timedOut {
		tier = TierRetry
	}

	out := &Outcome{
		NodeID:   node.ID,
		Tier:     tier,
		Accuracy: accuracy,
		Correct:  s.correct,
		Total:    total,
		TimedOut: timedOut,
	}
	s.outcome = out

	data := map[string]any{
		"node_id":  node.ID,
		"tier":     tier.String(),
		"accuracy": accuracy,
		"correct":  s.correct,
		"total":    total,
	}

	if !tier.Passed() {
		if timedOut {
			s.emit(EventLevelTimeout, data)
		} else {
			s.emit(EventLevelRetry, data)
		}
		// Failed rounds credit nothing.
		s.restartRound()
		return out
	}

	if s.crediting == LumpSum {
		s.levelXP = s.correct * s.reward()
	}
	out.XPEarned = s.levelXP
	data["xp_earned"] = s.levelXP
	s.emit(EventLevelPassed, data)

	s.dispatchCompletion(node, progress.StageSubmission{
		NodeID:    node.ID,
		Score:     s.levelXP,
		MaxScore:  s.reward() * total,
		Correct:   s.correct,
		Total:     total,
		TimeSpent: s.clock().Sub(s.started),
	})

	if next := s.node + 1; next > s.ledger.CurrentNode {
		s.ledger.AdvanceTo(next)
		s.gateway.UpdateCurrentNode(next)
	}

	s.timer.Restart(0)
	if s.node == len(s.story.Nodes)-1 {
		s.phase = PhaseComplete
	} else {
		s.phase = PhaseLevelSelection
	}

	slog.Info("level passed",
		"session_id", s.id,
		"learner_id", s.ledger.LearnerID,
		"node_id", node.ID,
		"tier", tier.String(),
		"accuracy", accuracy,
	)
	return out
}

// dispatchCompletion queues the stage completion, and the node's badge when
// the stage persisted, on the gateway.
func (s *Session) dispatchCompletion(node curriculum.StoryNode, sub progress.StageSubmission) {
	gen := s.generation
	badge := node.Badge
	s.gateway.Go("complete_stage", func(ctx context.Context) {
		res := s.gateway.CompleteStage(ctx, sub)
		var br *progress.BadgeResult
		if res != nil && badge != nil {
			br = s.gateway.UnlockBadge(ctx, *badge)
		}
		s.applySync(gen, sub.NodeID, res, br)
	})
}

// applySync reconciles store results into the ledger. A stage result from
// before a reset is not applied; badges outlive resets and always are.
func (s *Session) applySync(gen int, nodeID string, res *progress.StageResult, br *progress.BadgeResult) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		slog.Debug("sync result dropped, session closed", "session_id", s.id, "node_id", nodeID)
		return
	}

	sr := SyncResult{NodeID: nodeID, Persisted: res != nil, Stage: res, Badge: br}
	if res != nil && gen == s.generation {
		s.ledger.ApplyStage(nodeID, *res)
	}
	if br != nil {
		added := s.ledger.AwardBadge(br.BadgeID)
		sr.NewBadge = added && !br.AlreadyEarned
	}
	onSync := s.onSync
	s.mu.Unlock()

	if res != nil && res.LeveledUp {
		s.emit(EventLevelUp, map[string]any{"level": res.Level, "total_xp": res.TotalXP})
	}
	if sr.NewBadge {
		s.emit(EventBadgeUnlocked, map[string]any{"badge_id": br.BadgeID, "node_id": nodeID})
	}
	if onSync != nil {
		onSync(sr)
	}
}

// emit queues an analytics event behind any pending persistence.
func (s *Session) emit(eventType string, data map[string]any) {
	ev := Event{
		SessionID: s.id,
		LearnerID: s.gateway.Identity().LearnerID,
		CourseID:  s.courseID,
		EventType: eventType,
		Data:      data,
		CreatedAt: s.clock(),
	}
	s.gateway.Go("log_event", func(context.Context) {
		if err := s.events.LogEvent(ev); err != nil {
			slog.Warn("failed to log game event",
				"type", eventType,
				"session_id", s.id,
				"error", err,
			)
		}
	})
}
