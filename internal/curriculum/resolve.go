package curriculum

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/p-n-ai/pai-quest/internal/question"
)

// DefaultXPReward is the per-correct-answer reward when no document level
// sets one.
const DefaultXPReward = 10

var (
	ErrMalformedRef     = errors.New("malformed activity reference")
	ErrCourseMismatch   = errors.New("activity reference names another course")
	ErrChapterNotFound  = errors.New("chapter not found")
	ErrLessonNotFound   = errors.New("lesson not found")
	ErrActivityNotFound = errors.New("activity not found")
	ErrNoQuestions      = errors.New("activity has no questions")
)

// Ref is a parsed {course}.{chapter}.{lesson}.{activity} reference.
type Ref struct {
	Course   string
	Chapter  string
	Lesson   string
	Activity string
}

func (r Ref) String() string {
	return strings.Join([]string{r.Course, r.Chapter, r.Lesson, r.Activity}, ".")
}

// ParseRef splits a dot-delimited activity reference.
func ParseRef(ref string) (Ref, error) {
	parts := strings.Split(ref, ".")
	if len(parts) != 4 {
		return Ref{}, fmt.Errorf("%w: %q has %d segments, want 4", ErrMalformedRef, ref, len(parts))
	}
	for i, p := range parts {
		if strings.TrimSpace(p) == "" {
			return Ref{}, fmt.Errorf("%w: %q has empty segment %d", ErrMalformedRef, ref, i)
		}
	}
	return Ref{Course: parts[0], Chapter: parts[1], Lesson: parts[2], Activity: parts[3]}, nil
}

// Resolve maps ref onto a concrete activity. It never fails: when the
// reference cannot be resolved the fallback activity is returned so the
// session can still proceed.
func Resolve(ref string, doc *Document) Activity {
	act, err := Lookup(ref, doc)
	if err != nil {
		slog.Warn("activity resolution failed, using fallback",
			"ref", ref,
			"error", err,
		)
		return FallbackActivity(ref)
	}
	return act
}

// Lookup resolves ref against doc, reporting why resolution failed.
func Lookup(ref string, doc *Document) (Activity, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return Activity{}, err
	}
	if doc == nil {
		return Activity{}, fmt.Errorf("%w: no curriculum document", ErrChapterNotFound)
	}
	if doc.CourseID != "" && !strings.EqualFold(doc.CourseID, r.Course) {
		return Activity{}, fmt.Errorf("%w: %q, document is %q", ErrCourseMismatch, r.Course, doc.CourseID)
	}

	mode := doc.Addressing
	if mode == AddressAuto {
		mode = detectAddressing(r, doc)
	}

	chapter, ok := locate(doc.Chapters, r.Chapter, mode)
	if !ok {
		return Activity{}, fmt.Errorf("%w: %q", ErrChapterNotFound, r.Chapter)
	}
	lesson, ok := locate(chapter.Lessons, r.Lesson, mode)
	if !ok {
		return Activity{}, fmt.Errorf("%w: %q in chapter %q", ErrLessonNotFound, r.Lesson, chapter.ID)
	}

	act := Activity{
		ID:        r.String(),
		Questions: lesson.Questions,
		XPReward:  firstPositive(lesson.XPReward, doc.XPReward, DefaultXPReward),
		TimeLimit: seconds(firstPositive(lesson.TimeLimitSeconds, doc.TimeLimitSeconds)),
	}
	if len(lesson.Activities) > 0 {
		a, ok := locate(lesson.Activities, r.Activity, mode)
		if !ok {
			return Activity{}, fmt.Errorf("%w: %q in lesson %q", ErrActivityNotFound, r.Activity, lesson.ID)
		}
		act.Questions = a.Questions
		act.XPReward = firstPositive(a.XPReward, act.XPReward)
		if a.TimeLimitSeconds > 0 {
			act.TimeLimit = seconds(a.TimeLimitSeconds)
		}
	}

	if len(act.Questions) == 0 {
		return Activity{}, fmt.Errorf("%w: %s", ErrNoQuestions, act.ID)
	}
	return act, nil
}

// FallbackActivity is the built-in single-question activity used when a
// reference cannot be resolved.
func FallbackActivity(ref string) Activity {
	id := ref
	if id == "" {
		id = "fallback"
	}
	return Activity{
		ID: id,
		Questions: []question.Question{{
			ID:          "fallback-1",
			Prompt:      "What is 2 + 3?",
			Explanation: "Start at 2 and count up 3 more: 3, 4, 5.",
			Body:        question.MultipleChoice{Options: []string{"4", "5", "6"}, Correct: 1},
		}},
		XPReward: DefaultXPReward,
		Fallback: true,
	}
}

type keyed interface {
	key() string
}

// locate finds the element addressed by seg.
func locate[T keyed](items []T, seg string, mode Addressing) (T, bool) {
	var zero T
	if mode == AddressPositional {
		i, ok := positionalIndex(seg)
		if !ok || i >= len(items) {
			return zero, false
		}
		return items[i], true
	}

	for _, it := range items {
		if strings.EqualFold(it.key(), seg) {
			return it, true
		}
	}
	needle := strings.ToLower(seg)
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.key()), needle) {
			return it, true
		}
	}
	return zero, false
}

// positionalIndex reads the trailing digits of seg as a 1-based index and
// returns the matching 0-based position.
func positionalIndex(seg string) (int, bool) {
	end := len(seg)
	start := end
	for start > 0 && seg[start-1] >= '0' && seg[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, false
	}
	n, err := strconv.Atoi(seg[start:end])
	if err != nil || n < 1 {
		return 0, false
	}
	return n - 1, true
}

func detectAddressing(r Ref, doc *Document) Addressing {
	ci, ok := positionalIndex(r.Chapter)
	if !ok || ci >= len(doc.Chapters) {
		return AddressIdentifier
	}
	li, ok := positionalIndex(r.Lesson)
	if !ok || li >= len(doc.Chapters[ci].Lessons) {
		return AddressIdentifier
	}
	if acts := doc.Chapters[ci].Lessons[li].Activities; len(acts) > 0 {
		ai, ok := positionalIndex(r.Activity)
		if !ok || ai >= len(acts) {
			return AddressIdentifier
		}
	}
	return AddressPositional
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
