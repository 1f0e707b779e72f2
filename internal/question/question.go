// Package question defines the question variants used by activities and the
// predicates that grade a learner's answer against each of them.
package question

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Kind tags the variant of a question body.
type Kind int

const (
	KindMultipleChoice Kind = iota + 1
	KindMatchingPairs
	KindDragDrop
	KindFillInBlank
	KindCounting
)

func (k Kind) String() string {
	switch k {
	case KindMultipleChoice:
		return "multiple_choice"
	case KindMatchingPairs:
		return "matching_pairs"
	case KindDragDrop:
		return "drag_drop"
	case KindFillInBlank:
		return "fill_in_blank"
	case KindCounting:
		return "counting"
	default:
		return "unknown"
	}
}

// ParseKind maps a wire tag to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "multiple_choice":
		return KindMultipleChoice, nil
	case "matching_pairs":
		return KindMatchingPairs, nil
	case "drag_drop":
		return KindDragDrop, nil
	case "fill_in_blank":
		return KindFillInBlank, nil
	case "counting":
		return KindCounting, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

var (
	ErrUnknownKind = errors.New("unknown question type")
	ErrInvalid     = errors.New("invalid question")
)

// Question is one gradable item inside an activity.
type Question struct {
	ID          string `json:"id"`
	Prompt      string `json:"prompt"`
	Explanation string `json:"explanation,omitempty"`
	Body        Body   `json:"-"`
}

// Kind returns the variant tag of the question body, or 0 if it has none.
func (q Question) Kind() Kind {
	if q.Body == nil {
		return 0
	}
	return q.Body.Kind()
}

// Validate checks that the body carries a usable answer key.
func (q Question) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if q.Body == nil {
		return fmt.Errorf("%w: question %s has no body", ErrInvalid, q.ID)
	}
	if err := q.Body.validate(); err != nil {
		return fmt.Errorf("%w: question %s: %v", ErrInvalid, q.ID, err)
	}
	return nil
}

// Body is the variant-specific part of a question. The set of
// implementations is closed to this package.
type Body interface {
	Kind() Kind
	validate() error
}

// MultipleChoice asks the learner to pick one option.
type MultipleChoice struct {
	Options []string `json:"options"`
	Correct int      `json:"-"`
}

func (MultipleChoice) Kind() Kind { return KindMultipleChoice }

func (b MultipleChoice) validate() error {
	if len(b.Options) < 2 {
		return errors.New("multiple choice needs at least two options")
	}
	if b.Correct < 0 || b.Correct >= len(b.Options) {
		return fmt.Errorf("correct index %d out of range", b.Correct)
	}
	return nil
}

// Pair links a left item to its correct right partner.
type Pair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// MatchingPairs asks the learner to connect every left item to a right item.
type MatchingPairs struct {
	Pairs []Pair `json:"pairs"`
}

func (MatchingPairs) Kind() Kind { return KindMatchingPairs }

// MarshalJSON lists the left items in authored order and the right items
// sorted, so the output does not reveal which right goes with which left.
func (b MatchingPairs) MarshalJSON() ([]byte, error) {
	left := make([]string, len(b.Pairs))
	right := make([]string, len(b.Pairs))
	for i, p := range b.Pairs {
		left[i] = p.Left
		right[i] = p.Right
	}
	slices.Sort(right)
	return json.Marshal(struct {
		Left  []string `json:"left"`
		Right []string `json:"right"`
	}{left, right})
}

func (b MatchingPairs) validate() error {
	if len(b.Pairs) == 0 {
		return errors.New("matching pairs needs at least one pair")
	}
	seen := make(map[string]struct{}, len(b.Pairs))
	for _, p := range b.Pairs {
		if p.Left == "" || p.Right == "" {
			return errors.New("pair sides must be non-empty")
		}
		if _, dup := seen[p.Left]; dup {
			return fmt.Errorf("duplicate left item %q", p.Left)
		}
		seen[p.Left] = struct{}{}
	}
	return nil
}

// Slot is a drop target.
type Slot struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// DragItem is a draggable item and the slot it belongs in.
type DragItem struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Slot  string `json:"-"`
}

// DragDrop asks the learner to drop every item into its slot.
type DragDrop struct {
	Slots []Slot     `json:"slots"`
	Items []DragItem `json:"items"`
}

func (DragDrop) Kind() Kind { return KindDragDrop }

func (b DragDrop) validate() error {
	if len(b.Items) == 0 {
		return errors.New("drag drop needs at least one item")
	}
	slots := make(map[string]struct{}, len(b.Slots))
	for _, s := range b.Slots {
		slots[s.ID] = struct{}{}
	}
	for _, it := range b.Items {
		if _, ok := slots[it.Slot]; !ok {
			return fmt.Errorf("item %q targets unknown slot %q", it.ID, it.Slot)
		}
	}
	return nil
}

// Blank is one gap in a fill-in-blank template.
type Blank struct {
	ID       string `json:"id"`
	Expected string `json:"-"`
}

// FillInBlank asks the learner to type the missing values of a template.
type FillInBlank struct {
	Template string  `json:"template"`
	Blanks   []Blank `json:"blanks"`
}

func (FillInBlank) Kind() Kind { return KindFillInBlank }

func (b FillInBlank) validate() error {
	if len(b.Blanks) == 0 {
		return errors.New("fill in blank needs at least one blank")
	}
	for _, bl := range b.Blanks {
		if normalize(bl.Expected) == "" {
			return fmt.Errorf("blank %q has no expected value", bl.ID)
		}
	}
	return nil
}

// Counting shows a set of items and asks how many there are.
type Counting struct {
	Items []string `json:"items"`
	Count int      `json:"-"`
}

func (Counting) Kind() Kind { return KindCounting }

func (b Counting) validate() error {
	if b.Count < 0 {
		return fmt.Errorf("negative count %d", b.Count)
	}
	return nil
}
