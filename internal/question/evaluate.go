package question

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Answer is a learner's candidate answer. Each implementation pairs with
// exactly one Body variant.
type Answer interface {
	Kind() Kind
	isAnswer()
}

// Choice answers a MultipleChoice question.
type Choice struct {
	Index int `json:"index"`
}

// Pairing answers a MatchingPairs question: left item -> chosen right item.
type Pairing struct {
	Pairs map[string]string `json:"pairs"`
}

// Placement answers a DragDrop question: item ID -> slot ID.
type Placement struct {
	Slots map[string]string `json:"slots"`
}

// Blanks answers a FillInBlank question, one value per blank in order.
type Blanks struct {
	Values []string `json:"values"`
}

// Count answers a Counting question.
type Count struct {
	N int `json:"n"`
}

func (Choice) Kind() Kind    { return KindMultipleChoice }
func (Pairing) Kind() Kind   { return KindMatchingPairs }
func (Placement) Kind() Kind { return KindDragDrop }
func (Blanks) Kind() Kind    { return KindFillInBlank }
func (Count) Kind() Kind     { return KindCounting }

func (Choice) isAnswer()    {}
func (Pairing) isAnswer()   {}
func (Placement) isAnswer() {}
func (Blanks) isAnswer()    {}
func (Count) isAnswer()     {}

// Evaluate grades a against q. An answer of a different variant than the
// question body is incorrect.
func Evaluate(q Question, a Answer) bool {
	if a == nil {
		return false
	}
	switch b := q.Body.(type) {
	case MultipleChoice:
		c, ok := a.(Choice)
		return ok && b.Check(c)
	case MatchingPairs:
		p, ok := a.(Pairing)
		return ok && b.Check(p)
	case DragDrop:
		p, ok := a.(Placement)
		return ok && b.Check(p)
	case FillInBlank:
		v, ok := a.(Blanks)
		return ok && b.Check(v)
	case Counting:
		c, ok := a.(Count)
		return ok && b.Check(c)
	case nil:
		return false
	default:
		panic("question: unhandled body type " + b.Kind().String())
	}
}

// Check reports whether the chosen index is the correct option.
func (b MultipleChoice) Check(a Choice) bool {
	return a.Index == b.Correct
}

// Check reports whether every left item is matched to its declared partner.
func (b MatchingPairs) Check(a Pairing) bool {
	for _, ok := range b.Feedback(a) {
		if !ok {
			return false
		}
	}
	return true
}

// Feedback grades each pair individually, keyed by left item.
func (b MatchingPairs) Feedback(a Pairing) map[string]bool {
	out := make(map[string]bool, len(b.Pairs))
	for _, p := range b.Pairs {
		got, ok := a.Pairs[p.Left]
		out[p.Left] = ok && got == p.Right
	}
	return out
}

// Check reports whether every item sits in its declared slot.
func (b DragDrop) Check(a Placement) bool {
	for _, ok := range b.Feedback(a) {
		if !ok {
			return false
		}
	}
	return true
}

// Feedback grades each item's placement, keyed by item ID.
func (b DragDrop) Feedback(a Placement) map[string]bool {
	out := make(map[string]bool, len(b.Items))
	for _, it := range b.Items {
		got, ok := a.Slots[it.ID]
		out[it.ID] = ok && got == it.Slot
	}
	return out
}

// Check compares every blank after trimming and case folding.
func (b FillInBlank) Check(a Blanks) bool {
	if len(a.Values) < len(b.Blanks) {
		return false
	}
	for i, bl := range b.Blanks {
		if normalize(a.Values[i]) != normalize(bl.Expected) {
			return false
		}
	}
	return true
}

// Check compares the submitted count with the ground truth.
func (b Counting) Check(a Count) bool {
	return a.N == b.Count
}

// normalize trims, composes and case-folds s. Casers hold state, so a new
// one is built per call.
func normalize(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}
