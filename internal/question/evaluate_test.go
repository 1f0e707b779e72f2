package question

import (
	"testing"
)

func sampleQuestions() map[Kind]Question {
	return map[Kind]Question{
		KindMultipleChoice: {
			ID:     "mc",
			Prompt: "What is 2 + 3?",
			Body:   MultipleChoice{Options: []string{"4", "5", "6"}, Correct: 1},
		},
		KindMatchingPairs: {
			ID:     "mp",
			Prompt: "Match the sums",
			Body: MatchingPairs{Pairs: []Pair{
				{Left: "1+1", Right: "2"},
				{Left: "2+2", Right: "4"},
				{Left: "3+3", Right: "6"},
			}},
		},
		KindDragDrop: {
			ID:     "dd",
			Prompt: "Sort into odd and even",
			Body: DragDrop{
				Slots: []Slot{{ID: "odd"}, {ID: "even"}},
				Items: []DragItem{{ID: "3", Slot: "odd"}, {ID: "4", Slot: "even"}, {ID: "7", Slot: "odd"}},
			},
		},
		KindFillInBlank: {
			ID:     "fb",
			Prompt: "Fill in",
			Body: FillInBlank{
				Template: "A ___ has ___ sides",
				Blanks:   []Blank{{ID: "b1", Expected: "Triangle"}, {ID: "b2", Expected: "three"}},
			},
		},
		KindCounting: {
			ID:     "ct",
			Prompt: "How many apples?",
			Body:   Counting{Items: []string{"apple", "apple", "apple", "apple"}, Count: 4},
		},
	}
}

func correctAnswers() map[Kind]Answer {
	return map[Kind]Answer{
		KindMultipleChoice: Choice{Index: 1},
		KindMatchingPairs:  Pairing{Pairs: map[string]string{"1+1": "2", "2+2": "4", "3+3": "6"}},
		KindDragDrop:       Placement{Slots: map[string]string{"3": "odd", "4": "even", "7": "odd"}},
		KindFillInBlank:    Blanks{Values: []string{"triangle", "Three"}},
		KindCounting:       Count{N: 4},
	}
}

func TestEvaluate_CorrectAnswers(t *testing.T) {
	qs := sampleQuestions()
	for kind, a := range correctAnswers() {
		t.Run(kind.String(), func(t *testing.T) {
			if !Evaluate(qs[kind], a) {
				t.Errorf("Evaluate(%s, correct answer) = false, want true", kind)
			}
		})
	}
}

func TestEvaluate_NoPartialCredit(t *testing.T) {
	qs := sampleQuestions()

	tests := []struct {
		name   string
		kind   Kind
		answer Answer
	}{
		{"wrong option", KindMultipleChoice, Choice{Index: 0}},
		{"out of range option", KindMultipleChoice, Choice{Index: 9}},
		{"one pair swapped", KindMatchingPairs, Pairing{Pairs: map[string]string{"1+1": "2", "2+2": "6", "3+3": "4"}}},
		{"one pair missing", KindMatchingPairs, Pairing{Pairs: map[string]string{"1+1": "2", "2+2": "4"}}},
		{"one item misplaced", KindDragDrop, Placement{Slots: map[string]string{"3": "odd", "4": "even", "7": "even"}}},
		{"one item not placed", KindDragDrop, Placement{Slots: map[string]string{"3": "odd", "4": "even"}}},
		{"second blank wrong", KindFillInBlank, Blanks{Values: []string{"triangle", "four"}}},
		{"too few blanks", KindFillInBlank, Blanks{Values: []string{"triangle"}}},
		{"count off by one", KindCounting, Count{N: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Evaluate(qs[tt.kind], tt.answer) {
				t.Errorf("Evaluate() = true, want false")
			}
		})
	}
}

func TestEvaluate_VariantMismatch(t *testing.T) {
	qs := sampleQuestions()

	if Evaluate(qs[KindCounting], Choice{Index: 4}) {
		t.Error("a multiple-choice answer must not grade a counting question")
	}
	if Evaluate(qs[KindMultipleChoice], Count{N: 1}) {
		t.Error("a counting answer must not grade a multiple-choice question")
	}
	if Evaluate(qs[KindMultipleChoice], nil) {
		t.Error("nil answer should be incorrect")
	}
	if Evaluate(Question{ID: "empty"}, Choice{Index: 0}) {
		t.Error("question without body should never be correct")
	}
}

func TestFillInBlank_Normalization(t *testing.T) {
	b := FillInBlank{Blanks: []Blank{{ID: "b", Expected: "Straße"}}}

	tests := []struct {
		in   string
		want bool
	}{
		{"Straße", true},
		{"  straße ", true},
		{"STRAßE", true},
		{"street", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := b.Check(Blanks{Values: []string{tt.in}}); got != tt.want {
				t.Errorf("Check(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFillInBlank_ComposedForms(t *testing.T) {
	b := FillInBlank{Blanks: []Blank{{ID: "b", Expected: "caf\u00e9"}}}

	if !b.Check(Blanks{Values: []string{"CAFE\u0301"}}) {
		t.Error("decomposed input should match composed expected value")
	}
}

func TestMatchingPairs_Feedback(t *testing.T) {
	b := sampleQuestions()[KindMatchingPairs].Body.(MatchingPairs)

	fb := b.Feedback(Pairing{Pairs: map[string]string{"1+1": "2", "2+2": "6"}})
	if !fb["1+1"] {
		t.Error("feedback for 1+1 should be true")
	}
	if fb["2+2"] {
		t.Error("feedback for 2+2 should be false")
	}
	if fb["3+3"] {
		t.Error("feedback for unmatched 3+3 should be false")
	}
	if b.Check(Pairing{Pairs: map[string]string{"1+1": "2", "2+2": "6"}}) {
		t.Error("Check should be all-or-nothing")
	}
}

func TestEvaluate_DoesNotMutateQuestion(t *testing.T) {
	q := sampleQuestions()[KindDragDrop]
	before := q.Body.(DragDrop).Items[2].Slot

	Evaluate(q, Placement{Slots: map[string]string{"7": "even"}})

	if after := q.Body.(DragDrop).Items[2].Slot; after != before {
		t.Errorf("item slot changed from %q to %q", before, after)
	}
}
