package question

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// questionDoc is the tagged document form of a question, as written in curriculum
// files. Only the fields of the declared type are read.
type questionDoc struct {
	ID           string     `yaml:"id"`
	Type         string     `yaml:"type"`
	Prompt       string     `yaml:"prompt"`
	Explanation  string     `yaml:"explanation,omitempty"`
	Options      []string   `yaml:"options,omitempty"`
	CorrectIndex *int       `yaml:"correct_index,omitempty"`
	Pairs        []pairDoc  `yaml:"pairs,omitempty"`
	Slots        []slotDoc  `yaml:"slots,omitempty"`
	Items        []itemDoc  `yaml:"items,omitempty"`
	Template     string     `yaml:"template,omitempty"`
	Blanks       []blankDoc `yaml:"blanks,omitempty"`
	Objects      []string   `yaml:"objects,omitempty"`
	Count        *int       `yaml:"count,omitempty"`
}

type pairDoc struct {
	Left  string `yaml:"left"`
	Right string `yaml:"right"`
}

type slotDoc struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label,omitempty"`
}

type itemDoc struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label,omitempty"`
	Slot  string `yaml:"slot"`
}

type blankDoc struct {
	ID     string `yaml:"id"`
	Answer string `yaml:"answer"`
}

// UnmarshalYAML decodes the tagged document form.
func (q *Question) UnmarshalYAML(node *yaml.Node) error {
	var s questionDoc
	if err := node.Decode(&s); err != nil {
		return err
	}
	out, err := s.question()
	if err != nil {
		return err
	}
	*q = out
	return nil
}

// MarshalYAML encodes the question, answer key included, in document form.
func (q Question) MarshalYAML() (any, error) {
	s := questionDoc{ID: q.ID, Prompt: q.Prompt, Explanation: q.Explanation, Type: q.Kind().String()}
	switch b := q.Body.(type) {
	case MultipleChoice:
		s.Options = b.Options
		s.CorrectIndex = &b.Correct
	case MatchingPairs:
		for _, p := range b.Pairs {
			s.Pairs = append(s.Pairs, pairDoc(p))
		}
	case DragDrop:
		for _, sl := range b.Slots {
			s.Slots = append(s.Slots, slotDoc(sl))
		}
		for _, it := range b.Items {
			s.Items = append(s.Items, itemDoc{ID: it.ID, Label: it.Label, Slot: it.Slot})
		}
	case FillInBlank:
		s.Template = b.Template
		for _, bl := range b.Blanks {
			s.Blanks = append(s.Blanks, blankDoc{ID: bl.ID, Answer: bl.Expected})
		}
	case Counting:
		s.Objects = b.Items
		s.Count = &b.Count
	case nil:
		return nil, fmt.Errorf("question %s has no body", q.ID)
	}
	return s, nil
}

func (s questionDoc) question() (Question, error) {
	kind, err := ParseKind(s.Type)
	if err != nil {
		return Question{}, fmt.Errorf("question %s: %w", s.ID, err)
	}

	q := Question{ID: s.ID, Prompt: s.Prompt, Explanation: s.Explanation}
	switch kind {
	case KindMultipleChoice:
		if s.CorrectIndex == nil {
			return Question{}, fmt.Errorf("%w: question %s: correct_index is required", ErrInvalid, s.ID)
		}
		q.Body = MultipleChoice{Options: s.Options, Correct: *s.CorrectIndex}
	case KindMatchingPairs:
		b := MatchingPairs{}
		for _, p := range s.Pairs {
			b.Pairs = append(b.Pairs, Pair(p))
		}
		q.Body = b
	case KindDragDrop:
		b := DragDrop{}
		for _, sl := range s.Slots {
			b.Slots = append(b.Slots, Slot(sl))
		}
		for _, it := range s.Items {
			b.Items = append(b.Items, DragItem{ID: it.ID, Label: it.Label, Slot: it.Slot})
		}
		q.Body = b
	case KindFillInBlank:
		b := FillInBlank{Template: s.Template}
		for _, bl := range s.Blanks {
			b.Blanks = append(b.Blanks, Blank{ID: bl.ID, Expected: bl.Answer})
		}
		q.Body = b
	case KindCounting:
		n := len(s.Objects)
		if s.Count != nil {
			n = *s.Count
		}
		q.Body = Counting{Items: s.Objects, Count: n}
	}

	if err := q.Validate(); err != nil {
		return Question{}, err
	}
	return q, nil
}

// view is the learner-facing JSON shape. Answer keys are never included.
type view struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Prompt      string `json:"prompt"`
	Explanation string `json:"explanation,omitempty"`
	Body        Body   `json:"body"`
}

// MarshalJSON renders the question for the presentation layer.
func (q Question) MarshalJSON() ([]byte, error) {
	return json.Marshal(view{
		ID:          q.ID,
		Type:        q.Kind().String(),
		Prompt:      q.Prompt,
		Explanation: q.Explanation,
		Body:        q.Body,
	})
}

// DecodeAnswer decodes a JSON answer payload for a question of the given kind.
func DecodeAnswer(kind Kind, raw json.RawMessage) (Answer, error) {
	var (
		a   Answer
		err error
	)
	switch kind {
	case KindMultipleChoice:
		var v Choice
		err = json.Unmarshal(raw, &v)
		a = v
	case KindMatchingPairs:
		var v Pairing
		err = json.Unmarshal(raw, &v)
		a = v
	case KindDragDrop:
		var v Placement
		err = json.Unmarshal(raw, &v)
		a = v
	case KindFillInBlank:
		var v Blanks
		err = json.Unmarshal(raw, &v)
		a = v
	case KindCounting:
		var v Count
		err = json.Unmarshal(raw, &v)
		a = v
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s answer: %w", kind, err)
	}
	return a, nil
}
