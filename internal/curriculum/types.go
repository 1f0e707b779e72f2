// Package curriculum holds course content (curriculum documents and story
// graphs), loads it from disk, and resolves activity references into the
// question sets played by a session.
package curriculum

import (
	"time"

	"github.com/p-n-ai/pai-quest/internal/question"
)

// Addressing selects how chapter, lesson and activity segments of a
// reference are located in a Document.
type Addressing string

const (
	// AddressAuto picks positional when every segment resolves by index,
	// identifier otherwise.
	AddressAuto Addressing = ""
	// AddressPositional reads a 1-based index from the segment's numeric suffix.
	AddressPositional Addressing = "positional"
	// AddressIdentifier matches the segment against element IDs.
	AddressIdentifier Addressing = "identifier"
)

// Document is a course curriculum: chapters -> lessons -> questions.
type Document struct {
	CourseID         string     `yaml:"course_id"`
	Title            string     `yaml:"title,omitempty"`
	Addressing       Addressing `yaml:"addressing,omitempty"`
	XPReward         int        `yaml:"xp_reward,omitempty"`
	TimeLimitSeconds int        `yaml:"time_limit_seconds,omitempty"`
	Chapters         []Chapter  `yaml:"chapters"`
}

// Chapter groups lessons.
type Chapter struct {
	ID      string   `yaml:"id"`
	Title   string   `yaml:"title,omitempty"`
	Lessons []Lesson `yaml:"lessons"`
}

// Lesson holds either a flat question list or a list of activities.
type Lesson struct {
	ID               string              `yaml:"id"`
	Title            string              `yaml:"title,omitempty"`
	XPReward         int                 `yaml:"xp_reward,omitempty"`
	TimeLimitSeconds int                 `yaml:"time_limit_seconds,omitempty"`
	Questions        []question.Question `yaml:"questions,omitempty"`
	Activities       []ActivityDoc       `yaml:"activities,omitempty"`
}

// ActivityDoc is an activity as written in a curriculum document.
type ActivityDoc struct {
	ID               string              `yaml:"id"`
	XPReward         int                 `yaml:"xp_reward,omitempty"`
	TimeLimitSeconds int                 `yaml:"time_limit_seconds,omitempty"`
	Questions        []question.Question `yaml:"questions"`
}

func (c Chapter) key() string     { return c.ID }
func (l Lesson) key() string      { return l.ID }
func (a ActivityDoc) key() string { return a.ID }

// Activity is the resolved question set for one story node. It is derived
// every time a node is entered and never persisted.
type Activity struct {
	ID        string              `json:"id"`
	Questions []question.Question `json:"questions"`
	XPReward  int                 `json:"xp_reward"`
	TimeLimit time.Duration       `json:"time_limit"`
	Fallback  bool                `json:"fallback,omitempty"`
}

// MaxScore is the XP a perfect run of the activity earns.
func (a Activity) MaxScore() int {
	return a.XPReward * len(a.Questions)
}

// Story is the narrative graph of a course.
type Story struct {
	CourseID string      `yaml:"course_id" json:"course_id"`
	Title    string      `yaml:"title,omitempty" json:"title,omitempty"`
	Intro    []Frame     `yaml:"intro,omitempty" json:"intro,omitempty"`
	Nodes    []StoryNode `yaml:"nodes" json:"nodes"`
}

// StoryNode is one level of a course: a cutscene followed by an activity.
type StoryNode struct {
	ID          string  `yaml:"id" json:"id"`
	Index       int     `yaml:"index" json:"index"`
	Title       string  `yaml:"title" json:"title"`
	Frames      []Frame `yaml:"frames,omitempty" json:"frames,omitempty"`
	ActivityRef string  `yaml:"activity_ref" json:"activity_ref"`
	Badge       *Badge  `yaml:"badge,omitempty" json:"badge,omitempty"`
}

// Frame is a single beat of a cutscene.
type Frame struct {
	Speaker string `yaml:"speaker,omitempty" json:"speaker,omitempty"`
	Text    string `yaml:"text" json:"text"`
	Image   string `yaml:"image,omitempty" json:"image,omitempty"`
}

// Badge is awarded once when its node is first completed.
type Badge struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Icon        string `yaml:"icon,omitempty" json:"icon,omitempty"`
}
