package curriculum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

var (
	ErrNotFound        = errors.New("content not found")
	ErrInvalidDocument = errors.New("invalid content document")
)

// Source supplies curriculum and story documents for a course.
type Source interface {
	Curriculum(ctx context.Context, courseID string) (*Document, error)
	Story(ctx context.Context, courseID string) (*Story, error)
}

// Loader loads and caches course content from the filesystem. Curriculum
// files end in .curriculum.yaml and story files in .story.yaml.
type Loader struct {
	rootDir   string
	validate  bool
	documents map[string]*Document
	stories   map[string]*Story
	mu        sync.RWMutex
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithValidation toggles JSON-Schema validation of every file (default on).
func WithValidation(enabled bool) LoaderOption {
	return func(l *Loader) { l.validate = enabled }
}

// NewLoader creates a new content loader and loads all content.
func NewLoader(rootDir string, opts ...LoaderOption) (*Loader, error) {
	l := &Loader{
		rootDir:   rootDir,
		validate:  true,
		documents: make(map[string]*Document),
		stories:   make(map[string]*Story),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading curriculum: %w", err)
	}

	slog.Info("curriculum loaded",
		"curricula", len(l.documents),
		"stories", len(l.stories),
	)
	return l, nil
}

// Curriculum returns the curriculum document for a course.
func (l *Loader) Curriculum(_ context.Context, courseID string) (*Document, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.documents[courseID]
	if !ok {
		return nil, fmt.Errorf("%w: curriculum %q", ErrNotFound, courseID)
	}
	return d, nil
}

// Story returns the story graph for a course.
func (l *Loader) Story(_ context.Context, courseID string) (*Story, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.stories[courseID]
	if !ok {
		return nil, fmt.Errorf("%w: story %q", ErrNotFound, courseID)
	}
	return s, nil
}

// Courses returns the IDs of every course with a story, sorted.
func (l *Loader) Courses() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.stories))
	for id := range l.stories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *Loader) loadAll() error {
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}

		switch {
		case strings.HasSuffix(path, ".curriculum.yaml"), strings.HasSuffix(path, ".curriculum.yml"):
			return l.loadCurriculum(path)
		case strings.HasSuffix(path, ".story.yaml"), strings.HasSuffix(path, ".story.yml"):
			return l.loadStory(path)
		}
		return nil
	})
}

func (l *Loader) loadCurriculum(path string) error {
	data, err := l.read(path, curriculumValidator)
	if err != nil || data == nil {
		return err
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		slog.Warn("skipping invalid curriculum YAML", "path", path, "error", err)
		return nil
	}
	if doc.CourseID == "" {
		return nil
	}

	l.mu.Lock()
	l.documents[doc.CourseID] = &doc
	l.mu.Unlock()
	return nil
}

func (l *Loader) loadStory(path string) error {
	data, err := l.read(path, storyValidator)
	if err != nil || data == nil {
		return err
	}

	var story Story
	if err := yaml.Unmarshal(data, &story); err != nil {
		slog.Warn("skipping invalid story YAML", "path", path, "error", err)
		return nil
	}
	if story.CourseID == "" {
		return nil
	}
	sortNodes(&story)

	l.mu.Lock()
	l.stories[story.CourseID] = &story
	l.mu.Unlock()
	return nil
}

// read returns the file contents, or nil when the file fails schema
// validation and should be skipped.
func (l *Loader) read(path string, schema *gojsonschema.Schema) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !l.validate {
		return data, nil
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		slog.Warn("skipping unparsable content file", "path", path, "error", err)
		return nil, nil
	}
	if err := validate(schema, raw); err != nil {
		slog.Warn("skipping content file failing schema", "path", path, "error", err)
		return nil, nil
	}
	return data, nil
}

// sortNodes orders nodes by their declared index. When no node declares
// one, file order is kept and indexes are filled in.
func sortNodes(s *Story) {
	declared := false
	for _, n := range s.Nodes {
		if n.Index != 0 {
			declared = true
			break
		}
	}
	if !declared {
		for i := range s.Nodes {
			s.Nodes[i].Index = i
		}
		return
	}
	sort.SliceStable(s.Nodes, func(i, j int) bool {
		return s.Nodes[i].Index < s.Nodes[j].Index
	})
}
