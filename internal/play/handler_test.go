package play_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-quest/internal/curriculum"
	"github.com/p-n-ai/pai-quest/internal/game"
	"github.com/p-n-ai/pai-quest/internal/play"
	"github.com/p-n-ai/pai-quest/internal/progress"
	"github.com/p-n-ai/pai-quest/internal/question"
)

type staticSource struct {
	story *curriculum.Story
	doc   *curriculum.Document
}

func (s staticSource) Curriculum(_ context.Context, courseID string) (*curriculum.Document, error) {
	if courseID != s.doc.CourseID {
		return nil, curriculum.ErrNotFound
	}
	return s.doc, nil
}

func (s staticSource) Story(_ context.Context, courseID string) (*curriculum.Story, error) {
	if courseID != s.story.CourseID {
		return nil, curriculum.ErrNotFound
	}
	return s.story, nil
}

func testSource() staticSource {
	questions := make([]question.Question, 3)
	for i := range questions {
		questions[i] = question.Question{
			ID:     "q" + string(rune('1'+i)),
			Prompt: "How many apples?",
			Body:   question.Counting{Items: []string{"apple", "apple", "apple"}, Count: 3},
		}
	}
	return staticSource{
		doc: &curriculum.Document{
			CourseID: "grade1",
			Chapters: []curriculum.Chapter{{
				ID:      "counting",
				Lessons: []curriculum.Lesson{{ID: "apples", XPReward: 20, Questions: questions}},
			}},
		},
		story: &curriculum.Story{
			CourseID: "grade1",
			Nodes: []curriculum.StoryNode{{
				ID:          "orchard",
				Title:       "The Orchard",
				ActivityRef: "grade1.counting.apples.main",
				Badge:       &curriculum.Badge{ID: "apple-picker", Name: "Apple Picker"},
			}},
		},
	}
}

func newServer(t *testing.T, store progress.Store) *httptest.Server {
	t.Helper()
	srv, _ := newServerWithHandler(t, store)
	return srv
}

func newServerWithHandler(t *testing.T, store progress.Store) (*httptest.Server, *play.Handler) {
	t.Helper()
	h := play.NewHandler(play.HandlerConfig{
		Source:      testSource(),
		Store:       store,
		SyncTimeout: time.Second,
	})
	mux := http.NewServeMux()
	mux.Handle("GET /play/{course}", h)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, h
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		t.Fatalf("write %v: %v", frame, err)
	}
}

type frame struct {
	Type    string             `json:"type"`
	State   *stateView         `json:"state"`
	Answer  *game.AnswerResult `json:"answer"`
	Outcome *outcomeView       `json:"outcome"`
	Sync    *game.SyncResult   `json:"sync"`
	Error   *play.ErrorBody    `json:"error"`
}

type stateView struct {
	Phase         string          `json:"phase"`
	QuestionIndex int             `json:"question_index"`
	Question      json.RawMessage `json:"question"`
	Closed        bool            `json:"closed"`
}

type outcomeView struct {
	Tier     string  `json:"tier"`
	Accuracy float64 `json:"accuracy"`
	XPEarned int     `json:"xp_earned"`
}

func recv(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	var f frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func TestHandler_PlayThrough(t *testing.T) {
	store := progress.NewMemoryStore(200)
	srv := newServer(t, store)
	conn := dial(t, srv, "/play/grade1?learner=kid-1")

	f := recv(t, conn)
	if f.Type != play.FrameState || f.State.Phase != "level_selection" {
		t.Fatalf("initial frame = %+v", f)
	}

	send(t, conn, map[string]any{"type": play.FrameSelectLevel, "level": 0})
	if f := recv(t, conn); f.State.Phase != "cutscene" {
		t.Fatalf("after select_level phase = %s", f.State.Phase)
	}

	send(t, conn, map[string]any{"type": play.FrameCutsceneComplete})
	f = recv(t, conn)
	if f.State.Phase != "questions" {
		t.Fatalf("after cutscene_complete phase = %s", f.State.Phase)
	}
	if strings.Contains(string(f.State.Question), `"count"`) {
		t.Errorf("question leaked its answer key: %s", f.State.Question)
	}

	for i := range 3 {
		send(t, conn, map[string]any{"type": play.FrameSubmitAnswer, "answer": map[string]any{"n": 3}})
		f = recv(t, conn)
		if f.Type != play.FrameState || f.Answer == nil || !f.Answer.Correct {
			t.Fatalf("answer %d frame = %+v", i, f)
		}
	}
	if f.Outcome == nil || f.Outcome.Tier != "excellent" || f.Outcome.XPEarned != 60 {
		t.Fatalf("final outcome = %+v", f.Outcome)
	}
	if f.State.Phase != "complete" {
		t.Errorf("phase = %s, want complete", f.State.Phase)
	}

	f = recv(t, conn)
	if f.Type != play.FrameSync || f.Sync == nil || !f.Sync.Persisted || !f.Sync.NewBadge {
		t.Fatalf("sync frame = %+v", f)
	}
	if f.Sync.Stage.TotalXP != 60 {
		t.Errorf("TotalXP = %d, want 60", f.Sync.Stage.TotalXP)
	}

	send(t, conn, map[string]any{"type": play.FrameExit})
	f = recv(t, conn)
	if !f.State.Closed {
		t.Errorf("exit frame = %+v, want closed state", f)
	}

	l, err := store.LoadProgress(t.Context(), progress.Identity{LearnerID: "kid-1", CourseID: "grade1"})
	if err != nil {
		t.Fatal(err)
	}
	if !l.IsCompleted("orchard") || !l.HasBadge("apple-picker") {
		t.Errorf("stored progress = %+v", l)
	}
}

func TestHandler_RejectsInvalidFrames(t *testing.T) {
	srv := newServer(t, progress.NewMemoryStore(200))
	conn := dial(t, srv, "/play/grade1?learner=kid-2")
	recv(t, conn)

	send(t, conn, map[string]any{"type": play.FrameCutsceneComplete})
	f := recv(t, conn)
	if f.Type != play.FrameError || f.Error.Code != play.CodeFailedPrecondition {
		t.Errorf("cutscene_complete in level selection = %+v", f)
	}

	send(t, conn, map[string]any{"type": play.FrameSelectLevel, "level": 3})
	f = recv(t, conn)
	if f.Type != play.FrameError || f.Error.Code != play.CodeInvalidArgument {
		t.Errorf("select_level 3 = %+v", f)
	}

	send(t, conn, map[string]any{"type": "dance"})
	f = recv(t, conn)
	if f.Type != play.FrameError {
		t.Errorf("unknown frame = %+v", f)
	}

	// The session is still usable.
	send(t, conn, map[string]any{"type": play.FrameSelectLevel, "level": 0})
	if f := recv(t, conn); f.Type != play.FrameState || f.State.Phase != "cutscene" {
		t.Errorf("select_level 0 = %+v", f)
	}
}

func TestHandler_UnknownCourse(t *testing.T) {
	srv := newServer(t, progress.NewMemoryStore(200))
	conn := dial(t, srv, "/play/grade9?learner=kid-3")

	f := recv(t, conn)
	if f.Type != play.FrameError || f.Error.Code != play.CodeNotFound || !f.Error.Retryable {
		t.Fatalf("frame = %+v, want retryable NOT_FOUND", f)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusTryAgainLater {
		t.Errorf("close status = %v, want StatusTryAgainLater", websocket.CloseStatus(err))
	}
}

func TestHandler_RequiresLearner(t *testing.T) {
	srv := newServer(t, progress.NewMemoryStore(200))

	resp, err := http.Get(srv.URL + "/play/grade1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandler_ShutdownDrainsOpenSessions(t *testing.T) {
	store := progress.NewMemoryStore(200)
	srv, h := newServerWithHandler(t, store)
	conn := dial(t, srv, "/play/grade1?learner=kid-4")
	recv(t, conn)

	send(t, conn, map[string]any{"type": play.FrameSelectLevel, "level": 0})
	recv(t, conn)
	send(t, conn, map[string]any{"type": play.FrameCutsceneComplete})
	recv(t, conn)
	for range 3 {
		send(t, conn, map[string]any{"type": play.FrameSubmitAnswer, "answer": map[string]any{"n": 3}})
		recv(t, conn)
	}

	// Keep reading so the close handshake can complete.
	closed := make(chan websocket.StatusCode, 1)
	go func() {
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				closed <- websocket.CloseStatus(err)
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	if err := h.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case status := <-closed:
		if status != websocket.StatusGoingAway {
			t.Errorf("close status = %v, want StatusGoingAway", status)
		}
	case <-ctx.Done():
		t.Fatal("connection was not closed")
	}

	l, err := store.LoadProgress(t.Context(), progress.Identity{LearnerID: "kid-4", CourseID: "grade1"})
	if err != nil {
		t.Fatal(err)
	}
	if !l.IsCompleted("orchard") || l.TotalXP != 60 {
		t.Errorf("stored progress after shutdown = %+v", l)
	}

	resp, err := http.Get(srv.URL + "/play/grade1?learner=kid-5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status after shutdown = %d, want 503", resp.StatusCode)
	}
}
