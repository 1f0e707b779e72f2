package play

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-quest/internal/curriculum"
	"github.com/p-n-ai/pai-quest/internal/game"
	"github.com/p-n-ai/pai-quest/internal/progress"
	"github.com/p-n-ai/pai-quest/internal/question"
)

const (
	defaultTickInterval    = time.Second
	writeTimeout           = 5 * time.Second
	maxDecodeErrorsPerConn = 5
	readLimitBytes         = 64 << 10
)

// HandlerConfig holds dependencies for the play handler.
type HandlerConfig struct {
	Source         curriculum.Source
	Store          progress.Store
	Events         game.EventLogger
	SyncTimeout    time.Duration // per store call (default 10s)
	XPPerCorrect   int
	Thresholds     game.Thresholds
	Crediting      game.Crediting
	TickInterval   time.Duration // timer resolution (default 1s)
	OriginPatterns []string
}

// Handler serves GET /play/{course}?learner=<id>.
type Handler struct {
	source       curriculum.Source
	store        progress.Store
	events       game.EventLogger
	syncTimeout  time.Duration
	xpPerCorrect int
	thresholds   game.Thresholds
	crediting    game.Crediting
	tick         time.Duration
	origins      []string

	mu       sync.Mutex
	closed   bool
	closing  chan struct{}
	sessions sync.WaitGroup
}

// NewHandler creates a play handler.
func NewHandler(cfg HandlerConfig) *Handler {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = defaultTickInterval
	}
	events := cfg.Events
	if events == nil {
		events = game.NopEventLogger{}
	}
	return &Handler{
		source:       cfg.Source,
		store:        cfg.Store,
		events:       events,
		syncTimeout:  cfg.SyncTimeout,
		xpPerCorrect: cfg.XPPerCorrect,
		thresholds:   cfg.Thresholds,
		crediting:    cfg.Crediting,
		tick:         tick,
		origins:      cfg.OriginPatterns,
		closing:      make(chan struct{}),
	}
}

// Shutdown closes every open play connection and waits until their queued
// progress writes have reached the store, or until ctx ends. New
// connections are refused afterwards.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.closing)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for play sessions: %w", ctx.Err())
	}
}

// track registers a connection unless the handler is shutting down.
func (h *Handler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions.Add(1)
	return true
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	courseID := strings.TrimSpace(r.PathValue("course"))
	learnerID := strings.TrimSpace(r.URL.Query().Get("learner"))
	if courseID == "" || learnerID == "" {
		http.Error(w, "course and learner are required", http.StatusBadRequest)
		return
	}

	if !h.track() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	// Deferred first so it runs after the gateway has drained.
	defer h.sessions.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimitBytes)

	id := progress.Identity{LearnerID: learnerID, CourseID: courseID}
	gw := progress.NewGateway(progress.GatewayConfig{
		Store:    h.store,
		Identity: id,
		Timeout:  h.syncTimeout,
	})
	// Close drains the outbox, so completions queued before a disconnect
	// still reach the store.
	defer gw.Close()

	ctx := r.Context()
	syncs := make(chan game.SyncResult, 16)
	sess, err := game.Open(ctx, h.source, game.Config{
		CourseID:     courseID,
		XPPerCorrect: h.xpPerCorrect,
		Thresholds:   h.thresholds,
		Crediting:    h.crediting,
		Gateway:      gw,
		Events:       h.events,
		OnSync: func(res game.SyncResult) {
			select {
			case syncs <- res:
			default:
				slog.Warn("sync notification dropped", "learner_id", learnerID, "node_id", res.NodeID)
			}
		},
	})
	if err != nil {
		slog.Error("failed to open session", "learner_id", learnerID, "course_id", courseID, "error", err)
		frame := errorFrame(err)
		if frame.Error.Code == CodeInvalidArgument {
			frame.Error.Code = CodeUnavailable
		}
		frame.Error.Retryable = true
		_ = h.write(ctx, conn, frame)
		conn.Close(websocket.StatusTryAgainLater, "content unavailable")
		return
	}

	c := &connSession{h: h, conn: conn, sess: sess}
	c.run(ctx, syncs)
}

type connSession struct {
	h    *Handler
	conn *websocket.Conn
	sess *game.Session
}

func (c *connSession) run(ctx context.Context, syncs <-chan game.SyncResult) {
	inbound := make(chan ClientFrame)
	readErr := make(chan error, 1)
	go c.read(ctx, inbound, readErr)

	if err := c.sendState(ctx, nil, nil); err != nil {
		return
	}

	ticker := time.NewTicker(c.h.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.sess.Exit()
			return

		case <-c.h.closing:
			_ = c.sess.Exit()
			c.conn.Close(websocket.StatusGoingAway, "server shutting down")
			return

		case err := <-readErr:
			_ = c.sess.Exit()
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				slog.Warn("play connection read failed", "session_id", c.sess.ID(), "error", err)
			}
			return

		case frame := <-inbound:
			if done := c.handle(ctx, frame); done {
				c.conn.Close(websocket.StatusNormalClosure, "exit")
				return
			}

		case res := <-syncs:
			if err := c.h.write(ctx, c.conn, ServerFrame{Type: FrameSync, Sync: &res}); err != nil {
				return
			}

		case <-ticker.C:
			out, err := c.sess.Tick(c.h.tick)
			if err != nil {
				return
			}
			st := c.sess.State()
			if out == nil && (st.Phase != game.PhaseQuestions || st.TimeLimit == 0 || st.Paused) {
				continue
			}
			if err := c.h.write(ctx, c.conn, ServerFrame{Type: FrameState, State: &st, Outcome: out}); err != nil {
				return
			}
		}
	}
}

// read decodes client frames until the connection fails. Malformed frames
// are answered with an error and skipped.
func (c *connSession) read(ctx context.Context, out chan<- ClientFrame, errc chan<- error) {
	decodeErrors := 0
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			errc <- err
			return
		}
		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
			decodeErrors++
			_ = c.h.write(ctx, c.conn, ServerFrame{
				Type:  FrameError,
				Error: &ErrorBody{Code: CodeInvalidArgument, Message: "invalid frame payload"},
			})
			if decodeErrors >= maxDecodeErrorsPerConn {
				errc <- fmt.Errorf("too many invalid frames")
				return
			}
			continue
		}
		decodeErrors = 0

		select {
		case out <- frame:
		case <-ctx.Done():
			errc <- ctx.Err()
			return
		}
	}
}

// handle applies one client frame and reports whether the session ended.
func (c *connSession) handle(ctx context.Context, frame ClientFrame) bool {
	var (
		answer  *game.AnswerResult
		outcome *game.Outcome
		err     error
	)

	switch frame.Type {
	case FrameFinishIntro:
		err = c.sess.FinishIntro()
	case FrameSelectLevel:
		err = c.sess.SelectLevel(frame.Level)
	case FrameCutsceneComplete:
		err = c.sess.CutsceneComplete()
	case FrameSubmitAnswer:
		var res game.AnswerResult
		res, err = c.submit(frame.Answer)
		if err == nil {
			answer = &res
			outcome = res.Outcome
		}
	case FrameTimeUp:
		outcome, err = c.sess.TimeUp()
	case FramePause:
		err = c.sess.Pause()
	case FrameResume:
		err = c.sess.Resume()
	case FrameReset:
		err = c.sess.Reset()
	case FrameExit:
		if err := c.sess.Exit(); err != nil {
			_ = c.h.write(ctx, c.conn, errorFrame(err))
		}
		_ = c.sendState(ctx, nil, nil)
		return true
	default:
		err = fmt.Errorf("unsupported frame type %q", frame.Type)
	}

	if err != nil {
		_ = c.h.write(ctx, c.conn, errorFrame(err))
		return errors.Is(err, game.ErrSessionClosed)
	}
	return c.sendState(ctx, answer, outcome) != nil
}

func (c *connSession) submit(raw json.RawMessage) (game.AnswerResult, error) {
	q, ok := c.sess.CurrentQuestion()
	if !ok {
		// Let the session report the wrong-phase error.
		return c.sess.SubmitAnswer(nil)
	}
	a, err := question.DecodeAnswer(q.Kind(), raw)
	if err != nil {
		return game.AnswerResult{}, err
	}
	return c.sess.SubmitAnswer(a)
}

func (c *connSession) sendState(ctx context.Context, answer *game.AnswerResult, outcome *game.Outcome) error {
	st := c.sess.State()
	return c.h.write(ctx, c.conn, ServerFrame{Type: FrameState, State: &st, Answer: answer, Outcome: outcome})
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, frame ServerFrame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		slog.Debug("play write failed", "type", frame.Type, "error", err)
		return err
	}
	return nil
}
