// Package play exposes game sessions to the presentation layer over a
// WebSocket. One connection drives one session.
package play

import (
	"encoding/json"
	"errors"

	"github.com/p-n-ai/pai-quest/internal/curriculum"
	"github.com/p-n-ai/pai-quest/internal/game"
	"github.com/p-n-ai/pai-quest/internal/question"
)

// Client frame types.
const (
	FrameFinishIntro      = "finish_intro"
	FrameSelectLevel      = "select_level"
	FrameCutsceneComplete = "cutscene_complete"
	FrameSubmitAnswer     = "submit_answer"
	FrameTimeUp           = "time_up"
	FramePause            = "pause"
	FrameResume           = "resume"
	FrameExit             = "exit"
	FrameReset            = "reset"
)

// Server frame types.
const (
	FrameState = "state"
	FrameSync  = "sync"
	FrameError = "error"
)

// Error codes carried in error frames.
const (
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeFailedPrecondition = "FAILED_PRECONDITION"
	CodeLevelLocked        = "LEVEL_LOCKED"
	CodeSessionClosed      = "SESSION_CLOSED"
	CodeUnavailable        = "UNAVAILABLE"
	CodeNotFound           = "NOT_FOUND"
)

// ClientFrame is a presentation-layer event.
type ClientFrame struct {
	Type   string          `json:"type"`
	Level  int             `json:"level,omitempty"`
	Answer json.RawMessage `json:"answer,omitempty"`
}

// ServerFrame is a message to the presentation layer.
type ServerFrame struct {
	Type    string             `json:"type"`
	State   *game.State        `json:"state,omitempty"`
	Answer  *game.AnswerResult `json:"answer,omitempty"`
	Outcome *game.Outcome      `json:"outcome,omitempty"`
	Sync    *game.SyncResult   `json:"sync,omitempty"`
	Error   *ErrorBody         `json:"error,omitempty"`
}

// ErrorBody describes a rejected frame. Retryable errors may succeed if the
// client repeats the request later.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func errorFrame(err error) ServerFrame {
	body := &ErrorBody{Code: CodeInvalidArgument, Message: err.Error()}
	switch {
	case errors.Is(err, game.ErrInvalidTransition):
		body.Code = CodeFailedPrecondition
	case errors.Is(err, game.ErrLevelLocked):
		body.Code = CodeLevelLocked
	case errors.Is(err, game.ErrSessionClosed):
		body.Code = CodeSessionClosed
	case errors.Is(err, curriculum.ErrNotFound):
		body.Code = CodeNotFound
		body.Retryable = true
	case errors.Is(err, question.ErrUnknownKind), errors.Is(err, game.ErrUnknownLevel):
		body.Code = CodeInvalidArgument
	}
	return ServerFrame{Type: FrameError, Error: body}
}
