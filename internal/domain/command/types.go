// Package command implements the rendezvous queue between tool handlers and
// the browser extension poller.
package command

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Action identifies a browser command kind.
type Action string

// Supported browser actions.
const (
	ActionNavigate   Action = "navigate"
	ActionClick      Action = "click"
	ActionType       Action = "type"
	ActionSnapshot   Action = "snapshot"
	ActionScreenshot Action = "screenshot"
	ActionConsole    Action = "console"
	ActionWait       Action = "wait"
)

// IsValid reports whether the action is a known browser action.
func (a Action) IsValid() bool {
	switch a {
	case ActionNavigate, ActionClick, ActionType, ActionSnapshot,
		ActionScreenshot, ActionConsole, ActionWait:
		return true
	default:
		return false
	}
}

// Command is a unit of work handed to the extension via polling.
type Command struct {
	ID        string         `json:"id"`
	Action    Action         `json:"action"`
	Params    map[string]any `json:"params,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// New creates a Command with a fresh UUID.
func New(action Action, params map[string]any) *Command {
	return &Command{
		ID:        uuid.New().String(),
		Action:    action,
		Params:    params,
		CreatedAt: time.Now(),
	}
}

// Completion is the extension's reply to a command.
type Completion struct {
	CommandID string `json:"command_id"`
	Success   bool   `json:"success"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ErrTimeout is returned by Wait when no completion arrives in time.
var ErrTimeout = errors.New("timed out waiting for command result")
