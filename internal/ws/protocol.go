package ws

import (
	"encoding/json"

	"github.com/experiment-monitor/backend/internal/session"
)

// Server→dashboard snapshot and dashboard→experiment command types.
// Experiment event types live in the session package.
const (
	MsgSessionState   = "session_state"
	MsgControlCommand = "control_command"
)

// Control actions a dashboard may send to the experiment.
const (
	ActionPauseSession  = "pause_session"
	ActionResumeSession = "resume_session"
	ActionPauseVideo    = "pause_video"
	ActionResumeVideo   = "resume_video"
	ActionContinue      = "continue"
)

// CloseInvalidToken is the application close code sent to dashboard
// connections that present a bad token.
const CloseInvalidToken = 4001

type controlCommand struct {
	Action string `json:"action"`
}

// sessionStateMessage serializes a session snapshot with the Session
// fields spread beside the type tag, the shape late-joining dashboards
// expect.
func sessionStateMessage(s *session.Session) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		*session.Session
	}{MsgSessionState, s})
}
