package session

import "encoding/json"

// Event types recognized by the Store. Anything else is passthrough:
// fanned out to dashboards but never applied to session state.
const (
	TypeSessionStart    = "session_start"
	TypeTrialUpdate     = "trial_update"
	TypeDialValue       = "dial_value"
	TypeRatingSubmitted = "rating_submitted"
	TypeSessionEnd      = "session_end"
)

// Envelope is a parsed wire message: the type tag plus the raw bytes
// for per-type payload decoding. A missing type field is not an error;
// such messages are unknown-passthrough.
type Envelope struct {
	Type string
	raw  json.RawMessage
}

// DecodeEnvelope parses raw as a JSON object and extracts its type
// tag. It fails only when raw is not a JSON object at all.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	return &Envelope{Type: head.Type, raw: append(json.RawMessage(nil), raw...)}, nil
}

// Raw returns the original message bytes for relaying.
func (e *Envelope) Raw() []byte {
	return e.raw
}

// Payload decodes the envelope body into v. Decoding is best-effort:
// missing or mistyped fields leave zero values rather than failing, so
// malformed events degrade to absent data instead of errors. The error
// is informational; callers applying events ignore it.
func (e *Envelope) Payload(v any) error {
	return json.Unmarshal(e.raw, v)
}

type sessionStartEvent struct {
	ParticipantID string `json:"participant_id"`
	Timestamp     int64  `json:"timestamp"`
}

type trialUpdateEvent struct {
	TrialIndex  int    `json:"trial_index"`
	TotalTrials int    `json:"total_trials"`
	Task        string `json:"task"`
	Block       string `json:"block"`
	Video       string `json:"video"`
}

type dialValueEvent struct {
	Value float64 `json:"value"`
}

type ratingSubmittedEvent struct {
	RatingType string  `json:"rating_type"`
	Value      float64 `json:"value"`
	Timestamp  int64   `json:"timestamp"`
}
