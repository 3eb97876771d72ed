package session

// Trial describes the trial the experiment is currently presenting.
type Trial struct {
	TrialIndex  int    `json:"trial_index"`
	TotalTrials int    `json:"total_trials"`
	Task        string `json:"task"`
	Block       string `json:"block"`
	Video       string `json:"video"`
}

// Rating is one submitted rating, appended for the life of a session.
type Rating struct {
	Type      string  `json:"type"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

// Session is the aggregated state of the single running experiment
// session. Field names and null/[] semantics match the wire protocol:
// absent trial, block and dial values serialize as explicit nulls so
// dashboards can distinguish "not yet reported" from a zero value.
type Session struct {
	ParticipantID string   `json:"participant_id"`
	StartTime     int64    `json:"start_time"`
	CurrentTrial  *Trial   `json:"current_trial"`
	CurrentBlock  *string  `json:"current_block"`
	DialValue     *float64 `json:"dial_value"`
	Ratings       []Rating `json:"ratings"`
}

// Clone returns a deep copy of the Session, duplicating pointer and
// slice fields so the copy can be retained and mutated independently.
func (s *Session) Clone() *Session {
	c := *s
	if s.CurrentTrial != nil {
		t := *s.CurrentTrial
		c.CurrentTrial = &t
	}
	if s.CurrentBlock != nil {
		b := *s.CurrentBlock
		c.CurrentBlock = &b
	}
	if s.DialValue != nil {
		v := *s.DialValue
		c.DialValue = &v
	}
	c.Ratings = make([]Rating, len(s.Ratings))
	copy(c.Ratings, s.Ratings)
	return &c
}
