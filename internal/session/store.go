package session

import (
	"sync"
)

// Store owns the single current Session. At most one session exists at
// a time: session_start replaces any prior session outright and
// session_end clears it. All access is serialized by the mutex so the
// Store can be shared between the router and HTTP handlers.
type Store struct {
	mu      sync.RWMutex
	current *Session
}

func NewStore() *Store {
	return &Store{}
}

// Apply mutates the session according to the event type. It is total
// over its input: unrecognized types and events arriving with no live
// session are no-ops.
func (s *Store) Apply(env *Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch env.Type {
	case TypeSessionStart:
		var ev sessionStartEvent
		_ = env.Payload(&ev)
		s.current = &Session{
			ParticipantID: ev.ParticipantID,
			StartTime:     ev.Timestamp,
			Ratings:       []Rating{},
		}

	case TypeTrialUpdate:
		if s.current == nil {
			return
		}
		var ev trialUpdateEvent
		_ = env.Payload(&ev)
		s.current.CurrentTrial = &Trial{
			TrialIndex:  ev.TrialIndex,
			TotalTrials: ev.TotalTrials,
			Task:        ev.Task,
			Block:       ev.Block,
			Video:       ev.Video,
		}
		block := ev.Block
		s.current.CurrentBlock = &block

	case TypeDialValue:
		if s.current == nil {
			return
		}
		var ev dialValueEvent
		_ = env.Payload(&ev)
		value := ev.Value
		s.current.DialValue = &value

	case TypeRatingSubmitted:
		if s.current == nil {
			return
		}
		var ev ratingSubmittedEvent
		_ = env.Payload(&ev)
		s.current.Ratings = append(s.current.Ratings, Rating{
			Type:      ev.RatingType,
			Value:     ev.Value,
			Timestamp: ev.Timestamp,
		})

	case TypeSessionEnd:
		s.current = nil
	}
}

// Snapshot returns a deep copy of the current Session, or nil when no
// session is live.
func (s *Store) Snapshot() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	return s.current.Clone()
}

// Active reports whether a session is currently live.
func (s *Store) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}
