// Package mock drives the relay with a scripted experiment when no
// real experiment client is available, for exercising dashboards.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/experiment-monitor/backend/internal/ws"
)

const (
	totalTrials = 12
	trialTicks  = 8  // ticks spent inside one trial
	restTicks   = 10 // ticks between participants
)

var tasks = []string{"dial", "arousal", "valence"}

type Generator struct {
	router *ws.Router

	participant int
	trial       int
	tickInTrial int
	inSession   bool
	rest        int
	tick        int
}

func NewGenerator(router *ws.Router) *Generator {
	return &Generator{router: router}
}

func (g *Generator) Start(ctx context.Context) {
	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, msg := range g.advance() {
				g.router.InjectExperimentEvent(msg)
			}
		}
	}
}

// advance steps the script by one tick and returns the events the
// scripted experiment emits on that tick.
func (g *Generator) advance() [][]byte {
	g.tick++
	now := time.Now().UnixMilli()

	if g.rest > 0 {
		g.rest--
		return nil
	}

	if !g.inSession {
		g.participant++
		g.trial = 0
		g.tickInTrial = 0
		g.inSession = true
		return [][]byte{marshal(map[string]any{
			"type":           "session_start",
			"participant_id": fmt.Sprintf("P%03d", g.participant),
			"timestamp":      now,
		})}
	}

	if g.trial >= totalTrials {
		g.inSession = false
		g.rest = restTicks
		return [][]byte{marshal(map[string]any{
			"type":      "session_end",
			"timestamp": now,
		})}
	}

	var events [][]byte

	if g.tickInTrial == 0 {
		block := "B1"
		if g.trial >= totalTrials/2 {
			block = "B2"
		}
		events = append(events, marshal(map[string]any{
			"type":         "trial_update",
			"trial_index":  g.trial,
			"total_trials": totalTrials,
			"task":         tasks[g.trial%len(tasks)],
			"block":        block,
			"video":        fmt.Sprintf("clip_%02d.mp4", g.trial+1),
			"timestamp":    now,
		}))
	}

	// Continuous dial wobble while the trial's video plays.
	dial := 5 + 4*math.Sin(float64(g.tick)/6.0) + rand.Float64() - 0.5
	events = append(events, marshal(map[string]any{
		"type":      "dial_value",
		"value":     math.Round(dial*10) / 10,
		"timestamp": now,
	}))

	if g.tickInTrial == trialTicks-1 {
		events = append(events, marshal(map[string]any{
			"type":        "rating_submitted",
			"rating_type": tasks[g.trial%len(tasks)],
			"value":       float64(1 + rand.Intn(9)),
			"timestamp":   now,
		}))
		g.tickInTrial = 0
		g.trial++
	} else {
		g.tickInTrial++
	}

	return events
}

func marshal(v map[string]any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err) // literals above always marshal
	}
	return data
}
