package ws

import (
	"log"
	"sync"

	"github.com/experiment-monitor/backend/internal/session"
	"github.com/gorilla/websocket"
)

// Router dispatches every inbound message: applies it to the session
// store, fans it out to dashboards, and relays dashboard control
// commands to the experiment connection. Delivery is best-effort with
// no acks; per-sender order is preserved because each connection's
// read loop calls route synchronously.
//
// The mutex serializes apply+fan-out against dashboard registration so
// a late joiner always receives its snapshot before the first routed
// event, never interleaved with one.
type Router struct {
	mu    sync.Mutex
	store *session.Store
	hub   *Hub
}

func NewRouter(store *session.Store, hub *Hub) *Router {
	return &Router{store: store, hub: hub}
}

func (r *Router) route(src *client, raw []byte) {
	env, err := session.DecodeEnvelope(raw)
	if err != nil {
		// Only error path: malformed payloads are dropped without a
		// reply to the sender.
		log.Printf("dropping unparseable message: %v", err)
		return
	}

	if src != nil && src.role == RoleDashboard && env.Type == MsgControlCommand {
		r.dispatchControl(env)
		return
	}

	r.mu.Lock()
	r.store.Apply(env)
	r.fanOut(env.Raw())
	r.mu.Unlock()
}

// RegisterDashboard adds conn as a dashboard and, when a session is
// live, queues its session_state snapshot ahead of any routed traffic.
func (r *Router) RegisterDashboard(conn *websocket.Conn) (*client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.hub.AddDashboard(conn)
	if err != nil {
		return nil, err
	}
	if snap := r.store.Snapshot(); snap != nil {
		if data, err := sessionStateMessage(snap); err == nil {
			c.trySend(data)
		}
	}
	return c, nil
}

// InjectExperimentEvent routes raw as if the experiment connection had
// sent it. Used by the synthetic experiment driver.
func (r *Router) InjectExperimentEvent(raw []byte) {
	r.route(nil, raw)
}

func (r *Router) dispatchControl(env *session.Envelope) {
	var cmd controlCommand
	_ = env.Payload(&cmd)

	exp := r.hub.Experiment()
	if exp == nil {
		log.Printf("control command %q dropped: no experiment connected", cmd.Action)
		return
	}
	if !exp.trySend(env.Raw()) {
		log.Printf("control command %q dropped: experiment connection not writable", cmd.Action)
	}
}

func (r *Router) fanOut(data []byte) {
	for _, c := range r.hub.Dashboards() {
		if !c.trySend(data) {
			// Can't keep up or already closing; drop it from the roster
			// so the rest of the fan-out is unaffected.
			log.Printf("dashboard %s too slow, disconnecting", c.id)
			r.hub.Unregister(c)
		}
	}
}
