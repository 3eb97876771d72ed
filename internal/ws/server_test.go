package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/experiment-monitor/backend/internal/config"
	"github.com/experiment-monitor/backend/internal/health"
	"github.com/experiment-monitor/backend/internal/session"
	"github.com/gorilla/websocket"
)

const testPassword = "secret"

type testRelay struct {
	srv    *httptest.Server
	store  *session.Store
	hub    *Hub
	server *Server
}

func newTestRelay(t *testing.T, maxDashboards int) *testRelay {
	t.Helper()

	cfg := &config.Config{Password: testPassword}
	cfg.Monitor.MaxDashboards = maxDashboards

	store := session.NewStore()
	hub := NewHub(maxDashboards, 0)
	router := NewRouter(store, hub)
	s := NewServer(cfg, store, hub, router, health.NewProbe(), nil)

	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	srv := httptest.NewServer(securityHeaders(mux))
	t.Cleanup(srv.Close)

	return &testRelay{srv: srv, store: store, hub: hub, server: s}
}

func (tr *testRelay) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(tr.srv.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func dial(t *testing.T, tr *testRelay, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(tr.wsURL(query), nil)
	if err != nil {
		t.Fatalf("dial %q: %v", query, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func readMessage(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return data
}

func readType(t *testing.T, conn *websocket.Conn) (string, []byte) {
	t.Helper()
	data := readMessage(t, conn)
	env, err := session.DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("received unparseable message %s: %v", data, err)
	}
	return env.Type, data
}

func TestHandleWS_DashboardInvalidToken(t *testing.T) {
	tr := newTestRelay(t, 0)

	conn := dial(t, tr, "type=dashboard&token=wrong")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, CloseInvalidToken) {
		t.Fatalf("expected close code %d, got %v", CloseInvalidToken, err)
	}

	if tr.hub.DashboardCount() != 0 {
		t.Error("rejected dashboard must never be registered")
	}
}

func TestHandleWS_ExperimentNeedsNoToken(t *testing.T) {
	tr := newTestRelay(t, 0)

	dial(t, tr, "")
	waitFor(t, tr.hub.ExperimentConnected, "experiment registration")
}

func TestHandleWS_LateJoinerGetsSnapshotFirst(t *testing.T) {
	tr := newTestRelay(t, 0)

	exp := dial(t, tr, "")
	waitFor(t, tr.hub.ExperimentConnected, "experiment registration")

	send := func(raw string) {
		if err := exp.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatal(err)
		}
	}
	send(`{"type":"session_start","participant_id":"P1","timestamp":1000}`)
	send(`{"type":"dial_value","value":7.5,"timestamp":2000}`)
	waitFor(t, func() bool {
		snap := tr.store.Snapshot()
		return snap != nil && snap.DialValue != nil
	}, "session state")

	dash := dial(t, tr, "type=dashboard&token="+testPassword)

	typ, data := readType(t, dash)
	if typ != MsgSessionState {
		t.Fatalf("first message type = %q, want session_state", typ)
	}
	var snap struct {
		ParticipantID string    `json:"participant_id"`
		StartTime     int64     `json:"start_time"`
		DialValue     *float64  `json:"dial_value"`
		Ratings       []float64 `json:"ratings"`
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.ParticipantID != "P1" || snap.StartTime != 1000 {
		t.Errorf("snapshot = %s", data)
	}
	if snap.DialValue == nil || *snap.DialValue != 7.5 {
		t.Errorf("snapshot dial value = %v, want 7.5", snap.DialValue)
	}

	// Subsequent routed events arrive after the snapshot.
	waitFor(t, func() bool { return tr.hub.DashboardCount() == 1 }, "dashboard registration")
	send(`{"type":"rating_submitted","rating_type":"arousal","value":5,"timestamp":3000}`)

	typ, _ = readType(t, dash)
	if typ != session.TypeRatingSubmitted {
		t.Errorf("message after snapshot = %q, want rating_submitted", typ)
	}
}

func TestHandleWS_ScenarioDialSequence(t *testing.T) {
	tr := newTestRelay(t, 0)

	// Dashboard connects before the session starts: no snapshot.
	dash := dial(t, tr, "type=dashboard&token="+testPassword)
	waitFor(t, func() bool { return tr.hub.DashboardCount() == 1 }, "dashboard registration")

	exp := dial(t, tr, "")
	waitFor(t, tr.hub.ExperimentConnected, "experiment registration")

	for _, raw := range []string{
		`{"type":"session_start","participant_id":"P1","timestamp":1000}`,
		`{"type":"dial_value","value":7.5,"timestamp":2000}`,
		`{"type":"session_end"}`,
	} {
		if err := exp.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatal(err)
		}
	}

	for i, want := range []string{
		session.TypeSessionStart,
		session.TypeDialValue,
		session.TypeSessionEnd,
	} {
		typ, _ := readType(t, dash)
		if typ != want {
			t.Fatalf("message %d type = %q, want %q", i, typ, want)
		}
	}

	if tr.store.Snapshot() != nil {
		t.Error("final snapshot should be absent")
	}
}

func TestHandleWS_TwoDashboardsIdenticalCopies(t *testing.T) {
	tr := newTestRelay(t, 0)

	d1 := dial(t, tr, "type=dashboard&token="+testPassword)
	d2 := dial(t, tr, "type=dashboard&token="+testPassword)
	waitFor(t, func() bool { return tr.hub.DashboardCount() == 2 }, "dashboard registrations")

	exp := dial(t, tr, "")
	waitFor(t, tr.hub.ExperimentConnected, "experiment registration")

	raw := `{"type":"rating_submitted","rating_type":"valence","value":-3,"timestamp":500}`
	if err := exp.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatal(err)
	}

	m1 := readMessage(t, d1)
	m2 := readMessage(t, d2)
	if string(m1) != raw || string(m2) != raw {
		t.Errorf("copies differ from original: %s / %s", m1, m2)
	}
}

func TestHandleWS_ControlCommandReachesExperiment(t *testing.T) {
	tr := newTestRelay(t, 0)

	exp := dial(t, tr, "")
	waitFor(t, tr.hub.ExperimentConnected, "experiment registration")

	dash := dial(t, tr, "type=dashboard&token="+testPassword)
	waitFor(t, func() bool { return tr.hub.DashboardCount() == 1 }, "dashboard registration")

	raw := `{"type":"control_command","action":"pause_video"}`
	if err := dash.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatal(err)
	}

	got := readMessage(t, exp)
	if string(got) != raw {
		t.Errorf("experiment received %s, want verbatim command", got)
	}
}

func TestHandleWS_DashboardLimitClose(t *testing.T) {
	tr := newTestRelay(t, 1)

	dial(t, tr, "type=dashboard&token="+testPassword)
	waitFor(t, func() bool { return tr.hub.DashboardCount() == 1 }, "first dashboard")

	second := dial(t, tr, "type=dashboard&token="+testPassword)
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := second.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy-violation close, got %v", err)
	}
}

func TestBasicAuth(t *testing.T) {
	tr := newTestRelay(t, 0)

	tests := []struct {
		name       string
		user, pass string
		withAuth   bool
		wantStatus int
	}{
		{"NoCredentials", "", "", false, http.StatusUnauthorized},
		{"WrongPassword", "ra", "wrong", true, http.StatusUnauthorized},
		{"AnyUsername", "whoever", testPassword, true, http.StatusOK},
		{"EmptyUsername", "", testPassword, true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, tr.srv.URL+"/api/health", nil)
			if tt.withAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				if got := resp.Header.Get("WWW-Authenticate"); !strings.Contains(got, "Basic") {
					t.Errorf("WWW-Authenticate = %q, want a Basic challenge", got)
				}
			}
		})
	}
}

func TestSessionEndpoint(t *testing.T) {
	tr := newTestRelay(t, 0)

	// No session: endpoint returns JSON null.
	req, _ := http.NewRequest(http.MethodGet, tr.srv.URL+"/api/session", nil)
	req.SetBasicAuth("", testPassword)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var snap *session.Session
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if snap != nil {
		t.Errorf("expected null session, got %+v", snap)
	}

	exp := dial(t, tr, "")
	waitFor(t, tr.hub.ExperimentConnected, "experiment registration")
	if err := exp.WriteMessage(websocket.TextMessage, []byte(`{"type":"session_start","participant_id":"P7","timestamp":1}`)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, tr.store.Active, "session start")

	req2, _ := http.NewRequest(http.MethodGet, tr.srv.URL+"/api/session", nil)
	req2.SetBasicAuth("", testPassword)
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if err := json.NewDecoder(resp2.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap == nil || snap.ParticipantID != "P7" {
		t.Errorf("session = %+v, want participant P7", snap)
	}
}

func TestHealthEndpoint(t *testing.T) {
	tr := newTestRelay(t, 0)

	dial(t, tr, "type=dashboard&token="+testPassword)
	waitFor(t, func() bool { return tr.hub.DashboardCount() == 1 }, "dashboard registration")

	req, _ := http.NewRequest(http.MethodGet, tr.srv.URL+"/api/health", nil)
	req.SetBasicAuth("", testPassword)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Status              string `json:"status"`
		Dashboards          int    `json:"dashboards"`
		ExperimentConnected bool   `json:"experiment_connected"`
		SessionActive       bool   `json:"session_active"`
		Goroutines          int    `json:"goroutines"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q", body.Status)
	}
	if body.Dashboards != 1 {
		t.Errorf("dashboards = %d, want 1", body.Dashboards)
	}
	if body.ExperimentConnected || body.SessionActive {
		t.Errorf("unexpected flags: %+v", body)
	}
	if body.Goroutines <= 0 {
		t.Errorf("goroutines = %d", body.Goroutines)
	}
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	securityHeaders(inner).ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"X-XSS-Protection":        "1; mode=block",
		"Content-Security-Policy": "default-src 'self'",
	}

	for header, expected := range want {
		if got := rec.Header().Get(header); got != expected {
			t.Errorf("header %s = %q, want %q", header, got, expected)
		}
	}
}
