package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/visagelab/facetrial/internal/health"
	"github.com/visagelab/facetrial/internal/session"
	capturemock "github.com/visagelab/facetrial/pkg/capture/mock"
	classifiermock "github.com/visagelab/facetrial/pkg/classifier/mock"
	stimulusmock "github.com/visagelab/facetrial/pkg/stimulus/mock"
)

// newTestServer wires a control server around mock collaborators. The
// returned player lets tests end the stimulus on demand.
func newTestServer(t *testing.T) (*Server, *stimulusmock.Player) {
	t.Helper()
	player := &stimulusmock.Player{}
	factory := func(onComplete session.CompletionFunc, onFailure session.FailureFunc) (*session.Controller, error) {
		return session.New(session.Config{
			Classifier: &classifiermock.Provider{},
			Camera: &capturemock.Platform{
				OpenResult: &capturemock.Session{},
			},
			Player:         player,
			UserID:         "participant-7",
			SampleInterval: time.Hour, // ticks are irrelevant here
			OnComplete:     onComplete,
			OnFailure:      onFailure,
		})
	}
	srv := NewServer(factory, health.New(), nil, nil)
	t.Cleanup(func() { srv.Close() })
	return srv, player
}

func postJSON(t *testing.T, ts *httptest.Server, path string) (*http.Response, statusResponse) {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return resp, body
}

func getStatus(t *testing.T, ts *httptest.Server) statusResponse {
	t.Helper()
	resp, err := http.Get(ts.URL + "/api/session")
	if err != nil {
		t.Fatalf("GET /api/session: %v", err)
	}
	defer resp.Body.Close()
	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return body
}

func waitForState(t *testing.T, ts *httptest.Server, want string) statusResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := getStatus(t, ts)
		if st.State == want {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %q, last was %q", want, getStatus(t, ts).State)
	return statusResponse{}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	if st := getStatus(t, ts); st.State != "idle" {
		t.Fatalf("want idle before start, got %q", st.State)
	}

	resp, body := postJSON(t, ts, "/api/session/start")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("want 202 on start, got %d", resp.StatusCode)
	}
	if body.State == "idle" {
		t.Fatalf("start left session idle")
	}

	waitForState(t, ts, "recording")

	resp, _ = postJSON(t, ts, "/api/session/start")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("want 409 starting a running session, got %d", resp.StatusCode)
	}

	resp, _ = postJSON(t, ts, "/api/session/stop")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200 on stop, got %d", resp.StatusCode)
	}
	waitForState(t, ts, "completed")

	// Stop after completion stays a success.
	resp, body = postJSON(t, ts, "/api/session/stop")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want idempotent stop, got %d", resp.StatusCode)
	}
	if body.State != "completed" {
		t.Fatalf("want completed after late stop, got %q", body.State)
	}

	// A finished session may be replaced by a new run.
	resp, _ = postJSON(t, ts, "/api/session/start")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("want new run after completion, got %d", resp.StatusCode)
	}
}

func TestStopWithoutSession(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, body := postJSON(t, ts, "/api/session/stop")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200 stopping with no session, got %d", resp.StatusCode)
	}
	if body.State != "idle" {
		t.Fatalf("want idle, got %q", body.State)
	}
}

func TestEventStream(t *testing.T) {
	t.Parallel()
	srv, player := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + ts.URL[len("http"):] + "/api/session/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial events stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	if resp, _ := postJSON(t, ts, "/api/session/start"); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("want 202 on start, got %d", resp.StatusCode)
	}

	waitForState(t, ts, "recording")
	player.EmitEnded()

	sawRecording, sawCompleted := false, false
	for !sawCompleted {
		var ev Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		switch {
		case ev.Type == "state" && ev.State == "recording":
			sawRecording = true
		case ev.Type == "completed":
			sawCompleted = true
		}
	}
	if !sawRecording {
		t.Error("event stream never reported the recording state")
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: want 200, got %d", path, resp.StatusCode)
		}
	}
}
