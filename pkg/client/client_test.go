package client

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jointcal/jointcal/pkg/events"
)

// newUnixServer serves h on a unix socket and returns a client for it.
func newUnixServer(t *testing.T, h http.Handler) *Client {
	t.Helper()

	socket := filepath.Join(t.TempDir(), "d.sock")
	l, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	srv := httptest.NewUnstartedServer(h)
	srv.Listener = l
	srv.Start()
	t.Cleanup(srv.Close)

	return NewClient(socket)
}

func TestSendStatusMapping(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/busy", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `"calibration or parking already in progress"`)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `"boom"`)
	})
	c := newUnixServer(t, mux)

	if _, err := c.Post("/busy", ""); !errors.Is(err, ErrBusy) {
		t.Fatalf("409: got %v, want ErrBusy", err)
	}
	if _, err := c.Get("/missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("404: got %v, want ErrNotFound", err)
	}
	_, err := c.Get("/broken")
	if err == nil || err.Error() != "got 500: boom" {
		t.Fatalf("500: got %v", err)
	}
	if _, err := c.Send("DELETE", "/x", ""); err == nil {
		t.Fatalf("expected unknown method error")
	}
}

func TestDaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "nothing.sock"))
	if _, err := c.GetVersion(); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("got %v, want ErrDaemonNotRunning", err)
	}
}

func TestAPIs(t *testing.T) {
	var parkBody, postponeBody, scheduleBody string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `"v1.2.3"`)
	})
	mux.HandleFunc("POST /park", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		parkBody = string(b)
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `"parking started"`)
	})
	mux.HandleFunc("POST /schedule/postpone", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		postponeBody = string(b)
		_, _ = io.WriteString(w, `"ok"`)
	})
	mux.HandleFunc("PUT /schedule", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		scheduleBody = string(b)
		_, _ = io.WriteString(w, `{"nextRuns":["2026-01-01T00:00:00Z","2026-01-02T00:00:00Z","2026-01-03T00:00:00Z"]}`)
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"device":"head","activity":"Calibrating","group":1,"phase":"AwaitZeroThreshold","joints":6,"groups":3}`)
	})
	c := newUnixServer(t, mux)

	v, err := c.GetVersion()
	if err != nil || v != "v1.2.3" {
		t.Fatalf("GetVersion() = %q, %v", v, err)
	}

	msg, err := c.Park(false)
	if err != nil || msg != "parking started" {
		t.Fatalf("Park() = %q, %v", msg, err)
	}
	if parkBody != "false" {
		t.Fatalf("park body = %q", parkBody)
	}

	if _, err := c.Postpone(90 * time.Minute); err != nil {
		t.Fatalf("Postpone() error: %v", err)
	}
	if postponeBody != `"1h30m0s"` {
		t.Fatalf("postpone body = %q", postponeBody)
	}

	next, err := c.Schedule("0 3 * * *")
	if err != nil {
		t.Fatalf("Schedule() error: %v", err)
	}
	if scheduleBody != `"0 3 * * *"` || len(next) != 3 {
		t.Fatalf("schedule body = %q, next = %v", scheduleBody, next)
	}

	st, err := c.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus() error: %v", err)
	}
	if st.Device != "head" || st.Group != 1 || st.Phase != "AwaitZeroThreshold" {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestSubscribeEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(events.Event{Name: events.Park, Data: []byte(`{"device":"torso","finished":true,"ts":1}`)})
		// wait for the client to go away
		_, _, _ = conn.ReadMessage()
	})
	c := newUnixServer(t, mux)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := c.SubscribeEvents(ctx)
	if err != nil {
		t.Fatalf("SubscribeEvents() error: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Name != events.Park {
			t.Fatalf("event name = %q", ev.Name)
		}
		p, err := events.DecodeAs[events.ParkEvent](ev)
		if err != nil || p.Device != "torso" || !p.Finished {
			t.Fatalf("unexpected payload %+v, %v", p, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event received")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed after cancel")
	}
}
