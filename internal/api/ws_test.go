package api

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adresearch/adtrial/internal/player"
)

// The study page opens the socket right after session creation, before any
// playback exists. Actions queued when playback starts must still reach it.
func TestWebSocketConnectedBeforeVideoStage(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv.URL)
	base := srv.URL + "/api/sessions/" + id

	postJSON(t, base+"/consent", map[string]any{"granted": true})

	wsURL := strings.Replace(base, "http://", "ws://", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	postJSON(t, base+"/demographics", map[string]any{"age_group": "18-25", "gender": "Female"})

	// Demographics starts playback; the load action must arrive on the
	// already-connected socket.
	for {
		var env wsEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("never received the load action: %v", err)
		}
		if env.Kind != "action" {
			continue
		}
		if env.Action == nil || env.Action.Action != "load" || env.Action.VideoID == "" {
			t.Fatalf("first action = %+v, want load with a video id", env.Action)
		}
		break
	}
}

func TestWebSocketRelay(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv.URL)
	base := srv.URL + "/api/sessions/" + id

	postJSON(t, base+"/consent", map[string]any{"granted": true})
	postJSON(t, base+"/demographics", map[string]any{"age_group": "18-25", "gender": "Male"})

	wsURL := strings.Replace(base, "http://", "ws://", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// The load action queued while no renderer was attached flushes first.
	var env wsEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	if env.Kind != "action" || env.Action == nil || env.Action.Action != "load" {
		t.Fatalf("first frame = %+v, want load action", env)
	}
	if env.Action.VideoID == "" {
		t.Fatal("load action carries no video id")
	}

	// Runtime reports readiness; the server answers with a play action.
	ready := player.Event{Type: "ready"}
	if err := conn.WriteJSON(wsEnvelope{Kind: "event", Event: &ready}); err != nil {
		t.Fatalf("send ready: %v", err)
	}
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read play frame: %v", err)
	}
	if env.Kind != "action" || env.Action == nil || env.Action.Action != "play" {
		t.Fatalf("frame after ready = %+v, want play action", env)
	}

	// The video ends; the server pushes the questions-stage snapshot.
	pos := 31.6
	endCode := 0
	ended := player.Event{Type: "state", Code: &endCode, Position: &pos}
	if err := conn.WriteJSON(wsEnvelope{Kind: "event", Event: &ended}); err != nil {
		t.Fatalf("send ended: %v", err)
	}
	for {
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read snapshot frame: %v", err)
		}
		if env.Kind != "snapshot" {
			continue
		}
		if got := string(env.Snapshot.Stage); got != "questions" {
			t.Fatalf("pushed snapshot stage = %q, want questions", got)
		}
		break
	}
}
