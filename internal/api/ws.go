package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/adresearch/adtrial/internal/experiment"
	"github.com/adresearch/adtrial/internal/player"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsEnvelope is one frame in either direction. Outbound frames carry a
// player action or a session snapshot; inbound frames carry player events.
type wsEnvelope struct {
	Kind     string               `json:"kind"` // "action" | "snapshot" | "event"
	Action   *player.Action       `json:"action,omitempty"`
	Snapshot *experiment.Snapshot `json:"snapshot,omitempty"`
	Event    *player.Event        `json:"event,omitempty"`
}

// GET /api/sessions/{sessionID}/ws upgrades to the bidirectional relay: the
// renderer receives playback actions and stage snapshots, and sends playback
// runtime events back.
func (rt *Router) handleWS(w http.ResponseWriter, r *http.Request) {
	s, ok := rt.session(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade for session %s: %v", s.ID(), err)
		return
	}

	// gorilla allows one concurrent writer; actions and snapshots share it.
	var writeMu sync.Mutex
	writeFrame := func(env wsEnvelope) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(env)
	}

	rt.provider.Attach(s.ID(), func(a player.Action) error {
		return writeFrame(wsEnvelope{Kind: "action", Action: &a})
	})
	s.SetNotify(func(snap experiment.Snapshot) {
		if err := writeFrame(wsEnvelope{Kind: "snapshot", Snapshot: &snap}); err != nil {
			log.Printf("ws: push snapshot for session %s: %v", s.ID(), err)
		}
	})

	defer func() {
		s.SetNotify(nil)
		rt.provider.Detach(s.ID())
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("ws: malformed frame for session %s: %v", s.ID(), err)
			continue
		}
		if env.Kind != "event" || env.Event == nil {
			continue
		}
		if err := rt.provider.Dispatch(s.ID(), *env.Event); err != nil {
			log.Printf("ws: dispatch event for session %s: %v", s.ID(), err)
		}
	}
}
