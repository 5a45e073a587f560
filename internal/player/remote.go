// Package player binds the server-side experiment controller to the
// browser-hosted video playback runtime. The runtime's lifecycle events are
// relayed by the rendering layer; this package turns them into the playback
// callbacks the watch tracker consumes, and queues outbound control actions
// (load, play, destroy) for the renderer to apply.
package player

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	youtube "github.com/kkdai/youtube/v2"

	"github.com/adresearch/adtrial/internal/experiment"
)

// Event is one relayed lifecycle message from the playback runtime.
type Event struct {
	Type string `json:"type"` // "ready" | "state"
	// Code is the provider state code, required for "state" events. It is a
	// pointer so an omitted field is distinguishable from the terminal code 0.
	Code *int `json:"code,omitempty"`
	// Position is the runtime's self-reported playhead in seconds at the
	// moment of the event; nil when the runtime could not read it.
	Position *float64 `json:"position,omitempty"`
}

// Action is one outbound control message for the renderer.
type Action struct {
	Action  string `json:"action"` // "load" | "play" | "destroy"
	VideoID string `json:"video_id,omitempty"`
}

// RemoteProvider implements experiment.PlaybackProvider over the relay.
// Exactly one binding exists per session; creating a new one replaces the
// prior binding wholesale so stale runtime events cannot reach a live watch.
// The renderer's send channel is tracked per session independently of the
// binding, because the socket usually connects before playback exists.
type RemoteProvider struct {
	mu       sync.Mutex
	bindings map[string]*binding
	sends    map[string]func(Action) error
}

func NewRemoteProvider() *RemoteProvider {
	return &RemoteProvider{
		bindings: map[string]*binding{},
		sends:    map[string]func(Action) error{},
	}
}

// ResolveID canonicalizes an arbitrary video reference (watch URL, short
// link, shorts path or bare ID) into a playback ID.
func (p *RemoteProvider) ResolveID(ref string) (string, error) {
	if id, err := youtube.ExtractVideoID(ref); err == nil {
		return id, nil
	}
	if id := extractFromURL(ref); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("no video id in %q", ref)
}

// extractFromURL handles URL shapes the library's extractor rejects, such as
// /shorts/ paths: youtu.be takes its path, a v query parameter wins, and the
// last path segment is the final fallback.
func extractFromURL(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if strings.Contains(u.Hostname(), "youtu.be") {
		return strings.Trim(u.Path, "/")
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// Create registers a fresh binding for the session and queues the load
// action for the renderer.
func (p *RemoteProvider) Create(sessionID, videoID string, cb experiment.PlaybackCallbacks) (experiment.PlaybackHandle, error) {
	p.mu.Lock()
	prior := p.bindings[sessionID]
	b := &binding{provider: p, sessionID: sessionID, videoID: videoID, cb: cb}
	b.send = p.sends[sessionID]
	p.bindings[sessionID] = b
	p.mu.Unlock()

	if prior != nil {
		prior.close()
	}
	b.enqueue(Action{Action: "load", VideoID: videoID})
	return b, nil
}

// Attach registers the renderer's outbound channel for a session. A binding
// already live picks it up immediately and flushes its queued actions; a
// binding created later inherits it.
func (p *RemoteProvider) Attach(sessionID string, send func(Action) error) {
	p.mu.Lock()
	p.sends[sessionID] = send
	b := p.bindings[sessionID]
	p.mu.Unlock()
	if b != nil {
		b.attach(send)
	}
}

// Detach drops the outbound channel, typically on renderer disconnect.
func (p *RemoteProvider) Detach(sessionID string) {
	p.mu.Lock()
	delete(p.sends, sessionID)
	b := p.bindings[sessionID]
	p.mu.Unlock()
	if b != nil {
		b.attach(nil)
	}
}

// Dispatch routes one relayed runtime event into the session's callbacks.
func (p *RemoteProvider) Dispatch(sessionID string, ev Event) error {
	p.mu.Lock()
	b := p.bindings[sessionID]
	p.mu.Unlock()
	if b == nil {
		return experiment.NewNotFoundError("no playback instance for session")
	}
	return b.dispatch(ev)
}

func (p *RemoteProvider) remove(sessionID string, b *binding) {
	p.mu.Lock()
	if p.bindings[sessionID] == b {
		delete(p.bindings, sessionID)
	}
	p.mu.Unlock()
}

// binding is one live playback instance as seen from the server.
type binding struct {
	provider  *RemoteProvider
	sessionID string
	videoID   string
	cb        experiment.PlaybackCallbacks

	mu      sync.Mutex
	send    func(Action) error
	pending []Action
	lastPos float64
	hasPos  bool
	closed  bool
}

func (b *binding) enqueue(a Action) {
	b.mu.Lock()
	send := b.send
	if send == nil {
		b.pending = append(b.pending, a)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	_ = send(a)
}

func (b *binding) attach(send func(Action) error) {
	b.mu.Lock()
	b.send = send
	flush := b.pending
	if send != nil {
		b.pending = nil
	}
	b.mu.Unlock()
	if send != nil {
		for _, a := range flush {
			_ = send(a)
		}
	}
}

func (b *binding) dispatch(ev Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return experiment.NewNotFoundError("playback instance destroyed")
	}
	if ev.Position != nil {
		b.lastPos = *ev.Position
		b.hasPos = true
	}
	cb := b.cb
	b.mu.Unlock()

	switch ev.Type {
	case "ready":
		if cb.OnReady != nil {
			cb.OnReady()
		}
	case "state":
		if ev.Code == nil {
			return experiment.NewInvalidError("state event missing code")
		}
		if cb.OnStateChange != nil {
			cb.OnStateChange(*ev.Code)
		}
	default:
		return experiment.NewInvalidError("unknown player event type")
	}
	return nil
}

func (b *binding) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.cb = experiment.PlaybackCallbacks{}
	b.mu.Unlock()
	b.enqueue(Action{Action: "destroy"})
}

// Play asks the renderer to start playback.
func (b *binding) Play() error {
	b.enqueue(Action{Action: "play"})
	return nil
}

// Position reports the last playhead the runtime relayed, if any.
func (b *binding) Position() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastPos, b.hasPos
}

// Destroy tears the binding down and unregisters it from the provider.
func (b *binding) Destroy() error {
	b.close()
	b.provider.remove(b.sessionID, b)
	return nil
}
