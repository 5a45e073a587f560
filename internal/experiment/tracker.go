package experiment

import (
	"log"
	"math"
	"sync"
	"time"
)

// PlaybackStateEnded is the provider state code for natural end-of-playback.
// No other state code advances the experiment.
const PlaybackStateEnded = 0

// PlaybackCallbacks receive the provider's asynchronous lifecycle events.
type PlaybackCallbacks struct {
	OnReady       func()
	OnStateChange func(stateCode int)
}

// PlaybackHandle is one live playback instance.
type PlaybackHandle interface {
	Play() error
	// Position reports the playhead in seconds; false when unknown.
	Position() (float64, bool)
	Destroy() error
}

// PlaybackProvider is the external playback component boundary.
type PlaybackProvider interface {
	// ResolveID canonicalizes an arbitrary video reference. Failure is a
	// configuration fault, not retried.
	ResolveID(ref string) (string, error)
	Create(sessionID, videoID string, cb PlaybackCallbacks) (PlaybackHandle, error)
}

// DefaultReadyTimeout bounds the wait for the playback runtime's one-shot
// ready signal before the tracker reports a configuration fault.
const DefaultReadyTimeout = 30 * time.Second

// Tracker binds to exactly one playback instance per video, observes its
// lifecycle and produces WatchMetrics. A prior instance is torn down before
// a new one exists, so ended events are never ambiguous as to source.
type Tracker struct {
	provider PlaybackProvider
	timeout  time.Duration
	now      func() time.Time

	mu         sync.Mutex
	handle     PlaybackHandle
	metrics    WatchMetrics
	ready      bool
	ended      bool
	readyTimer *time.Timer
	onComplete func(WatchMetrics)
	onFault    func(error)
}

func NewTracker(provider PlaybackProvider, readyTimeout time.Duration) *Tracker {
	if readyTimeout <= 0 {
		readyTimeout = DefaultReadyTimeout
	}
	return &Tracker{
		provider: provider,
		timeout:  readyTimeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Begin resolves the video reference, tears down any prior instance and
// binds a fresh one. onComplete fires once, on the provider's terminal ended
// event; onFault fires when the runtime never reaches ready or the reference
// cannot be resolved after binding.
func (t *Tracker) Begin(sessionID, videoRef string, onComplete func(WatchMetrics), onFault func(error)) error {
	videoID, err := t.provider.ResolveID(videoRef)
	if err != nil {
		log.Printf("tracker: resolve video ref %q: %v", videoRef, err)
		return ErrUnresolvableVideo
	}

	t.Teardown()

	t.mu.Lock()
	t.metrics = WatchMetrics{}
	t.ready = false
	t.ended = false
	t.onComplete = onComplete
	t.onFault = onFault
	t.mu.Unlock()

	handle, err := t.provider.Create(sessionID, videoID, PlaybackCallbacks{
		OnReady:       t.handleReady,
		OnStateChange: t.handleStateChange,
	})
	if err != nil {
		log.Printf("tracker: create playback instance for %q: %v", videoID, err)
		return ErrUnresolvableVideo
	}

	t.mu.Lock()
	t.handle = handle
	t.readyTimer = time.AfterFunc(t.timeout, t.handleReadyTimeout)
	t.mu.Unlock()
	return nil
}

func (t *Tracker) handleReady() {
	t.mu.Lock()
	if t.ready || t.handle == nil {
		t.mu.Unlock()
		return
	}
	t.ready = true
	if t.readyTimer != nil {
		t.readyTimer.Stop()
		t.readyTimer = nil
	}
	handle := t.handle
	t.metrics.StartedAt = t.now()
	t.mu.Unlock()

	if err := handle.Play(); err != nil {
		log.Printf("tracker: play request failed: %v", err)
	}
}

func (t *Tracker) handleStateChange(stateCode int) {
	if stateCode != PlaybackStateEnded {
		return
	}
	t.mu.Lock()
	if t.ended || t.handle == nil {
		t.mu.Unlock()
		return
	}
	t.ended = true
	t.metrics.EndedAt = t.now()
	if pos, ok := t.handle.Position(); ok {
		secs := int(math.Round(pos))
		t.metrics.WatchSeconds = &secs
	}
	done := t.onComplete
	m := t.metrics
	t.mu.Unlock()

	if done != nil {
		done(m)
	}
}

func (t *Tracker) handleReadyTimeout() {
	t.mu.Lock()
	if t.ready || t.handle == nil {
		t.mu.Unlock()
		return
	}
	fault := t.onFault
	t.mu.Unlock()

	log.Printf("tracker: playback runtime not ready within %s", t.timeout)
	if fault != nil {
		fault(ErrPlayerNotReady)
	}
}

// Metrics returns a snapshot of the measured exposure so far.
func (t *Tracker) Metrics() WatchMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metrics
}

// Teardown destroys the live instance, if any, and detaches its callbacks.
func (t *Tracker) Teardown() {
	t.mu.Lock()
	handle := t.handle
	t.handle = nil
	if t.readyTimer != nil {
		t.readyTimer.Stop()
		t.readyTimer = nil
	}
	t.onComplete = nil
	t.onFault = nil
	t.mu.Unlock()

	if handle != nil {
		if err := handle.Destroy(); err != nil {
			log.Printf("tracker: destroy playback instance: %v", err)
		}
	}
}
