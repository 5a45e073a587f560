package experiment

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// QuestionSource supplies the ordered question sequence for a treatment arm.
// It must never block: while a remote bank fetch is still in flight the
// source returns its degraded default.
type QuestionSource interface {
	QuestionsFor(armCode string) []string
}

// SubmissionSink persists one completed submission. The returned code may be
// sink-generated or pass through the payload's own completion code.
type SubmissionSink interface {
	Submit(ctx context.Context, p *SubmissionPayload) (string, error)
}

// SessionConfig carries the collaborators and catalogues a session needs.
type SessionConfig struct {
	Arms         []Arm
	Questions    QuestionSource
	Sink         SubmissionSink
	Provider     PlaybackProvider
	ReadyTimeout time.Duration

	// AgeGroups are the selectable age bands; EligibleAgeGroups the subset
	// that may proceed past demographics. Empty EligibleAgeGroups means all
	// selectable bands are eligible.
	AgeGroups         []string
	EligibleAgeGroups []string
	Genders           []string

	// Injectable for tests.
	Intn  func(n int) int
	Now   func() time.Time
	IDGen func() string
}

// DefaultAgeGroups is the selectable demographic age catalogue.
func DefaultAgeGroups() []string { return []string{"18-25", "26-35"} }

// DefaultGenders is the selectable gender catalogue.
func DefaultGenders() []string {
	return []string{"Male", "Female", "Other", "Prefer not to say"}
}

// Session is the experiment flow controller for one participant. All session
// state lives here and is mutated only through the named actions and the
// tracker's event entry points.
type Session struct {
	id         string
	randomizer *Randomizer
	tracker    *Tracker
	builder    *SubmissionBuilder
	questions  QuestionSource
	sink       SubmissionSink
	cfg        SessionConfig
	now        func() time.Time

	mu              sync.Mutex
	stage           Stage
	consent         ConsentState
	ageGroup        string
	gender          string
	assignment      *Assignment
	metrics         WatchMetrics
	questionnaire   *Questionnaire
	clickedMoreInfo bool
	completionCode  string
	playerFault     bool
	submitInFlight  bool
	lastActivity    time.Time
	notify          func(Snapshot)
}

// NewSession starts a session in the consent stage. An empty arm set is a
// configuration fault.
func NewSession(cfg SessionConfig) (*Session, error) {
	r, err := NewRandomizer(cfg.Arms, cfg.Intn)
	if err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.IDGen == nil {
		cfg.IDGen = func() string { return "p_" + shortID(7) }
	}
	if len(cfg.AgeGroups) == 0 {
		cfg.AgeGroups = DefaultAgeGroups()
	}
	if len(cfg.Genders) == 0 {
		cfg.Genders = DefaultGenders()
	}
	builder := NewSubmissionBuilder()
	builder.now = cfg.Now
	if cfg.Intn != nil {
		builder.intn = cfg.Intn
	}
	s := &Session{
		id:         cfg.IDGen(),
		randomizer: r,
		tracker:    NewTracker(cfg.Provider, cfg.ReadyTimeout),
		builder:    builder,
		questions:  cfg.Questions,
		sink:       cfg.Sink,
		cfg:        cfg,
		now:        cfg.Now,
		stage:      StageConsent,
	}
	s.lastActivity = s.now()
	return s, nil
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

func (s *Session) ID() string { return s.id }

// SetNotify registers a hook invoked with a fresh snapshot after every state
// change. Used by the transport layer to push stage updates to the renderer.
func (s *Session) SetNotify(fn func(Snapshot)) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

func (s *Session) notifyChanged() {
	s.mu.Lock()
	fn := s.notify
	snap := s.snapshotLocked()
	s.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (s *Session) touchLocked() { s.lastActivity = s.now() }

// LastActivity reports when the session last changed, for registry sweeps.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// SubmitConsent records the participant's choice. Granting moves to
// demographics; declining exits the experiment.
func (s *Session) SubmitConsent(granted bool) error {
	s.mu.Lock()
	if s.stage != StageConsent {
		s.mu.Unlock()
		return NewConflictError("consent already recorded")
	}
	s.touchLocked()
	if granted {
		s.consent = ConsentGranted
		s.stage = StageDemographics
	} else {
		s.consent = ConsentDeclined
		s.stage = StageExit
	}
	s.mu.Unlock()
	s.notifyChanged()
	return nil
}

// SubmitDemographics records age group and gender. On success it draws the
// treatment arm and begins playback; an ineligible age group exits instead.
func (s *Session) SubmitDemographics(ageGroup, gender string) error {
	s.mu.Lock()
	if s.stage != StageDemographics {
		s.mu.Unlock()
		return NewConflictError("demographics not expected in this stage")
	}
	if !contains(s.cfg.AgeGroups, ageGroup) && !contains(s.cfg.EligibleAgeGroups, ageGroup) {
		s.mu.Unlock()
		return NewInvalidError("please select age group and gender")
	}
	if !contains(s.cfg.Genders, gender) {
		s.mu.Unlock()
		return NewInvalidError("please select age group and gender")
	}
	s.touchLocked()
	s.ageGroup = ageGroup
	s.gender = gender
	if len(s.cfg.EligibleAgeGroups) > 0 && !contains(s.cfg.EligibleAgeGroups, ageGroup) {
		s.stage = StageExit
		s.mu.Unlock()
		s.notifyChanged()
		return nil
	}
	arm := s.randomizer.Draw()
	s.assignment = &Assignment{ArmCode: arm.Code, VideoRef: arm.VideoURL, MoreInfoRef: arm.MoreInfoURL}
	s.stage = StageVideo
	s.mu.Unlock()
	s.notifyChanged()

	if err := s.tracker.Begin(s.id, arm.VideoURL, s.handlePlaybackComplete, s.handlePlayerFault); err != nil {
		log.Printf("session %s: begin playback for arm %s: %v", s.id, arm.Code, err)
		s.mu.Lock()
		s.stage = StageDemographics
		s.mu.Unlock()
		s.notifyChanged()
		return NewConfigurationError("the experiment video is unavailable")
	}
	return nil
}

// handlePlaybackComplete is the tracker's terminal end-of-playback signal.
// It is the only way Video advances to Questions.
func (s *Session) handlePlaybackComplete(m WatchMetrics) {
	s.mu.Lock()
	if s.stage != StageVideo {
		s.mu.Unlock()
		return
	}
	s.touchLocked()
	s.metrics = m
	s.questionnaire = NewQuestionnaire(s.questions.QuestionsFor(s.assignment.ArmCode))
	s.stage = StageQuestions
	s.mu.Unlock()
	s.notifyChanged()
}

func (s *Session) handlePlayerFault(err error) {
	log.Printf("session %s: playback fault: %v", s.id, err)
	s.mu.Lock()
	s.playerFault = true
	s.mu.Unlock()
	s.notifyChanged()
}

// AnswerCurrent records a Likert value for the question at the pointer.
func (s *Session) AnswerCurrent(value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageQuestions {
		return NewConflictError("no active question")
	}
	if err := s.questionnaire.AnswerCurrent(value); err != nil {
		return err
	}
	s.touchLocked()
	return nil
}

// Navigate moves the question pointer. direction is "next" or "back".
func (s *Session) Navigate(direction string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageQuestions {
		return NewConflictError("no active question")
	}
	switch direction {
	case "next":
		if err := s.questionnaire.Advance(); err != nil {
			return err
		}
	case "back":
		s.questionnaire.Retreat()
	default:
		return NewInvalidError("unknown navigation direction")
	}
	s.touchLocked()
	return nil
}

// MoreInfoClicked marks the optional product-information click and returns
// the destination URL.
func (s *Session) MoreInfoClicked() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assignment == nil {
		return "", NewConflictError("no assignment yet")
	}
	s.clickedMoreInfo = true
	s.touchLocked()
	return s.assignment.MoreInfoRef, nil
}

// Submit freezes the response set, builds the payload and hands it to the
// sink. A sink failure leaves the session in the questions stage with the
// response set untouched; Submit may then be invoked again explicitly.
func (s *Session) Submit(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.stage == StageComplete {
		s.mu.Unlock()
		return "", NewConflictError("responses already recorded")
	}
	if s.stage != StageQuestions {
		s.mu.Unlock()
		return "", NewConflictError("submission not expected in this stage")
	}
	if s.submitInFlight {
		s.mu.Unlock()
		return "", NewConflictError("submission already in progress")
	}
	if !s.questionnaire.IsComplete() {
		s.mu.Unlock()
		return "", ErrIncompleteResponses
	}
	payload, err := s.builder.Build(
		s.id, s.consent, s.ageGroup, s.gender,
		*s.assignment, s.metrics,
		s.questionnaire.Questions(), s.questionnaire.Answers(),
		s.clickedMoreInfo,
	)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.submitInFlight = true
	s.mu.Unlock()

	code, err := s.sink.Submit(ctx, payload)
	s.mu.Lock()
	s.submitInFlight = false
	if err != nil {
		s.mu.Unlock()
		log.Printf("session %s: submission sink: %v", s.id, err)
		return "", NewUnavailableError("failed to submit, please try again")
	}
	if code == "" {
		code = payload.CompletionCode
	}
	s.completionCode = code
	s.stage = StageComplete
	s.touchLocked()
	s.mu.Unlock()
	s.notifyChanged()
	s.tracker.Teardown()
	return code, nil
}

// Close releases the session's playback resources. Safe to call on any
// stage; a session is never usable again after Close.
func (s *Session) Close() {
	s.tracker.Teardown()
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
