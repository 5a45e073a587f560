// Package api exposes the experiment over HTTP: the participant flow, the
// player event relay and the researcher endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/adresearch/adtrial/internal/experiment"
	"github.com/adresearch/adtrial/internal/middleware"
	"github.com/adresearch/adtrial/internal/player"
	"github.com/adresearch/adtrial/internal/research"
	"github.com/adresearch/adtrial/internal/sink"
)

// Router wires the session registry, the playback relay and the research
// services into one HTTP handler.
type Router struct {
	registry  *Registry
	provider  *player.RemoteProvider
	operators *research.OperatorService
	lister    sink.Lister
	auth      *middleware.TokenAuth

	ageGroups []string
	genders   []string

	corsOrigins []string
}

type RouterConfig struct {
	Registry    *Registry
	Provider    *player.RemoteProvider
	Operators   *research.OperatorService
	Lister      sink.Lister
	Auth        *middleware.TokenAuth
	AgeGroups   []string
	Genders     []string
	CORSOrigins []string
}

func NewRouter(cfg RouterConfig) *Router {
	if len(cfg.AgeGroups) == 0 {
		cfg.AgeGroups = experiment.DefaultAgeGroups()
	}
	if len(cfg.Genders) == 0 {
		cfg.Genders = experiment.DefaultGenders()
	}
	return &Router{
		registry:    cfg.Registry,
		provider:    cfg.Provider,
		operators:   cfg.Operators,
		lister:      cfg.Lister,
		auth:        cfg.Auth,
		ageGroups:   cfg.AgeGroups,
		genders:     cfg.Genders,
		corsOrigins: cfg.CORSOrigins,
	}
}

// Handler assembles the chi router with the shared middleware stack.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Logger, chimw.Recoverer)
	r.Use(middleware.SecureHeaders)

	origins := rt.corsOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NoStore)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", rt.handleCreateSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", rt.handleGetSession)
				r.Post("/consent", rt.handleConsent)
				r.Post("/demographics", rt.handleDemographics)
				r.Post("/answer", rt.handleAnswer)
				r.Post("/navigate", rt.handleNavigate)
				r.Post("/more-info", rt.handleMoreInfo)
				r.Post("/submit", rt.handleSubmit)
				r.Post("/player/events", rt.handlePlayerEvent)
				r.Get("/ws", rt.handleWS)
			})
		})

		r.Route("/operator", func(r chi.Router) {
			r.Post("/login", rt.handleOperatorLogin)
			r.Group(func(r chi.Router) {
				r.Use(rt.auth.RequireOperator)
				r.Get("/submissions", rt.handleSubmissions)
				r.Get("/export", rt.handleExport)
				r.Get("/metrics/alpha", rt.handleAlpha)
			})
		})
	})

	return r
}

// POST /api/sessions
func (rt *Router) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	s, err := rt.registry.Create()
	if err != nil {
		log.Printf("api: create session: %v", err)
		writeError(w, experiment.NewConfigurationError("the study is not available right now"))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session":       s.Snapshot(),
		"age_groups":    rt.ageGroups,
		"genders":       rt.genders,
		"likert_labels": experiment.LikertLabels,
	})
}

// GET /api/sessions/{sessionID}
func (rt *Router) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := rt.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// POST /api/sessions/{sessionID}/consent
func (rt *Router) handleConsent(w http.ResponseWriter, r *http.Request) {
	s, ok := rt.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Granted bool `json:"granted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.SubmitConsent(req.Granted); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// POST /api/sessions/{sessionID}/demographics
func (rt *Router) handleDemographics(w http.ResponseWriter, r *http.Request) {
	s, ok := rt.session(w, r)
	if !ok {
		return
	}
	var req struct {
		AgeGroup string `json:"age_group"`
		Gender   string `json:"gender"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.SubmitDemographics(req.AgeGroup, req.Gender); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// POST /api/sessions/{sessionID}/answer
func (rt *Router) handleAnswer(w http.ResponseWriter, r *http.Request) {
	s, ok := rt.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Value int `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.AnswerCurrent(req.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// POST /api/sessions/{sessionID}/navigate
func (rt *Router) handleNavigate(w http.ResponseWriter, r *http.Request) {
	s, ok := rt.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Direction string `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Navigate(req.Direction); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// POST /api/sessions/{sessionID}/more-info
func (rt *Router) handleMoreInfo(w http.ResponseWriter, r *http.Request) {
	s, ok := rt.session(w, r)
	if !ok {
		return
	}
	url, err := s.MoreInfoClicked()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url, "session": s.Snapshot()})
}

// POST /api/sessions/{sessionID}/submit
func (rt *Router) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s, ok := rt.session(w, r)
	if !ok {
		return
	}
	code, err := s.Submit(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"completion_code": code, "session": s.Snapshot()})
}

// POST /api/sessions/{sessionID}/player/events is the non-websocket relay
// path for playback runtime events.
func (rt *Router) handlePlayerEvent(w http.ResponseWriter, r *http.Request) {
	s, ok := rt.session(w, r)
	if !ok {
		return
	}
	var ev player.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := rt.provider.Dispatch(s.ID(), ev); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// POST /api/operator/login
func (rt *Router) handleOperatorLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	token, err := rt.operators.Login(req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(rt.operators.TokenTTL().Seconds()),
	})
}

// GET /api/operator/submissions
func (rt *Router) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	records, err := rt.lister.List(r.Context())
	if err != nil {
		log.Printf("api: list submissions: %v", err)
		writeError(w, experiment.NewUnavailableError("submission store unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": records, "count": len(records)})
}

// GET /api/operator/export?format=long|wide
func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request) {
	records, err := rt.lister.List(r.Context())
	if err != nil {
		log.Printf("api: export submissions: %v", err)
		writeError(w, experiment.NewUnavailableError("submission store unavailable"))
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "wide"
	}
	var out []byte
	switch format {
	case "long":
		out, err = research.ExportLongCSV(records)
	case "wide":
		out, err = research.ExportWideCSV(records)
	default:
		writeError(w, experiment.NewInvalidError("format must be long or wide"))
		return
	}
	if err != nil {
		log.Printf("api: render %s export: %v", format, err)
		writeError(w, experiment.NewUnavailableError("export failed"))
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="submissions_`+format+`.csv"`)
	_, _ = w.Write(out)
}

// GET /api/operator/metrics/alpha
func (rt *Router) handleAlpha(w http.ResponseWriter, r *http.Request) {
	records, err := rt.lister.List(r.Context())
	if err != nil {
		log.Printf("api: alpha submissions: %v", err)
		writeError(w, experiment.NewUnavailableError("submission store unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, research.AlphaFromRecords(records))
}

func (rt *Router) session(w http.ResponseWriter, r *http.Request) (*experiment.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	s, ok := rt.registry.Get(id)
	if !ok {
		writeError(w, experiment.NewNotFoundError("unknown session"))
		return nil, false
	}
	return s, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the service error taxonomy onto HTTP statuses. Sentinel
// errors from the flow controller are participant mistakes, not server
// faults, and map to 400.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	if se, ok := experiment.AsServiceError(err); ok {
		msg = se.Message
		switch se.Code {
		case experiment.ErrorInvalid:
			status = http.StatusBadRequest
		case experiment.ErrorConflict:
			status = http.StatusConflict
		case experiment.ErrorNotFound:
			status = http.StatusNotFound
		case experiment.ErrorUnauthorized:
			status = http.StatusUnauthorized
		case experiment.ErrorUnavailable:
			status = http.StatusServiceUnavailable
		case experiment.ErrorConfiguration:
			status = http.StatusInternalServerError
		}
	} else if errors.Is(err, experiment.ErrIncompleteResponses) ||
		errors.Is(err, experiment.ErrUnansweredQuestion) ||
		errors.Is(err, experiment.ErrValueOutOfScale) {
		status = http.StatusBadRequest
		msg = err.Error()
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// StartSweeper runs the registry sweep on a fixed cadence until the stop
// channel closes.
func StartSweeper(reg *Registry, ttl, every time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-t.C:
				reg.Sweep(ttl, now)
			}
		}
	}()
}
