package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/adresearch/adtrial/internal/experiment"
	"github.com/adresearch/adtrial/internal/middleware"
	"github.com/adresearch/adtrial/internal/player"
	"github.com/adresearch/adtrial/internal/research"
	"github.com/adresearch/adtrial/internal/sink"
)

type staticQuestions []string

func (q staticQuestions) QuestionsFor(string) []string { return q }

func newTestServer(t *testing.T) (*httptest.Server, *sink.MemorySink) {
	t.Helper()
	mem := sink.NewMemorySink()
	provider := player.NewRemoteProvider()
	registry := NewRegistry(func() (*experiment.Session, error) {
		return experiment.NewSession(experiment.SessionConfig{
			Arms:      experiment.DefaultArms(),
			Questions: staticQuestions{"The ad felt trustworthy.", "I would consider the product."},
			Sink:      mem,
			Provider:  provider,
			Intn:      func(n int) int { return 0 },
		})
	})

	hash, err := bcrypt.GenerateFromPassword([]byte("research-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	auth := middleware.NewTokenAuth("test-secret")
	router := NewRouter(RouterConfig{
		Registry:  registry,
		Provider:  provider,
		Operators: research.NewOperatorService(string(hash), auth.SignToken),
		Lister:    mem,
		Auth:      auth,
	})
	srv := httptest.NewServer(router.Handler())
	t.Cleanup(srv.Close)
	return srv, mem
}

func postJSON(t *testing.T, url string, body any) map[string]any {
	t.Helper()
	resp := postJSONStatus(t, url, body, http.StatusOK)
	return resp
}

func postJSONStatus(t *testing.T, url string, body any, want int) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		t.Fatalf("POST %s: status %d, want %d", url, resp.StatusCode, want)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func createSession(t *testing.T, base string) string {
	t.Helper()
	var buf bytes.Buffer
	resp, err := http.Post(base+"/api/sessions", "application/json", &buf)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: status %d", resp.StatusCode)
	}
	var out struct {
		Session struct {
			ParticipantID string `json:"participant_id"`
			Stage         string `json:"stage"`
		} `json:"session"`
		AgeGroups []string `json:"age_groups"`
		Genders   []string `json:"genders"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if out.Session.Stage != "consent" {
		t.Fatalf("new session stage = %q, want consent", out.Session.Stage)
	}
	if len(out.AgeGroups) == 0 || len(out.Genders) == 0 {
		t.Fatal("create response should carry the demographic catalogues")
	}
	return out.Session.ParticipantID
}

func stageOf(resp map[string]any) string {
	if s, ok := resp["stage"].(string); ok {
		return s
	}
	if sess, ok := resp["session"].(map[string]any); ok {
		s, _ := sess["stage"].(string)
		return s
	}
	return ""
}

func TestParticipantFlow(t *testing.T) {
	srv, mem := newTestServer(t)
	id := createSession(t, srv.URL)
	base := srv.URL + "/api/sessions/" + id

	resp := postJSON(t, base+"/consent", map[string]any{"granted": true})
	if got := stageOf(resp); got != "demographics" {
		t.Fatalf("after consent stage = %q", got)
	}

	resp = postJSON(t, base+"/demographics", map[string]any{"age_group": "18-25", "gender": "Female"})
	if got := stageOf(resp); got != "video" {
		t.Fatalf("after demographics stage = %q", got)
	}

	// The playback runtime reports readiness, then the end of the video.
	postJSON(t, base+"/player/events", map[string]any{"type": "ready"})
	resp = postJSON(t, base+"/player/events", map[string]any{"type": "state", "code": 0, "position": 31.4})
	if got := stageOf(resp); got != "questions" {
		t.Fatalf("after video end stage = %q", got)
	}

	// Answer both questions, advancing between them.
	postJSON(t, base+"/answer", map[string]any{"value": 4})
	postJSON(t, base+"/navigate", map[string]any{"direction": "next"})
	postJSON(t, base+"/answer", map[string]any{"value": 5})

	resp = postJSON(t, base+"/submit", nil)
	code, _ := resp["completion_code"].(string)
	if !strings.HasPrefix(code, "C-") || len(code) != 10 {
		t.Fatalf("completion code = %q", code)
	}
	if got := stageOf(resp); got != "complete" {
		t.Fatalf("after submit stage = %q", got)
	}

	records, err := mem.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d stored submissions, want 1", len(records))
	}
	p := records[0].Payload
	if p.ParticipantID != id || p.AssignedAdCode != "CE" {
		t.Fatalf("stored payload = %+v", p)
	}
	if p.WatchSeconds == nil || *p.WatchSeconds != 31 {
		t.Fatalf("watch seconds = %v, want 31", p.WatchSeconds)
	}
	if len(p.Responses) != 2 {
		t.Fatalf("responses = %v", p.Responses)
	}
}

func TestDeclinedConsentExits(t *testing.T) {
	srv, mem := newTestServer(t)
	id := createSession(t, srv.URL)
	base := srv.URL + "/api/sessions/" + id

	resp := postJSON(t, base+"/consent", map[string]any{"granted": false})
	if got := stageOf(resp); got != "exit" {
		t.Fatalf("after declined consent stage = %q", got)
	}
	if records, _ := mem.List(context.Background()); len(records) != 0 {
		t.Fatalf("declined consent must store nothing, got %d records", len(records))
	}
}

func TestSubmitRejectedBeforeQuestions(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv.URL)
	base := srv.URL + "/api/sessions/" + id

	postJSON(t, base+"/consent", map[string]any{"granted": true})
	resp := postJSONStatus(t, base+"/submit", nil, http.StatusConflict)
	if resp["error"] == "" {
		t.Fatal("conflict response should carry an error message")
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	postJSONStatus(t, srv.URL+"/api/sessions/p_missing/consent", map[string]any{"granted": true}, http.StatusNotFound)
}

func TestOperatorEndpoints(t *testing.T) {
	srv, mem := newTestServer(t)

	// Unauthenticated access is rejected.
	resp, err := http.Get(srv.URL + "/api/operator/submissions")
	if err != nil {
		t.Fatalf("GET submissions: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	// Wrong password.
	postJSONStatus(t, srv.URL+"/api/operator/login", map[string]any{"password": "wrong"}, http.StatusUnauthorized)

	// Login and pull the (empty) listing.
	login := postJSON(t, srv.URL+"/api/operator/login", map[string]any{"password": "research-pass"})
	token, _ := login["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}

	seed := 17
	_, err = mem.Submit(context.Background(), &experiment.SubmissionPayload{
		ParticipantID:  "p_seed",
		Consent:        true,
		AgeGroup:       "18-25",
		Gender:         "Other",
		AssignedAdCode: "BT",
		WatchSeconds:   &seed,
		Responses: map[string]experiment.ResponseEntry{
			"q1": {Numeric: 3, Label: "Neutral"},
		},
		Timestamp:      time.Now().UTC(),
		CompletionCode: "C-SEEDSEED",
	})
	if err != nil {
		t.Fatalf("seed submission: %v", err)
	}

	get := func(path string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		return resp
	}

	resp = get("/api/operator/submissions")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submissions status = %d", resp.StatusCode)
	}
	var listing struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if listing.Count != 1 {
		t.Fatalf("count = %d, want 1", listing.Count)
	}

	exp := get("/api/operator/export?format=long")
	defer exp.Body.Close()
	if exp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", exp.StatusCode)
	}
	if ct := exp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("export content type = %q", ct)
	}

	alpha := get("/api/operator/metrics/alpha")
	defer alpha.Body.Close()
	if alpha.StatusCode != http.StatusOK {
		t.Fatalf("alpha status = %d", alpha.StatusCode)
	}
}

func TestRegistrySweep(t *testing.T) {
	provider := player.NewRemoteProvider()
	mem := sink.NewMemorySink()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	current := base
	reg := NewRegistry(func() (*experiment.Session, error) {
		return experiment.NewSession(experiment.SessionConfig{
			Arms:     experiment.DefaultArms(),
			Sink:     mem,
			Provider: provider,
			Now:      func() time.Time { return current },
		})
	})

	if _, err := reg.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	current = base.Add(30 * time.Minute)
	fresh, err := reg.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	removed := reg.Sweep(time.Hour, base.Add(90*time.Minute))
	if removed != 1 {
		t.Fatalf("swept %d sessions, want 1", removed)
	}
	if _, ok := reg.Get(fresh.ID()); !ok {
		t.Fatal("fresh session should survive the sweep")
	}
	if reg.Len() != 1 {
		t.Fatalf("registry length = %d, want 1", reg.Len())
	}
}
