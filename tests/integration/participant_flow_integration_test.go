//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

// Runs against a live server. Point ADTRIAL_TEST_BASE_URL at it, ideally one
// started with ADTRIAL_SINK_DRIVER=memory so the run leaves no residue.
func baseURL() string {
	if v := os.Getenv("ADTRIAL_TEST_BASE_URL"); strings.TrimSpace(v) != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:18080"
}

func TestParticipantJourneyIntegration(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	base := baseURL()

	var created struct {
		Session struct {
			ParticipantID string `json:"participant_id"`
			Stage         string `json:"stage"`
		} `json:"session"`
		AgeGroups []string `json:"age_groups"`
		Genders   []string `json:"genders"`
	}
	doPost(t, client, base+"/api/sessions", nil, &created)
	if created.Session.ParticipantID == "" || created.Session.Stage != "consent" {
		t.Fatalf("unexpected create response: %+v", created)
	}
	if len(created.AgeGroups) == 0 || len(created.Genders) == 0 {
		t.Fatalf("missing demographic catalogues: %+v", created)
	}
	sessionBase := base + "/api/sessions/" + created.Session.ParticipantID

	var snap struct {
		Stage string `json:"stage"`
		Arm   *struct {
			Code     string `json:"code"`
			VideoURL string `json:"video_url"`
		} `json:"arm"`
	}
	doPost(t, client, sessionBase+"/consent", map[string]any{"granted": true}, &snap)
	if snap.Stage != "demographics" {
		t.Fatalf("after consent stage=%q", snap.Stage)
	}

	doPost(t, client, sessionBase+"/demographics", map[string]any{
		"age_group": created.AgeGroups[0],
		"gender":    created.Genders[0],
	}, &snap)
	if snap.Stage != "video" {
		t.Fatalf("after demographics stage=%q", snap.Stage)
	}
	if snap.Arm == nil || snap.Arm.Code == "" || snap.Arm.VideoURL == "" {
		t.Fatalf("no arm assignment after demographics: %+v", snap)
	}

	// Relay the playback runtime lifecycle the way the study page does.
	doPost(t, client, sessionBase+"/player/events", map[string]any{"type": "ready"}, nil)
	var afterEnd struct {
		Stage    string `json:"stage"`
		Question *struct {
			Index int    `json:"index"`
			Total int    `json:"total"`
			Text  string `json:"text"`
		} `json:"question"`
	}
	doPost(t, client, sessionBase+"/player/events", map[string]any{
		"type": "state", "code": 0, "position": 30.2,
	}, &afterEnd)
	if afterEnd.Stage != "questions" {
		t.Fatalf("after video end stage=%q", afterEnd.Stage)
	}

	// Answer every question in order.
	total := 1
	if afterEnd.Question != nil {
		total = afterEnd.Question.Total
	}
	for i := 0; i < total; i++ {
		doPost(t, client, sessionBase+"/answer", map[string]any{"value": 4}, nil)
		if i < total-1 {
			doPost(t, client, sessionBase+"/navigate", map[string]any{"direction": "next"}, nil)
		}
	}

	var submitted struct {
		CompletionCode string `json:"completion_code"`
	}
	doPost(t, client, sessionBase+"/submit", nil, &submitted)
	if !strings.HasPrefix(submitted.CompletionCode, "C-") {
		t.Fatalf("completion code = %q", submitted.CompletionCode)
	}
}

func doPost(t *testing.T, client *http.Client, url string, body any, out any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("http post %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d for %s: %s", resp.StatusCode, url, string(bodyBytes))
	}
	if out != nil {
		decoder := json.NewDecoder(resp.Body)
		if err := decoder.Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
}
