// Package questionbank loads and exposes, per treatment arm, the ordered
// question sequence shown after the video stimulus. The bank is a pure data
// provider: a failed load degrades to an empty set rather than blocking the
// experiment.
package questionbank

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// armEntry is the per-arm slice of the bank document.
type armEntry struct {
	Questions []string `json:"questions"`
	// Final is an optional arm-specific closing question, appended after
	// the shared set for that arm only.
	Final string `json:"final,omitempty"`
}

// document is the structured bank shape. A flat map of arm code to question
// list (the legacy shape) is also accepted.
type document struct {
	Shared []string            `json:"shared"`
	Arms   map[string]armEntry `json:"arms"`
}

// Bank holds the loaded question catalogue. Reads never block: before a load
// completes, or after a failed one, every arm resolves to an empty sequence.
type Bank struct {
	mu     sync.RWMutex
	shared []string
	arms   map[string]armEntry
	loaded bool
}

func New() *Bank {
	return &Bank{arms: map[string]armEntry{}}
}

// QuestionsFor returns the ordered sequence for an arm: the arm's own
// question list when present, the shared list otherwise, plus the arm's
// final question if one is configured.
func (b *Bank) QuestionsFor(armCode string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry := b.arms[armCode]
	base := entry.Questions
	if len(base) == 0 {
		base = b.shared
	}
	out := make([]string, 0, len(base)+1)
	out = append(out, base...)
	if entry.Final != "" {
		out = append(out, entry.Final)
	}
	return out
}

// Loaded reports whether a load has completed successfully.
func (b *Bank) Loaded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loaded
}

// Load reads the bank from a local file path or an http(s) URL and replaces
// the catalogue. On failure the current (possibly empty) catalogue stays.
func (b *Bank) Load(ctx context.Context, src string) error {
	raw, err := fetch(ctx, src)
	if err != nil {
		return fmt.Errorf("question bank fetch %s: %w", src, err)
	}
	doc, err := parse(raw)
	if err != nil {
		return fmt.Errorf("question bank parse %s: %w", src, err)
	}
	b.mu.Lock()
	b.shared = doc.Shared
	b.arms = doc.Arms
	b.loaded = true
	b.mu.Unlock()
	return nil
}

// LoadAsync runs Load in the background. The experiment stays functional on
// a degraded empty catalogue if the fetch fails.
func (b *Bank) LoadAsync(src string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := b.Load(ctx, src); err != nil {
			log.Printf("question bank: %v (continuing with empty set)", err)
		}
	}()
}

func fetch(ctx context.Context, src string) ([]byte, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
	return os.ReadFile(src)
}

func parse(raw []byte) (document, error) {
	var doc document
	structErr := json.Unmarshal(raw, &doc)
	if structErr == nil && (len(doc.Shared) > 0 || len(doc.Arms) > 0) {
		if doc.Arms == nil {
			doc.Arms = map[string]armEntry{}
		}
		return doc, nil
	}
	// Legacy shape: {"CE": ["q1", ...], ...}
	var flat map[string][]string
	if err := json.Unmarshal(raw, &flat); err != nil {
		if structErr == nil {
			return document{Arms: map[string]armEntry{}}, nil
		}
		return document{}, err
	}
	doc = document{Arms: map[string]armEntry{}}
	for code, qs := range flat {
		doc.Arms[code] = armEntry{Questions: qs}
	}
	return doc, nil
}
