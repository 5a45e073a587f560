package questionbank

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

const structuredDoc = `{
  "shared": ["g1", "g2", "g3"],
  "arms": {
    "CE": {"final": "I would consider buying a product endorsed this way."},
    "AC": {"questions": ["a1", "a2"], "final": "The ad felt original."}
  }
}`

func writeBank(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "questions.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write bank file: %v", err)
	}
	return path
}

func TestBankSharedPlusFinal(t *testing.T) {
	b := New()
	if err := b.Load(context.Background(), writeBank(t, structuredDoc)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := b.QuestionsFor("CE")
	if len(got) != 4 {
		t.Fatalf("CE sequence=%v, want shared 3 + final", got)
	}
	if got[3] != "I would consider buying a product endorsed this way." {
		t.Fatalf("final question not appended last: %v", got)
	}
}

func TestBankArmOverridesShared(t *testing.T) {
	b := New()
	if err := b.Load(context.Background(), writeBank(t, structuredDoc)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := b.QuestionsFor("AC")
	want := []string{"a1", "a2", "The ad felt original."}
	if len(got) != len(want) {
		t.Fatalf("AC sequence=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("AC sequence=%v, want %v", got, want)
		}
	}
}

func TestBankArmWithoutFinalUsesShared(t *testing.T) {
	b := New()
	if err := b.Load(context.Background(), writeBank(t, structuredDoc)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := b.QuestionsFor("PP")
	if len(got) != 3 || got[0] != "g1" {
		t.Fatalf("PP sequence=%v, want the shared set", got)
	}
}

func TestBankLegacyFlatShape(t *testing.T) {
	b := New()
	path := writeBank(t, `{"CE": ["q1", "q2"], "BT": ["q3"]}`)
	if err := b.Load(context.Background(), path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := b.QuestionsFor("CE"); len(got) != 2 || got[1] != "q2" {
		t.Fatalf("CE sequence=%v", got)
	}
	if got := b.QuestionsFor("BT"); len(got) != 1 {
		t.Fatalf("BT sequence=%v", got)
	}
}

func TestBankLoadFailureDegradesToEmpty(t *testing.T) {
	b := New()
	if err := b.Load(context.Background(), filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected load error")
	}
	if b.Loaded() {
		t.Fatalf("failed load marked the bank loaded")
	}
	if got := b.QuestionsFor("CE"); len(got) != 0 {
		t.Fatalf("degraded bank returned questions: %v", got)
	}
}

func TestBankMalformedDocument(t *testing.T) {
	b := New()
	if err := b.Load(context.Background(), writeBank(t, `{"CE": 42}`)); err == nil {
		t.Fatalf("expected parse error")
	}
	if len(b.QuestionsFor("CE")) != 0 {
		t.Fatalf("catalogue mutated by a failed parse")
	}
}

func TestBankHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(structuredDoc))
	}))
	defer srv.Close()

	b := New()
	if err := b.Load(context.Background(), srv.URL); err != nil {
		t.Fatalf("Load over HTTP: %v", err)
	}
	if !b.Loaded() {
		t.Fatalf("bank not marked loaded")
	}
	if got := b.QuestionsFor("CE"); len(got) != 4 {
		t.Fatalf("CE sequence=%v", got)
	}
}
