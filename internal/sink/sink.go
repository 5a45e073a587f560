// Package sink provides the persistence backends a completed submission can
// be written to: SQLite for single-host deployments, PostgreSQL for shared
// ones, and an in-memory store for development and tests.
package sink

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/adresearch/adtrial/internal/experiment"
)

// Record is one stored submission as read back for the research surface.
type Record struct {
	ID         int64                        `json:"id"`
	Payload    experiment.SubmissionPayload `json:"payload"`
	ReceivedAt time.Time                    `json:"received_at"`
}

// Lister is the read side of a sink; the research endpoints use it for
// export and scale metrics.
type Lister interface {
	List(ctx context.Context) ([]Record, error)
}

// MemorySink keeps submissions in memory. Its error can be set by tests to
// exercise the retry path.
type MemorySink struct {
	mu      sync.Mutex
	nextID  int64
	records []Record
	err     error
	now     func() time.Time
}

func NewMemorySink() *MemorySink {
	return &MemorySink{nextID: 1, now: time.Now}
}

// SetError makes every subsequent Submit fail with err until cleared.
func (m *MemorySink) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MemorySink) Submit(ctx context.Context, p *experiment.SubmissionPayload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.records = append(m.records, Record{ID: m.nextID, Payload: *p, ReceivedAt: m.now()})
	m.nextID++
	return "", nil
}

func (m *MemorySink) List(ctx context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var (
	_ experiment.SubmissionSink = (*MemorySink)(nil)
	_ Lister                    = (*MemorySink)(nil)
)
