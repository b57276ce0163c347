// Package audit records every backend tool invocation attempted on a
// caller's behalf: who, which tenant, which operation, and the outcome.
// This is an operational trail for multi-tenant deployments, not
// conversation state; no turn content is stored.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/mypetparlor/concierge/pkg/models"
)

// Outcome classifies how an invocation attempt ended.
type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeDenied Outcome = "denied"
	OutcomeError  Outcome = "error"
)

// Record is one audit entry.
type Record struct {
	ID          string        `json:"id"`
	At          time.Time     `json:"at"`
	Subject     string        `json:"subject"`
	TenantID    string        `json:"tenant_id"`
	Domain      models.Domain `json:"domain"`
	OperationID string        `json:"operation_id"`
	Outcome     Outcome       `json:"outcome"`
	Detail      string        `json:"detail,omitempty"`
}

// Recorder accepts audit entries. Implementations must be safe for
// concurrent use; recording is best-effort and must never block a
// dispatch on persistence latency beyond its own context.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// ── In-memory recorder ───────────────────────────────────────

// MemoryRecorder keeps a bounded ring of recent entries. The default
// when no audit database is configured.
type MemoryRecorder struct {
	mu    sync.Mutex
	max   int
	items []Record
}

// NewMemoryRecorder creates a recorder holding at most max entries.
func NewMemoryRecorder(max int) *MemoryRecorder {
	if max <= 0 {
		max = 1024
	}
	return &MemoryRecorder{max: max}
}

// Record appends the entry, evicting the oldest past capacity.
func (m *MemoryRecorder) Record(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, rec)
	if len(m.items) > m.max {
		m.items = m.items[len(m.items)-m.max:]
	}
	return nil
}

// Recent returns up to n most recent entries, newest first.
func (m *MemoryRecorder) Recent(n int) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.items) {
		n = len(m.items)
	}
	out := make([]Record, n)
	for i := 0; i < n; i++ {
		out[i] = m.items[len(m.items)-1-i]
	}
	return out
}
