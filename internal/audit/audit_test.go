package audit_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mypetparlor/concierge/internal/audit"
	"github.com/mypetparlor/concierge/pkg/models"
)

func record(id string) audit.Record {
	return audit.Record{
		ID:          id,
		At:          time.Now().UTC(),
		Subject:     "u1",
		TenantID:    "t1",
		Domain:      models.DomainBooking,
		OperationID: "booking.list",
		Outcome:     audit.OutcomeOK,
	}
}

func TestMemoryRecorder_RecentNewestFirst(t *testing.T) {
	m := audit.NewMemoryRecorder(10)
	for i := 0; i < 3; i++ {
		if err := m.Record(context.Background(), record(fmt.Sprintf("r%d", i))); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got := m.Recent(2)
	if len(got) != 2 {
		t.Fatalf("len(Recent(2)) = %d, want 2", len(got))
	}
	if got[0].ID != "r2" || got[1].ID != "r1" {
		t.Errorf("Recent order = [%s %s], want [r2 r1]", got[0].ID, got[1].ID)
	}
}

func TestMemoryRecorder_EvictsPastCapacity(t *testing.T) {
	m := audit.NewMemoryRecorder(2)
	for i := 0; i < 5; i++ {
		m.Record(context.Background(), record(fmt.Sprintf("r%d", i)))
	}

	got := m.Recent(0)
	if len(got) != 2 {
		t.Fatalf("len(Recent) = %d, want capacity 2", len(got))
	}
	if got[0].ID != "r4" || got[1].ID != "r3" {
		t.Errorf("kept = [%s %s], want the newest two", got[0].ID, got[1].ID)
	}
}

func TestMemoryRecorder_ConcurrentUse(t *testing.T) {
	m := audit.NewMemoryRecorder(1000)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.Record(context.Background(), record(fmt.Sprintf("g%d-%d", n, j)))
			}
		}(i)
	}
	wg.Wait()

	if got := len(m.Recent(0)); got != 500 {
		t.Errorf("len(Recent) = %d, want 500", got)
	}
}
