package callbacks

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateEventID(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id := generateEventID()
		if !strings.HasPrefix(id, "evt_") {
			t.Fatalf("EventID missing evt_ prefix: %s", id)
		}
		if len(id) != len("evt_")+36 {
			t.Fatalf("EventID has wrong length: %s", id)
		}
		if ids[id] {
			t.Fatalf("duplicate EventID %s", id)
		}
		ids[id] = true
	}
}

func TestPrepareEvent(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		event PaymentEvent
		check func(t *testing.T, e PaymentEvent)
	}{
		{
			name:  "fills missing fields",
			event: PaymentEvent{TransactionID: "tx"},
			check: func(t *testing.T, e PaymentEvent) {
				if e.EventID == "" || e.EventType != EventPaymentFailed || e.EventTimestamp.IsZero() {
					t.Errorf("event = %+v", e)
				}
				if !e.OccurredAt.Equal(e.EventTimestamp) {
					t.Error("OccurredAt should default to the event timestamp")
				}
			},
		},
		{
			name:  "keeps existing id for retries",
			event: PaymentEvent{EventID: "evt_existing", EventType: EventPaymentCompleted, EventTimestamp: fixed},
			check: func(t *testing.T, e PaymentEvent) {
				if e.EventID != "evt_existing" || e.EventType != EventPaymentCompleted || !e.EventTimestamp.Equal(fixed) {
					t.Errorf("event = %+v", e)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tt.event
			PrepareEvent(&e, EventPaymentFailed)
			tt.check(t, e)
		})
	}
}
