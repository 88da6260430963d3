package notification

import (
	"testing"

	"github.com/methminihima/medivault/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		n        model.Notification
		category string
		priority Priority
	}{
		{"appointment type", model.Notification{Type: "appointment"}, model.NotifTypeAppointment, PriorityMedium},
		{"prescription event", model.Notification{Type: "system", Metadata: map[string]any{"event": "Prescription_Ready"}}, model.NotifTypePrescription, PriorityMedium},
		{"lab", model.Notification{Type: "lab"}, model.NotifTypeLab, PriorityMedium},
		{"test result event", model.Notification{Metadata: map[string]any{"event": "test_result"}}, model.NotifTypeLab, PriorityMedium},
		{"user", model.Notification{Type: "user"}, model.NotifTypeUser, PriorityLow},
		{"alert wins", model.Notification{Type: "alert", Metadata: map[string]any{"event": "appointment_cancelled"}}, model.NotifTypeAlert, PriorityHigh},
		{"unknown", model.Notification{Type: "billing"}, model.NotifTypeSystem, PriorityLow},
		{"empty", model.Notification{}, model.NotifTypeSystem, PriorityLow},
		{"non-string event", model.Notification{Type: "system", Metadata: map[string]any{"event": 7}}, model.NotifTypeSystem, PriorityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.n)
			if got.Category != tt.category || got.Priority != tt.priority {
				t.Errorf("Classify = %+v, want %s/%s", got, tt.category, tt.priority)
			}
			if got.Icon == "" {
				t.Error("icon should always be set")
			}
			if again := Classify(tt.n); again != got {
				t.Errorf("Classify not deterministic: %+v vs %+v", got, again)
			}
		})
	}
}
