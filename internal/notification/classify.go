package notification

import (
	"strings"

	"github.com/methminihima/medivault/internal/model"
)

// Priority orders notifications for presentation.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Classification is presentation data only; it never affects identity.
type Classification struct {
	Category string
	Icon     string
	Priority Priority
}

var defaultClassification = Classification{Category: model.NotifTypeSystem, Icon: "bell", Priority: PriorityLow}

// Checked in order; the first keyword found wins.
var classifications = []struct {
	keyword string
	class   Classification
}{
	{"alert", Classification{Category: model.NotifTypeAlert, Icon: "alert-triangle", Priority: PriorityHigh}},
	{"appointment", Classification{Category: model.NotifTypeAppointment, Icon: "calendar", Priority: PriorityMedium}},
	{"prescription", Classification{Category: model.NotifTypePrescription, Icon: "pill", Priority: PriorityMedium}},
	{"lab", Classification{Category: model.NotifTypeLab, Icon: "flask", Priority: PriorityMedium}},
	{"test", Classification{Category: model.NotifTypeLab, Icon: "flask", Priority: PriorityMedium}},
	{"user", Classification{Category: model.NotifTypeUser, Icon: "user", Priority: PriorityLow}},
}

// Classify matches the notification type and its metadata event against a
// fixed keyword table. Unmatched notifications are system/low.
func Classify(n model.Notification) Classification {
	haystack := strings.ToLower(n.Type)
	if ev, ok := n.Metadata["event"].(string); ok {
		haystack += " " + strings.ToLower(ev)
	}
	if strings.TrimSpace(haystack) == "" {
		return defaultClassification
	}

	for _, entry := range classifications {
		if strings.Contains(haystack, entry.keyword) {
			return entry.class
		}
	}
	return defaultClassification
}
