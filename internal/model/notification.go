package model

import "time"

// Notification type constants
const (
	NotifTypeUser         = "user"
	NotifTypeSystem       = "system"
	NotifTypeAlert        = "alert"
	NotifTypeAppointment  = "appointment"
	NotifTypePrescription = "prescription"
	NotifTypeLab          = "lab"
)

type Notification struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	CreatedAt time.Time      `json:"createdAt"`
	Read      bool           `json:"read"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
