package model

import "time"

// AlertKind categorizes an alert. Each kind uses its own dedupe key space.
type AlertKind string

const (
	AlertSuspicious   AlertKind = "suspicious"
	AlertPhoneChanged AlertKind = "phone_changed"
	AlertNameChanged  AlertKind = "name_changed"
)

// AlertRecord is the audit row written whenever a notification is let
// through the dedupe gate.
type AlertRecord struct {
	ID        int64     `json:"id"`
	Kind      AlertKind `json:"kind"`
	DedupeKey string    `json:"dedupe_key"`
	Site      string    `json:"site"`
	VisitorID string    `json:"visitor_id"`
	IP        string    `json:"ip,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Name      string    `json:"name,omitempty"`
	Score     int       `json:"score"`
	Reasons   []string  `json:"reasons"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
