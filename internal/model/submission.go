package model

import "time"

// Submission is one accepted form submission. Rows are append-only and are
// removed only by the retention sweep.
type Submission struct {
	ID         string    `json:"id"`
	Site       string    `json:"site"`
	VisitorID  string    `json:"visitor_id"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Name       string    `json:"name,omitempty"`
	Behavior   Behavior  `json:"behavior"`
	Score      int       `json:"score"`
	Reasons    []string  `json:"reasons"`
	Suspicious bool      `json:"suspicious"`
	Accepted   bool      `json:"accepted"`
	CreatedAt  time.Time `json:"created_at"`
}

// VisitorKey identifies a visitor within a site.
type VisitorKey struct {
	Site      string `json:"site"`
	VisitorID string `json:"visitor_id"`
}

// String returns "site/visitor", used for log fields and lock keys.
func (k VisitorKey) String() string {
	return k.Site + "/" + k.VisitorID
}

// VisitorAggregate is the running per-(site, visitor) state.
type VisitorAggregate struct {
	Site            string    `json:"site"`
	VisitorID       string    `json:"visitor_id"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	LastIP          string    `json:"last_ip,omitempty"`
	LastUserAgent   string    `json:"last_user_agent,omitempty"`
	Behavior        Behavior  `json:"behavior"`
	SubmissionCount int       `json:"submission_count"`
	LastScore       int       `json:"last_score"`
	LastReasons     []string  `json:"last_reasons"`
	ChallengeOwed   bool      `json:"challenge_owed"`
	Suspicious      bool      `json:"suspicious"`
	Blocked         bool      `json:"blocked"`
	LastPhone       string    `json:"last_phone,omitempty"`
	LastName        string    `json:"last_name,omitempty"`
}

// Key returns the aggregate's visitor key.
func (a *VisitorAggregate) Key() VisitorKey {
	return VisitorKey{Site: a.Site, VisitorID: a.VisitorID}
}

// Apply folds an accepted submission into the aggregate. A nil receiver is
// not allowed; callers start from NewVisitorAggregate for first sightings.
func (a *VisitorAggregate) Apply(sub *Submission) {
	if a.FirstSeen.IsZero() {
		a.FirstSeen = sub.CreatedAt
	}
	a.LastSeen = sub.CreatedAt
	if sub.IP != "" {
		a.LastIP = sub.IP
	}
	if sub.UserAgent != "" {
		a.LastUserAgent = sub.UserAgent
	}
	a.Behavior = a.Behavior.Merge(sub.Behavior)
	a.SubmissionCount++
	a.LastScore = sub.Score
	a.LastReasons = append([]string(nil), sub.Reasons...)
	a.Suspicious = sub.Suspicious
	a.ChallengeOwed = false
	if sub.Phone != "" {
		a.LastPhone = sub.Phone
	}
	if sub.Name != "" {
		a.LastName = sub.Name
	}
}

// NewVisitorAggregate returns an empty aggregate for the given key.
func NewVisitorAggregate(key VisitorKey) *VisitorAggregate {
	return &VisitorAggregate{Site: key.Site, VisitorID: key.VisitorID}
}
