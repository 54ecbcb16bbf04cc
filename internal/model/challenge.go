package model

import "time"

// Challenge is a persisted arithmetic captcha. AnswerMAC is the keyed
// commitment to the answer; the plaintext answer is never stored.
type Challenge struct {
	ID        string    `json:"id"`
	Site      string    `json:"site"`
	VisitorID string    `json:"visitor_id"`
	Question  string    `json:"question"`
	AnswerMAC string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
}

// Expired reports whether the challenge is past its expiry at now.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
