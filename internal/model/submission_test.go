package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVisitorAggregate_Apply(t *testing.T) {
	t.Parallel()

	agg := NewVisitorAggregate(VisitorKey{Site: "shop.example", VisitorID: "v1"})
	agg.ChallengeOwed = true

	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d1 := int64(1500)
	agg.Apply(&Submission{
		IP: "10.0.0.1", UserAgent: "ua-1", Phone: "+1555", Name: "Ann",
		Behavior: Behavior{DurationMS: &d1}, Score: 2, Reasons: []string{"too_fast"},
		CreatedAt: t0,
	})

	assert.Equal(t, t0, agg.FirstSeen)
	assert.Equal(t, 1, agg.SubmissionCount)
	assert.False(t, agg.ChallengeOwed)
	assert.Equal(t, "+1555", agg.LastPhone)

	t1 := t0.Add(time.Minute)
	agg.Apply(&Submission{IP: "10.0.0.2", Score: 5, Reasons: []string{"repeat_submission"}, Suspicious: true, CreatedAt: t1})

	assert.Equal(t, t0, agg.FirstSeen, "first seen is sticky")
	assert.Equal(t, t1, agg.LastSeen)
	assert.Equal(t, 2, agg.SubmissionCount)
	assert.Equal(t, "10.0.0.2", agg.LastIP)
	assert.Equal(t, "ua-1", agg.LastUserAgent, "empty user agent does not overwrite")
	assert.Equal(t, "+1555", agg.LastPhone, "empty phone does not overwrite")
	assert.Equal(t, "Ann", agg.LastName)
	assert.Equal(t, int64(1500), agg.Behavior.Duration(), "behavior merged field by field")
	assert.Equal(t, 5, agg.LastScore)
	assert.True(t, agg.Suspicious)
	assert.Equal(t, "shop.example/v1", agg.Key().String())
}

func TestParseBlockKind(t *testing.T) {
	t.Parallel()

	k, ok := ParseBlockKind("vid")
	assert.True(t, ok)
	assert.Equal(t, BlockVisitor, k)

	for _, alias := range []string{"visitorId", "visitorid", " VID "} {
		k, ok = ParseBlockKind(alias)
		assert.True(t, ok, alias)
		assert.Equal(t, BlockVisitor, k, alias)
	}

	k, ok = ParseBlockKind("tel")
	assert.True(t, ok)
	assert.Equal(t, BlockPhone, k)

	_, ok = ParseBlockKind("email")
	assert.False(t, ok)
	assert.False(t, BlockKind("email").Valid())
	assert.True(t, BlockIP.Valid())
}

func TestChallenge_Expired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	c := &Challenge{ExpiresAt: now}
	assert.False(t, c.Expired(now))
	assert.True(t, c.Expired(now.Add(time.Nanosecond)))
}
