package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/formguard/internal/captcha"
	"github.com/sells-group/formguard/internal/model"
	"github.com/sells-group/formguard/internal/risk"
)

// WindowStats summarizes a visitor's rolling-window history.
type WindowStats struct {
	WindowHours    int `json:"window_hours"`
	Count          int `json:"count"`
	DistinctPhones int `json:"distinct_phones"`
	DistinctNames  int `json:"distinct_names"`
}

// RiskReport is the current risk state of a visitor. Blocked reports carry
// only the block reason.
type RiskReport struct {
	Site          string       `json:"site"`
	VisitorID     string       `json:"vid"`
	Blocked       bool         `json:"blocked"`
	BlockReason   string       `json:"block_reason,omitempty"`
	Suspicious    bool         `json:"suspicious"`
	ChallengeOwed bool         `json:"captcha_required"`
	Score         *int         `json:"score,omitempty"`
	Reasons       []string     `json:"reasons"`
	History       *WindowStats `json:"history,omitempty"`
	// Aggregate fields, zero for visitors never accepted.
	SubmissionCount int        `json:"submission_count"`
	LastSeen        *time.Time `json:"last_seen,omitempty"`
	LastScore       int        `json:"last_score"`
}

// QueryRisk reports the visitor's state without recording anything. The
// score covers repeat signals only since no behavior is known yet.
func (p *Pipeline) QueryRisk(ctx context.Context, site, visitorID, ip string) (*RiskReport, error) {
	key, err := validateKey(site, visitorID)
	if err != nil {
		return nil, err
	}

	rep := &RiskReport{Site: key.Site, VisitorID: key.VisitorID, Reasons: []string{}}
	blocked, reason, err := p.blocks.IsBlocked(ctx, key.VisitorID, strings.TrimSpace(ip), "")
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: block check")
	}
	if blocked {
		rep.Blocked = true
		rep.BlockReason = reason
		rep.Reasons = []string{reason}
		return rep, nil
	}

	h, err := risk.LoadHistory(ctx, p.store, key, "", p.now().UTC().Add(-p.window))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: query risk")
	}
	a := p.scorer.ScoreHistory(h, risk.Fields{})
	score := a.Score
	rep.Score = &score
	rep.Reasons = a.Tags()
	rep.Suspicious = a.Suspicious()
	rep.ChallengeOwed = a.ChallengeRequired
	rep.History = &WindowStats{
		WindowHours:    int(p.window / time.Hour),
		Count:          h.PriorCount,
		DistinctPhones: len(h.PriorPhones),
		DistinctNames:  len(h.PriorNames),
	}

	agg, err := p.store.GetAggregate(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: query risk")
	}
	if agg != nil {
		rep.SubmissionCount = agg.SubmissionCount
		rep.LastScore = agg.LastScore
		last := agg.LastSeen
		rep.LastSeen = &last
	}
	return rep, nil
}

// IsBlocked reports whether the visitor or ip is denied.
func (p *Pipeline) IsBlocked(ctx context.Context, visitorID, ip string) (bool, string, error) {
	blocked, reason, err := p.blocks.IsBlocked(ctx, strings.TrimSpace(visitorID), strings.TrimSpace(ip), "")
	if err != nil {
		return false, "", eris.Wrap(err, "pipeline: block check")
	}
	return blocked, reason, nil
}

// ChallengeResult is the outcome of an explicit challenge request.
type ChallengeResult struct {
	Blocked     bool            `json:"blocked"`
	BlockReason string          `json:"reason,omitempty"`
	Challenge   *captcha.Issued `json:"captcha,omitempty"`
}

// IssueChallenge hands a fresh challenge to a visitor that is not blocked.
func (p *Pipeline) IssueChallenge(ctx context.Context, site, visitorID, ip string) (*ChallengeResult, error) {
	key, err := validateKey(site, visitorID)
	if err != nil {
		return nil, err
	}
	blocked, reason, err := p.IsBlocked(ctx, key.VisitorID, ip)
	if err != nil {
		return nil, err
	}
	if blocked {
		return &ChallengeResult{Blocked: true, BlockReason: reason}, nil
	}

	issued, err := p.captcha.Issue(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: issue challenge")
	}
	return &ChallengeResult{Challenge: issued}, nil
}

// Lookup returns the stored aggregate for a visitor, nil if never accepted.
func (p *Pipeline) Lookup(ctx context.Context, site, visitorID string) (*model.VisitorAggregate, error) {
	key, err := validateKey(site, visitorID)
	if err != nil {
		return nil, err
	}
	agg, err := p.store.GetAggregate(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: lookup")
	}
	return agg, nil
}
