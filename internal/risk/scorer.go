// Package risk implements the rule-based submission scorer. Every point of a
// score is attributed to a reason tag.
package risk

import (
	"fmt"
	"slices"
	"strings"

	"github.com/sells-group/formguard/internal/config"
	"github.com/sells-group/formguard/internal/model"
)

// Tag is a stable reason identifier.
type Tag string

// Reason tags. Repeat tags come from visitor history, the rest from
// interaction telemetry.
const (
	TagRepeatSubmission Tag = "repeat_submission"
	TagPhoneChanged     Tag = "phone_changed"
	TagNameChanged      Tag = "name_changed"
	TagHighVolume       Tag = "high_volume"
	TagSharedPhone      Tag = "shared_phone"

	TagTooFast       Tag = "too_fast"
	TagNoInteraction Tag = "no_interaction"
	TagPastedPhone   Tag = "pasted_phone"
)

// Reason is one scored signal.
type Reason struct {
	Tag    Tag    `json:"tag"`
	Weight int    `json:"weight"`
	Detail string `json:"detail,omitempty"`
}

// History is the rolling-window view of a visitor the scorer reads.
type History struct {
	PriorCount       int      `json:"count"`
	PriorPhones      []string `json:"phones,omitempty"`
	PriorNames       []string `json:"names,omitempty"`
	SharedPhoneCount int      `json:"shared_phone_count"`
}

// Fields are the normalized identity fields of the current submission.
type Fields struct {
	Phone string
	Name  string
}

// Assessment is the scorer's verdict. Score always equals the sum of the
// reason weights.
type Assessment struct {
	Score   int      `json:"score"`
	Reasons []Reason `json:"reasons"`
	// ForceChallenge is set when a repeat signal demands a challenge under
	// the repeat_forces_challenge policy.
	ForceChallenge    bool `json:"force_challenge"`
	ChallengeRequired bool `json:"challenge_required"`
	AlertWorthy       bool `json:"alert_worthy"`
}

// Tags returns the reason tags in order.
func (a Assessment) Tags() []string {
	out := make([]string, 0, len(a.Reasons))
	for _, r := range a.Reasons {
		out = append(out, string(r.Tag))
	}
	return out
}

// Has reports whether tag is among the reasons.
func (a Assessment) Has(tag Tag) bool {
	return slices.ContainsFunc(a.Reasons, func(r Reason) bool { return r.Tag == tag })
}

// Suspicious reports whether the submission should be flagged.
func (a Assessment) Suspicious() bool {
	return a.AlertWorthy || a.ForceChallenge
}

// Scorer scores submissions against a RiskConfig. It is pure and safe for
// concurrent use.
type Scorer struct {
	cfg config.RiskConfig
}

// NewScorer creates a Scorer.
func NewScorer(cfg config.RiskConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Config returns the scorer's configuration.
func (s *Scorer) Config() config.RiskConfig {
	return s.cfg
}

// Score evaluates repeat and behavioral signals for one submission.
func (s *Scorer) Score(h History, b model.Behavior, f Fields) Assessment {
	var reasons []Reason
	reasons = append(reasons, s.repeatReasons(h, f)...)
	reasons = append(reasons, s.behaviorReasons(b)...)
	return s.assess(reasons)
}

// ScoreHistory evaluates only the repeat signals. It backs risk queries made
// before the visitor has interacted with a form.
func (s *Scorer) ScoreHistory(h History, f Fields) Assessment {
	return s.assess(s.repeatReasons(h, f))
}

func (s *Scorer) assess(reasons []Reason) Assessment {
	a := Assessment{Reasons: reasons}
	if a.Reasons == nil {
		a.Reasons = []Reason{}
	}
	for _, r := range reasons {
		a.Score += r.Weight
		if s.cfg.RepeatForcesChallenge && isRepeatTag(r.Tag) {
			a.ForceChallenge = true
		}
	}
	a.ChallengeRequired = a.ForceChallenge || a.Score >= s.cfg.ChallengeThreshold
	a.AlertWorthy = a.Score >= s.cfg.AlertThreshold
	return a
}

func (s *Scorer) repeatReasons(h History, f Fields) []Reason {
	var out []Reason
	w := s.cfg.Weights

	if h.PriorCount >= 1 {
		out = append(out, Reason{
			Tag:    TagRepeatSubmission,
			Weight: w.RepeatSubmission,
			Detail: fmt.Sprintf("%s submission in %dh", ordinal(h.PriorCount+1), s.cfg.WindowHours),
		})
	}
	if changed(f.Phone, h.PriorPhones) {
		out = append(out, Reason{
			Tag:    TagPhoneChanged,
			Weight: w.PhoneChanged,
			Detail: fmt.Sprintf("new phone after %s", strings.Join(h.PriorPhones, ", ")),
		})
	}
	if changed(f.Name, h.PriorNames) {
		out = append(out, Reason{
			Tag:    TagNameChanged,
			Weight: w.NameChanged,
			Detail: fmt.Sprintf("new name after %d other(s)", len(h.PriorNames)),
		})
	}
	if s.cfg.HighVolumeThreshold > 0 && h.PriorCount >= s.cfg.HighVolumeThreshold {
		out = append(out, Reason{
			Tag:    TagHighVolume,
			Weight: w.HighVolume,
			Detail: fmt.Sprintf("%d prior submissions", h.PriorCount),
		})
	}
	if f.Phone != "" && s.cfg.SharedPhoneThreshold > 0 && h.SharedPhoneCount >= s.cfg.SharedPhoneThreshold {
		out = append(out, Reason{
			Tag:    TagSharedPhone,
			Weight: w.SharedPhone,
			Detail: fmt.Sprintf("phone used %d times by other visitors", h.SharedPhoneCount),
		})
	}
	return out
}

// behaviorReasons treats unreported telemetry as zero.
func (s *Scorer) behaviorReasons(b model.Behavior) []Reason {
	var out []Reason
	w := s.cfg.Weights
	dur := b.Duration()

	if dur > 0 && dur < int64(s.cfg.FastSubmitMS) {
		out = append(out, Reason{
			Tag:    TagTooFast,
			Weight: w.TooFast,
			Detail: fmt.Sprintf("submitted after %dms", dur),
		})
	}
	if dur < int64(s.cfg.NoInteractionMS) && b.Pointer() == 0 && b.Scroll() == 0 {
		out = append(out, Reason{
			Tag:    TagNoInteraction,
			Weight: w.NoInteraction,
			Detail: "no pointer or scroll activity",
		})
	}
	if b.Pasted() && b.Keys() < int64(s.cfg.PasteMaxKeyDowns) {
		out = append(out, Reason{
			Tag:    TagPastedPhone,
			Weight: w.PastedPhone,
			Detail: fmt.Sprintf("phone pasted with %d keystrokes", b.Keys()),
		})
	}
	return out
}

func isRepeatTag(t Tag) bool {
	switch t {
	case TagRepeatSubmission, TagPhoneChanged, TagNameChanged, TagHighVolume, TagSharedPhone:
		return true
	}
	return false
}

// changed reports whether current is present, prior values exist and
// current is not among them.
func changed(current string, prior []string) bool {
	return current != "" && len(prior) > 0 && !slices.Contains(prior, current)
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
