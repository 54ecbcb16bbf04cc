// Package pipeline runs each form submission through block check, history,
// scoring, the challenge gate, persistence and alerting.
package pipeline

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/formguard/internal/alert"
	"github.com/sells-group/formguard/internal/block"
	"github.com/sells-group/formguard/internal/captcha"
	"github.com/sells-group/formguard/internal/model"
	"github.com/sells-group/formguard/internal/risk"
	"github.com/sells-group/formguard/internal/store"
)

// Outcome is the terminal decision for a submission.
type Outcome string

const (
	OutcomeAccepted          Outcome = "accepted"
	OutcomeChallengeRequired Outcome = "challenge_required"
	OutcomeBlocked           Outcome = "blocked"
)

// State names a step of a submission's lifecycle. States are logged at
// debug level as the submission advances.
type State string

const (
	StateReceived          State = "received"
	StateBlockChecked      State = "block_checked"
	StateHistoryLoaded     State = "history_loaded"
	StateScored            State = "scored"
	StateChallengeRequired State = "challenge_required"
	StateAccepted          State = "accepted"
	StatePersisted         State = "persisted"
	StateAggregateUpdated  State = "aggregate_updated"
	StateAlerted           State = "alerted"
	StateDone              State = "done"
	StateBlocked           State = "blocked"
)

// ReasonCaptchaFailed is appended to the reasons when a supplied answer does
// not verify.
const ReasonCaptchaFailed = "captcha_failed"

// Result is returned for every submission that passed validation. Blocked
// results carry no score.
type Result struct {
	Outcome      Outcome         `json:"outcome"`
	Accepted     bool            `json:"ok"`
	Suspicious   bool            `json:"suspicious"`
	Score        *int            `json:"score,omitempty"`
	Reasons      []string        `json:"reasons,omitempty"`
	Challenge    *captcha.Issued `json:"captcha,omitempty"`
	BlockReason  string          `json:"reason,omitempty"`
	SubmissionID string          `json:"submission_id,omitempty"`
}

// Scorer is the scoring contract the pipeline depends on.
type Scorer interface {
	Score(h risk.History, b model.Behavior, f risk.Fields) risk.Assessment
	ScoreHistory(h risk.History, f risk.Fields) risk.Assessment
}

// Dispatcher raises alerts for accepted submissions.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev alert.Event) ([]model.AlertRecord, error)
}

// Metrics observes outcomes. *monitoring.Metrics satisfies it.
type Metrics interface {
	ObserveSubmission(outcome string, scored bool, score int, tags []string)
}

// Options configures optional collaborators.
type Options struct {
	// Window is the rolling history window.
	Window  time.Duration
	Alerts  Dispatcher
	Metrics Metrics
}

// Pipeline is safe for concurrent use. Per-visitor ordering comes from the
// store's visitor transactions.
type Pipeline struct {
	store   store.Store
	blocks  *block.Registry
	scorer  Scorer
	captcha *captcha.Manager
	alerts  Dispatcher
	metrics Metrics
	window  time.Duration
	now     func() time.Time
	newID   func() string
}

// New creates a Pipeline.
func New(st store.Store, blocks *block.Registry, scorer Scorer, cm *captcha.Manager, opts Options) *Pipeline {
	window := opts.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Pipeline{
		store:   st,
		blocks:  blocks,
		scorer:  scorer,
		captcha: cm,
		alerts:  opts.Alerts,
		metrics: opts.Metrics,
		window:  window,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// decision is what the visitor transaction hands back to Submit.
type decision struct {
	history    risk.History
	assessment risk.Assessment
	reasons    []string
	challenge  *captcha.Issued
	submission *model.Submission
}

// Submit runs one event through the pipeline. Validation failures wrap
// ErrValidation; blocked and challenge outcomes are results, not errors.
func (p *Pipeline) Submit(ctx context.Context, ev Event) (*Result, error) {
	v, err := ev.validate()
	if err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("component", "pipeline"),
		zap.String("site", v.key.Site),
		zap.String("visitor", v.key.VisitorID),
	)
	step := func(s State) { log.Debug("pipeline: state", zap.String("state", string(s))) }
	step(StateReceived)
	if len(v.unknown) > 0 {
		log.Debug("pipeline: ignoring unknown metadata keys", zap.Strings("keys", v.unknown))
	}

	blocked, reason, err := p.blocks.IsBlocked(ctx, v.key.VisitorID, v.ip, v.phone)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: block check")
	}
	if blocked {
		step(StateBlocked)
		log.Info("pipeline: blocked", zap.String("reason", reason))
		p.observe(OutcomeBlocked, nil)
		return &Result{Outcome: OutcomeBlocked, BlockReason: reason}, nil
	}
	step(StateBlockChecked)

	now := p.now().UTC()
	var d decision
	err = p.store.RunVisitorTx(ctx, v.key, func(tx store.VisitorTx) error {
		d = decision{}
		return p.decide(ctx, tx, v, now, step, &d)
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: submit")
	}

	score := d.assessment.Score
	res := &Result{
		Suspicious: d.assessment.Suspicious(),
		Score:      &score,
		Reasons:    d.reasons,
	}
	if d.challenge != nil {
		res.Outcome = OutcomeChallengeRequired
		res.Challenge = d.challenge
		log.Info("pipeline: challenge required",
			zap.Int("score", score),
			zap.Strings("reasons", d.reasons),
		)
		p.observe(OutcomeChallengeRequired, &d.assessment)
		return res, nil
	}

	res.Outcome = OutcomeAccepted
	res.Accepted = true
	res.SubmissionID = d.submission.ID
	p.observe(OutcomeAccepted, &d.assessment)

	if p.alerts != nil {
		sent, aerr := p.alerts.Dispatch(ctx, alert.Event{
			Submission: d.submission,
			Assessment: d.assessment,
			History:    d.history,
			Window:     p.window,
		})
		if aerr != nil {
			log.Warn("pipeline: alert dispatch failed", zap.Error(aerr))
		}
		if len(sent) > 0 {
			step(StateAlerted)
		}
	}
	step(StateDone)
	log.Info("pipeline: accepted",
		zap.String("submission_id", d.submission.ID),
		zap.Int("score", score),
		zap.Bool("suspicious", res.Suspicious),
	)
	return res, nil
}

// decide runs inside the visitor transaction. It either issues a challenge
// and writes nothing else, or persists the submission and the aggregate.
func (p *Pipeline) decide(ctx context.Context, tx store.VisitorTx, v *validated, now time.Time, step func(State), d *decision) error {
	h, err := risk.LoadHistory(ctx, tx, v.key, v.phone, now.Add(-p.window))
	if err != nil {
		return err
	}
	d.history = h
	step(StateHistoryLoaded)

	d.assessment = p.scorer.Score(h, v.behavior, risk.Fields{Phone: v.phone, Name: v.name})
	d.reasons = d.assessment.Tags()
	step(StateScored)

	if d.assessment.ChallengeRequired {
		cm := p.captcha.Bind(tx)
		verified := false
		if v.captchaID != "" {
			if verified, err = cm.Verify(ctx, v.captchaID, v.answer, v.key); err != nil {
				return err
			}
			if !verified {
				d.reasons = append(d.reasons, ReasonCaptchaFailed)
			}
		}
		if !verified {
			step(StateChallengeRequired)
			d.challenge, err = cm.Issue(ctx, v.key)
			return err
		}
	}
	step(StateAccepted)

	sub := &model.Submission{
		ID:         p.newID(),
		Site:       v.key.Site,
		VisitorID:  v.key.VisitorID,
		IP:         v.ip,
		UserAgent:  v.userAgent,
		Phone:      v.phone,
		Name:       v.name,
		Behavior:   v.behavior,
		Score:      d.assessment.Score,
		Reasons:    d.reasons,
		Suspicious: d.assessment.Suspicious(),
		Accepted:   true,
		CreatedAt:  now,
	}
	if err := tx.InsertSubmission(ctx, sub); err != nil {
		return err
	}
	d.submission = sub
	step(StatePersisted)

	agg, err := tx.GetAggregate(ctx, v.key)
	if err != nil {
		return err
	}
	if agg == nil {
		agg = model.NewVisitorAggregate(v.key)
	}
	agg.Apply(sub)
	agg.ChallengeOwed = p.scorer.ScoreHistory(afterSubmission(h, sub), risk.Fields{}).ChallengeRequired
	if err := tx.UpsertAggregate(ctx, agg); err != nil {
		return err
	}
	step(StateAggregateUpdated)
	return nil
}

// afterSubmission is h with sub counted, as the next event will see it.
func afterSubmission(h risk.History, sub *model.Submission) risk.History {
	next := risk.History{
		PriorCount:  h.PriorCount + 1,
		PriorPhones: slices.Clone(h.PriorPhones),
		PriorNames:  slices.Clone(h.PriorNames),
	}
	if sub.Phone != "" && !slices.Contains(next.PriorPhones, sub.Phone) {
		next.PriorPhones = append(next.PriorPhones, sub.Phone)
	}
	if sub.Name != "" && !slices.Contains(next.PriorNames, sub.Name) {
		next.PriorNames = append(next.PriorNames, sub.Name)
	}
	return next
}

func (p *Pipeline) observe(o Outcome, a *risk.Assessment) {
	if p.metrics == nil {
		return
	}
	if a == nil {
		p.metrics.ObserveSubmission(string(o), false, 0, nil)
		return
	}
	p.metrics.ObserveSubmission(string(o), true, a.Score, a.Tags())
}
