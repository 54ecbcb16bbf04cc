// Package alert turns high-risk submissions into deduplicated notifications.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/formguard/internal/model"
	"github.com/sells-group/formguard/internal/notify"
	"github.com/sells-group/formguard/internal/risk"
	"github.com/sells-group/formguard/internal/store"
)

// Recorder counts alerts let through the gate. *monitoring.Metrics
// satisfies it.
type Recorder interface {
	AlertSent(kind string)
}

// Event is an accepted submission with the assessment and window statistics
// it was scored against.
type Event struct {
	Submission *model.Submission
	Assessment risk.Assessment
	History    risk.History
	Window     time.Duration
}

// Options configures a Dispatcher.
type Options struct {
	// SignalAlerts enables per-value alerts for phone and name changes.
	SignalAlerts bool
	Recorder     Recorder
}

// Dispatcher gates alerts through a Dedupe, records them and hands the text
// to a notifier.
type Dispatcher struct {
	dedupe   Dedupe
	records  store.AlertStore
	notifier notify.Notifier
	opts     Options
	now      func() time.Time
	log      *zap.Logger
}

// NewDispatcher creates a Dispatcher. notifier should not block; wrap slow
// channels in notify.Async.
func NewDispatcher(d Dedupe, records store.AlertStore, notifier notify.Notifier, opts Options) *Dispatcher {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Dispatcher{
		dedupe:   d,
		records:  records,
		notifier: notifier,
		opts:     opts,
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "alert.dispatcher")),
	}
}

// ShouldNotify applies the cooldown gate to key at the current time.
func (d *Dispatcher) ShouldNotify(ctx context.Context, key string) (bool, error) {
	return d.dedupe.ShouldNotify(ctx, key, d.now().UTC())
}

type candidate struct {
	kind model.AlertKind
	key  string
}

func (d *Dispatcher) candidates(ev Event) []candidate {
	sub := ev.Submission
	vk := model.VisitorKey{Site: sub.Site, VisitorID: sub.VisitorID}

	var out []candidate
	if ev.Assessment.AlertWorthy {
		out = append(out, candidate{model.AlertSuspicious, SuspicionKey(vk)})
	}
	if !d.opts.SignalAlerts {
		return out
	}
	if ev.Assessment.Has(risk.TagPhoneChanged) && sub.Phone != "" {
		out = append(out, candidate{model.AlertPhoneChanged, SignalKey(vk, model.AlertPhoneChanged, sub.Phone)})
	}
	if ev.Assessment.Has(risk.TagNameChanged) && sub.Name != "" {
		out = append(out, candidate{model.AlertNameChanged, SignalKey(vk, model.AlertNameChanged, sub.Name)})
	}
	return out
}

// Dispatch raises every alert the event qualifies for and returns the
// records that passed the gate. Errors are returned for logging only;
// callers must not fail the submission on them.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) ([]model.AlertRecord, error) {
	if ev.Submission == nil {
		return nil, nil
	}

	var sent []model.AlertRecord
	var errs []error
	for _, c := range d.candidates(ev) {
		ok, err := d.ShouldNotify(ctx, c.key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			d.log.Debug("alert suppressed by cooldown",
				zap.String("kind", string(c.kind)),
				zap.String("visitor", ev.Submission.VisitorID),
			)
			continue
		}

		rec := d.record(c, ev)
		if err := d.records.InsertAlert(ctx, &rec); err != nil {
			errs = append(errs, eris.Wrap(err, "alert: insert record"))
		}
		if err := d.notifier.Send(ctx, rec.Message); err != nil {
			errs = append(errs, eris.Wrapf(err, "alert: send %s", c.kind))
		}
		if d.opts.Recorder != nil {
			d.opts.Recorder.AlertSent(string(c.kind))
		}
		sent = append(sent, rec)
	}
	return sent, errors.Join(errs...)
}

func (d *Dispatcher) record(c candidate, ev Event) model.AlertRecord {
	sub := ev.Submission
	return model.AlertRecord{
		Kind:      c.kind,
		DedupeKey: c.key,
		Site:      sub.Site,
		VisitorID: sub.VisitorID,
		IP:        sub.IP,
		Phone:     sub.Phone,
		Name:      sub.Name,
		Score:     ev.Assessment.Score,
		Reasons:   ev.Assessment.Tags(),
		Message:   FormatMessage(c.kind, ev),
		CreatedAt: d.now().UTC(),
	}
}

var titles = map[model.AlertKind]string{
	model.AlertSuspicious:   "Suspicious submission",
	model.AlertPhoneChanged: "Visitor changed phone",
	model.AlertNameChanged:  "Visitor changed name",
}

// FormatMessage renders the plain-text notification body.
func FormatMessage(kind model.AlertKind, ev Event) string {
	sub := ev.Submission
	title := titles[kind]
	if title == "" {
		title = string(kind)
	}

	reasons := "-"
	if len(ev.Assessment.Reasons) > 0 {
		parts := make([]string, 0, len(ev.Assessment.Reasons))
		for _, r := range ev.Assessment.Reasons {
			if r.Detail != "" {
				parts = append(parts, fmt.Sprintf("%s (+%d, %s)", r.Tag, r.Weight, r.Detail))
			} else {
				parts = append(parts, fmt.Sprintf("%s (+%d)", r.Tag, r.Weight))
			}
		}
		reasons = strings.Join(parts, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", title)
	fmt.Fprintf(&b, "site: %s\n", sub.Site)
	fmt.Fprintf(&b, "vid: %s\n", sub.VisitorID)
	fmt.Fprintf(&b, "ip: %s\n", orDash(sub.IP))
	fmt.Fprintf(&b, "phone: %s\n", orDash(sub.Phone))
	fmt.Fprintf(&b, "name: %s\n", orDash(sub.Name))
	fmt.Fprintf(&b, "score: %d\n", ev.Assessment.Score)
	fmt.Fprintf(&b, "reasons: %s\n", reasons)
	fmt.Fprintf(&b, "history(%s): count=%d, phones=%d, names=%d, shared_phone=%d",
		formatWindow(ev.Window),
		ev.History.PriorCount,
		len(ev.History.PriorPhones),
		len(ev.History.PriorNames),
		ev.History.SharedPhoneCount,
	)
	return b.String()
}

func formatWindow(w time.Duration) string {
	if w > 0 && w%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(w/time.Hour))
	}
	return w.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
