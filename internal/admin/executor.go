package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/formguard/internal/block"
	"github.com/sells-group/formguard/internal/model"
	"github.com/sells-group/formguard/internal/pipeline"
)

// Blocker mutates the deny lists. *block.Registry satisfies it.
type Blocker interface {
	Block(ctx context.Context, t block.Target, reason string) (*block.Result, error)
	Unblock(ctx context.Context, t block.Target) (int, error)
}

// RiskQuerier reports a visitor's risk. *pipeline.Pipeline satisfies it.
type RiskQuerier interface {
	QueryRisk(ctx context.Context, site, visitorID, ip string) (*pipeline.RiskReport, error)
}

// AlertLister lists recent alerts. store.Store satisfies it.
type AlertLister interface {
	ListAlerts(ctx context.Context, sinceID int64, limit int) ([]model.AlertRecord, error)
}

// Executor authorizes senders and runs their commands.
type Executor struct {
	blocks  Blocker
	risk    RiskQuerier
	alerts  AlertLister
	allowed map[string]bool
	log     *zap.Logger
}

// NewExecutor creates an Executor. Only senders in allowedIDs may run
// commands; an empty list denies everyone.
func NewExecutor(blocks Blocker, risk RiskQuerier, alerts AlertLister, allowedIDs []string) *Executor {
	allowed := make(map[string]bool, len(allowedIDs))
	for _, id := range allowedIDs {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = true
		}
	}
	return &Executor{
		blocks:  blocks,
		risk:    risk,
		alerts:  alerts,
		allowed: allowed,
		log:     zap.L().With(zap.String("component", "admin")),
	}
}

// Authorized reports whether sender may run commands.
func (e *Executor) Authorized(sender string) bool {
	return e.allowed[sender]
}

// Execute runs text on behalf of sender and returns the reply. Nothing is
// parsed or changed for unauthorized senders.
func (e *Executor) Execute(ctx context.Context, sender, text string) string {
	if !e.Authorized(sender) {
		e.log.Warn("admin: unauthorized command", zap.String("sender", sender))
		return "not authorized"
	}

	cmd, err := Parse(text)
	if err != nil {
		if errors.Is(err, ErrUnknownCommand) {
			return Usage
		}
		return strings.TrimPrefix(err.Error(), "admin: ")
	}

	e.log.Info("admin: command",
		zap.String("sender", sender),
		zap.String("verb", string(cmd.Verb)),
		zap.String("value", cmd.Value),
	)

	switch cmd.Verb {
	case VerbBlock:
		return e.block(ctx, cmd)
	case VerbUnblock:
		return e.unblock(ctx, cmd)
	case VerbLookup:
		return e.lookup(ctx, cmd)
	case VerbAlerts:
		return e.listAlerts(ctx, cmd)
	}
	return Usage
}

func (e *Executor) block(ctx context.Context, cmd Command) string {
	res, err := e.blocks.Block(ctx, cmd.Target(), cmd.Reason)
	if err != nil {
		e.log.Error("admin: block failed", zap.Error(err))
		return "block failed"
	}
	msg := fmt.Sprintf("blocked %s %s", cmd.Kind, cmd.Value)
	if len(res.Derived) > 0 {
		msg += fmt.Sprintf("\nalso blocked %d visitor(s): %s", len(res.Derived), strings.Join(res.Derived, ", "))
	}
	return msg
}

func (e *Executor) unblock(ctx context.Context, cmd Command) string {
	n, err := e.blocks.Unblock(ctx, cmd.Target())
	if err != nil {
		e.log.Error("admin: unblock failed", zap.Error(err))
		return "unblock failed"
	}
	if n == 0 {
		return fmt.Sprintf("%s %s was not blocked", cmd.Kind, cmd.Value)
	}
	return fmt.Sprintf("unblocked %s %s", cmd.Kind, cmd.Value)
}

func (e *Executor) lookup(ctx context.Context, cmd Command) string {
	rep, err := e.risk.QueryRisk(ctx, cmd.Site, cmd.Value, "")
	if err != nil {
		e.log.Error("admin: lookup failed", zap.Error(err))
		return "lookup failed"
	}
	return FormatRisk(rep)
}

func (e *Executor) listAlerts(ctx context.Context, cmd Command) string {
	recs, err := e.alerts.ListAlerts(ctx, 0, cmd.Count)
	if err != nil {
		e.log.Error("admin: list alerts failed", zap.Error(err))
		return "listing alerts failed"
	}
	if len(recs) == 0 {
		return "no alerts"
	}
	var b strings.Builder
	for i, r := range recs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "#%d %s %s %s/%s score=%d [%s]",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.Kind, r.Site, r.VisitorID, r.Score, strings.Join(r.Reasons, ", "))
	}
	return b.String()
}

// FormatRisk renders a risk report for chat.
func FormatRisk(rep *pipeline.RiskReport) string {
	if rep.Blocked {
		return fmt.Sprintf("%s/%s: %s", rep.Site, rep.VisitorID, rep.BlockReason)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s\n", rep.Site, rep.VisitorID)
	score := 0
	if rep.Score != nil {
		score = *rep.Score
	}
	fmt.Fprintf(&b, "score: %d suspicious: %t captcha_required: %t\n", score, rep.Suspicious, rep.ChallengeOwed)
	reasons := "-"
	if len(rep.Reasons) > 0 {
		reasons = strings.Join(rep.Reasons, ", ")
	}
	fmt.Fprintf(&b, "reasons: %s\n", reasons)
	if rep.History != nil {
		fmt.Fprintf(&b, "history(%dh): count=%d, phones=%d, names=%d\n",
			rep.History.WindowHours, rep.History.Count, rep.History.DistinctPhones, rep.History.DistinctNames)
	}
	fmt.Fprintf(&b, "submissions: %d", rep.SubmissionCount)
	if rep.LastSeen != nil {
		fmt.Fprintf(&b, ", last seen %s", rep.LastSeen.UTC().Format("2006-01-02 15:04"))
	}
	return b.String()
}
