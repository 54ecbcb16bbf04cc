// Package block maintains the visitor, IP and phone deny lists.
package block

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/formguard/internal/model"
	"github.com/sells-group/formguard/internal/store"
)

// ErrEmptyTarget is returned when a block or unblock names no identity.
var ErrEmptyTarget = eris.New("block: target needs a visitor id, ip or phone")

// Target names the identities to act on. Empty fields are skipped.
type Target struct {
	VisitorID string `json:"vid,omitempty"`
	IP        string `json:"ip,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Empty reports whether no identity is set.
func (t Target) Empty() bool {
	return t.VisitorID == "" && t.IP == "" && t.Phone == ""
}

func (t Target) normalized() Target {
	return Target{
		VisitorID: strings.TrimSpace(t.VisitorID),
		IP:        strings.TrimSpace(t.IP),
		Phone:     model.NormalizePhone(t.Phone),
	}
}

// Result describes a block operation.
type Result struct {
	Target  Target   `json:"target"`
	Derived []string `json:"derived_visitor_ids"`
}

// Registry is the deny-list facade over a BlockStore.
type Registry struct {
	store store.BlockStore
	now   func() time.Time
	log   *zap.Logger
}

// NewRegistry creates a Registry.
func NewRegistry(bs store.BlockStore) *Registry {
	return &Registry{
		store: bs,
		now:   time.Now,
		log:   zap.L().With(zap.String("component", "block")),
	}
}

// IsBlocked checks the visitor, IP and phone lists in that order and returns
// the first match. Empty identities are not checked.
func (r *Registry) IsBlocked(ctx context.Context, visitorID, ip, phone string) (bool, string, error) {
	checks := []struct {
		kind  model.BlockKind
		value string
	}{
		{model.BlockVisitor, visitorID},
		{model.BlockIP, ip},
		{model.BlockPhone, model.NormalizePhone(phone)},
	}
	for _, c := range checks {
		if c.value == "" {
			continue
		}
		e, err := r.store.GetBlock(ctx, c.kind, c.value)
		if err != nil {
			return false, "", eris.Wrapf(err, "block: check %s", c.kind)
		}
		if e != nil {
			return true, FormatReason(e), nil
		}
	}
	return false, "", nil
}

// FormatReason renders the reason reported to a blocked caller.
func FormatReason(e *model.BlockEntry) string {
	return strings.TrimSpace(fmt.Sprintf("blocked %s: %s", e.Kind, e.Reason))
}

// DerivedReason is the reason stored on visitor blocks propagated from a
// phone block.
func DerivedReason(phone, reason string) string {
	return strings.TrimSpace(fmt.Sprintf("phone block %s: %s", phone, reason))
}

// Block upserts an entry for each identity in t. A phone block also blocks
// every visitor that ever submitted that phone; their ids are returned in
// Result.Derived.
func (r *Registry) Block(ctx context.Context, t Target, reason string) (*Result, error) {
	t = t.normalized()
	if t.Empty() {
		return nil, ErrEmptyTarget
	}
	reason = strings.TrimSpace(reason)
	now := r.now().UTC()
	res := &Result{Target: t, Derived: []string{}}

	if t.VisitorID != "" {
		if err := r.store.UpsertBlock(ctx, model.BlockEntry{
			Kind: model.BlockVisitor, Value: t.VisitorID, Reason: reason, CreatedAt: now,
		}); err != nil {
			return nil, eris.Wrap(err, "block: visitor")
		}
	}
	if t.IP != "" {
		if err := r.store.UpsertBlock(ctx, model.BlockEntry{
			Kind: model.BlockIP, Value: t.IP, Reason: reason, CreatedAt: now,
		}); err != nil {
			return nil, eris.Wrap(err, "block: ip")
		}
	}
	if t.Phone != "" {
		derived, err := r.store.BlockPhone(ctx,
			model.BlockEntry{Kind: model.BlockPhone, Value: t.Phone, Reason: reason, CreatedAt: now},
			DerivedReason(t.Phone, reason),
		)
		if err != nil {
			return nil, eris.Wrap(err, "block: phone")
		}
		res.Derived = append(res.Derived, derived...)
	}

	r.log.Info("block: added",
		zap.String("visitor_id", t.VisitorID),
		zap.String("ip", t.IP),
		zap.String("phone", t.Phone),
		zap.Int("derived", len(res.Derived)),
	)
	return res, nil
}

// Unblock removes the entry for each identity in t and returns how many
// existed. Derived visitor blocks survive unblocking their phone.
func (r *Registry) Unblock(ctx context.Context, t Target) (int, error) {
	t = t.normalized()
	if t.Empty() {
		return 0, ErrEmptyTarget
	}

	removed := 0
	for _, e := range []struct {
		kind  model.BlockKind
		value string
	}{
		{model.BlockVisitor, t.VisitorID},
		{model.BlockIP, t.IP},
		{model.BlockPhone, t.Phone},
	} {
		if e.value == "" {
			continue
		}
		existed, err := r.store.DeleteBlock(ctx, e.kind, e.value)
		if err != nil {
			return removed, eris.Wrapf(err, "block: unblock %s", e.kind)
		}
		if existed {
			removed++
		}
	}

	r.log.Info("block: removed",
		zap.String("visitor_id", t.VisitorID),
		zap.String("ip", t.IP),
		zap.String("phone", t.Phone),
		zap.Int("removed", removed),
	)
	return removed, nil
}

// List returns up to limit entries of kind, newest first.
func (r *Registry) List(ctx context.Context, kind model.BlockKind, limit int) ([]model.BlockEntry, error) {
	if !kind.Valid() {
		return nil, eris.Errorf("block: unknown kind %q", kind)
	}
	out, err := r.store.ListBlocks(ctx, kind, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "block: list %s", kind)
	}
	if out == nil {
		out = []model.BlockEntry{}
	}
	return out, nil
}

// Snapshot lists every kind, as served by the admin listing.
func (r *Registry) Snapshot(ctx context.Context, limit int) (map[model.BlockKind][]model.BlockEntry, error) {
	out := make(map[model.BlockKind][]model.BlockEntry, 3)
	for _, kind := range []model.BlockKind{model.BlockVisitor, model.BlockIP, model.BlockPhone} {
		entries, err := r.List(ctx, kind, limit)
		if err != nil {
			return nil, err
		}
		out[kind] = entries
	}
	return out, nil
}
