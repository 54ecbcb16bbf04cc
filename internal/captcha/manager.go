// Package captcha issues and verifies locally generated arithmetic
// challenges. Only a keyed commitment to each answer is persisted.
package captcha

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/formguard/internal/model"
	"github.com/sells-group/formguard/internal/store"
)

const (
	idBytes    = 16
	maxOperand = 9
)

// Issued is what a client sees of a new challenge.
type Issued struct {
	ID        string    `json:"captcha_id"`
	Question  string    `json:"question"`
	ExpiresIn int       `json:"expires_in_sec"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager issues and verifies challenges against a ChallengeStore.
type Manager struct {
	secret Secret
	store  store.ChallengeStore
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
}

// NewManager creates a Manager.
func NewManager(secret Secret, cs store.ChallengeStore, ttl time.Duration) *Manager {
	return &Manager{
		secret: secret,
		store:  cs,
		ttl:    ttl,
		now:    time.Now,
		random: rand.Reader,
	}
}

// Bind returns a copy of m that reads and writes through cs, typically a
// visitor transaction.
func (m *Manager) Bind(cs store.ChallengeStore) *Manager {
	bound := *m
	bound.store = cs
	return &bound
}

// TTL returns the challenge lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue creates and persists a challenge bound to key.
func (m *Manager) Issue(ctx context.Context, key model.VisitorKey) (*Issued, error) {
	id, err := m.newID()
	if err != nil {
		return nil, err
	}
	question, answer, err := m.newQuestion()
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	c := &model.Challenge{
		ID:        id,
		Site:      key.Site,
		VisitorID: key.VisitorID,
		Question:  question,
		AnswerMAC: m.secret.Commit(id, strconv.Itoa(answer)),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.InsertChallenge(ctx, c); err != nil {
		return nil, eris.Wrap(err, "captcha: issue")
	}

	zap.L().Debug("captcha: issued",
		zap.String("site", key.Site),
		zap.String("visitor_id", key.VisitorID),
	)
	return &Issued{
		ID:        id,
		Question:  question,
		ExpiresIn: int(m.ttl / time.Second),
		ExpiresAt: c.ExpiresAt,
	}, nil
}

// Verify checks answer for challenge id on behalf of key and consumes the
// challenge on success. Unknown, consumed, expired, foreign and wrong-answer
// challenges all report false without an error.
func (m *Manager) Verify(ctx context.Context, id, answer string, key model.VisitorKey) (bool, error) {
	if id == "" || m.secret.IsZero() {
		return false, nil
	}
	c, err := m.store.GetChallenge(ctx, id)
	if err != nil {
		return false, eris.Wrap(err, "captcha: verify")
	}
	if c == nil || c.Consumed {
		return false, nil
	}
	if c.Site != key.Site || c.VisitorID != key.VisitorID {
		return false, nil
	}
	if c.Expired(m.now()) {
		return false, nil
	}
	if !m.secret.Matches(c.ID, strings.TrimSpace(answer), c.AnswerMAC) {
		return false, nil
	}

	consumed, err := m.store.ConsumeChallenge(ctx, id)
	if err != nil {
		return false, eris.Wrap(err, "captcha: consume")
	}
	return consumed, nil
}

func (m *Manager) newID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := io.ReadFull(m.random, b); err != nil {
		return "", eris.Wrap(err, "captcha: generate id")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// newQuestion draws two operands in 1..9 and an operator. Subtraction
// operands are ordered so the answer is never negative.
func (m *Manager) newQuestion() (string, int, error) {
	a, err := m.intn(maxOperand)
	if err != nil {
		return "", 0, err
	}
	b, err := m.intn(maxOperand)
	if err != nil {
		return "", 0, err
	}
	op, err := m.intn(2)
	if err != nil {
		return "", 0, err
	}
	a++
	b++

	if op == 0 {
		return fmt.Sprintf("What is %d + %d?", a, b), a + b, nil
	}
	if b > a {
		a, b = b, a
	}
	return fmt.Sprintf("What is %d - %d?", a, b), a - b, nil
}

func (m *Manager) intn(n int64) (int, error) {
	v, err := rand.Int(m.random, big.NewInt(n))
	if err != nil {
		return 0, eris.Wrap(err, "captcha: random")
	}
	return int(v.Int64()), nil
}
