package captcha

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/formguard/internal/model"
)

// memChallenges is an in-memory ChallengeStore.
type memChallenges struct {
	mu   sync.Mutex
	rows map[string]model.Challenge
	err  error
}

func newMemChallenges() *memChallenges {
	return &memChallenges{rows: make(map[string]model.Challenge)}
}

func (m *memChallenges) InsertChallenge(_ context.Context, c *model.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows[c.ID] = *c
	return nil
}

func (m *memChallenges) GetChallenge(_ context.Context, id string) (*model.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memChallenges) ConsumeChallenge(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok || c.Consumed {
		return false, nil
	}
	c.Consumed = true
	m.rows[id] = c
	return true, nil
}

var questionRe = regexp.MustCompile(`^What is (\d) ([+-]) (\d)\?$`)

// solve computes the answer from the question text.
func solve(t *testing.T, q string) string {
	t.Helper()
	m := questionRe.FindStringSubmatch(q)
	require.Len(t, m, 4, "unexpected question %q", q)
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[3])
	if m[2] == "+" {
		return strconv.Itoa(a + b)
	}
	return strconv.Itoa(a - b)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestManager(t *testing.T) (*Manager, *memChallenges, *clock) {
	t.Helper()
	secret, err := NewSecret("test-secret")
	require.NoError(t, err)
	cs := newMemChallenges()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(secret, cs, 5*time.Minute)
	m.now = clk.now
	return m, cs, clk
}

var visitor = model.VisitorKey{Site: "shop", VisitorID: "v1"}

func TestIssue(t *testing.T) {
	t.Parallel()
	m, cs, clk := newTestManager(t)

	issued, err := m.Issue(context.Background(), visitor)
	require.NoError(t, err)
	assert.Len(t, issued.ID, 22, "16 bytes base64url without padding")
	assert.Equal(t, 300, issued.ExpiresIn)
	assert.Equal(t, clk.t.Add(5*time.Minute), issued.ExpiresAt)

	stored := cs.rows[issued.ID]
	assert.Equal(t, "shop", stored.Site)
	assert.Equal(t, "v1", stored.VisitorID)
	assert.Equal(t, issued.Question, stored.Question)
	answer := solve(t, issued.Question)
	assert.NotEqual(t, answer, stored.AnswerMAC, "plaintext answer is never stored")
	assert.Len(t, stored.AnswerMAC, 64)
	assert.Equal(t, m.secret.Commit(issued.ID, answer), stored.AnswerMAC)
}

func TestIssue_QuestionsAreWellFormed(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestManager(t)

	for i := 0; i < 200; i++ {
		issued, err := m.Issue(context.Background(), visitor)
		require.NoError(t, err)
		ans, err := strconv.Atoi(solve(t, issued.Question))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, ans, 0)
		assert.LessOrEqual(t, ans, 18)
	}
}

func TestIssue_StoreError(t *testing.T) {
	t.Parallel()
	m, cs, _ := newTestManager(t)
	cs.err = errors.New("disk full")

	_, err := m.Issue(context.Background(), visitor)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "captcha: issue")
}

func TestVerify_ConsumedOnce(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	issued, err := m.Issue(ctx, visitor)
	require.NoError(t, err)
	answer := solve(t, issued.Question)

	ok, err := m.Verify(ctx, issued.ID, " "+answer+" ", visitor)
	require.NoError(t, err)
	assert.True(t, ok, "answer is trimmed")

	for i := 0; i < 3; i++ {
		ok, err = m.Verify(ctx, issued.ID, answer, visitor)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestVerify_Failures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(m *Manager, clk *clock, id, answer string) (string, string, model.VisitorKey)
	}{
		{"unknown id", func(_ *Manager, _ *clock, _, answer string) (string, string, model.VisitorKey) {
			return "nope", answer, visitor
		}},
		{"empty id", func(_ *Manager, _ *clock, _, answer string) (string, string, model.VisitorKey) {
			return "", answer, visitor
		}},
		{"wrong answer", func(_ *Manager, _ *clock, id, answer string) (string, string, model.VisitorKey) {
			return id, answer + "1", visitor
		}},
		{"other visitor", func(_ *Manager, _ *clock, id, answer string) (string, string, model.VisitorKey) {
			return id, answer, model.VisitorKey{Site: "shop", VisitorID: "v2"}
		}},
		{"other site", func(_ *Manager, _ *clock, id, answer string) (string, string, model.VisitorKey) {
			return id, answer, model.VisitorKey{Site: "blog", VisitorID: "v1"}
		}},
		{"expired", func(_ *Manager, clk *clock, id, answer string) (string, string, model.VisitorKey) {
			clk.t = clk.t.Add(5*time.Minute + time.Second)
			return id, answer, visitor
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, cs, clk := newTestManager(t)
			issued, err := m.Issue(ctx, visitor)
			require.NoError(t, err)

			id, answer, key := tt.mutate(m, clk, issued.ID, solve(t, issued.Question))
			ok, err := m.Verify(ctx, id, answer, key)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.False(t, cs.rows[issued.ID].Consumed, "failed verification never consumes")
		})
	}
}

func TestVerify_ExpiredIndistinguishableFromWrong(t *testing.T) {
	t.Parallel()
	m, _, clk := newTestManager(t)
	ctx := context.Background()

	a, err := m.Issue(ctx, visitor)
	require.NoError(t, err)
	b, err := m.Issue(ctx, visitor)
	require.NoError(t, err)

	wrongOK, wrongErr := m.Verify(ctx, a.ID, "99", visitor)
	clk.t = clk.t.Add(time.Hour)
	expiredOK, expiredErr := m.Verify(ctx, b.ID, solve(t, b.Question), visitor)

	assert.Equal(t, wrongOK, expiredOK)
	assert.Equal(t, wrongErr, expiredErr)
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	t.Parallel()
	m, _, clk := newTestManager(t)
	ctx := context.Background()

	issued, err := m.Issue(ctx, visitor)
	require.NoError(t, err)
	clk.t = issued.ExpiresAt

	ok, err := m.Verify(ctx, issued.ID, solve(t, issued.Question), visitor)
	require.NoError(t, err)
	assert.True(t, ok, "valid up to and including the expiry instant")
}

func TestVerify_ConcurrentSingleWinner(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	issued, err := m.Issue(ctx, visitor)
	require.NoError(t, err)
	answer := solve(t, issued.Question)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.Verify(ctx, issued.ID, answer, visitor)
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestVerify_OtherSecretRejects(t *testing.T) {
	t.Parallel()
	m, cs, _ := newTestManager(t)
	ctx := context.Background()

	issued, err := m.Issue(ctx, visitor)
	require.NoError(t, err)

	other, err := NewSecret("rotated")
	require.NoError(t, err)
	restarted := NewManager(other, cs, 5*time.Minute)
	restarted.now = m.now

	ok, err := restarted.Verify(ctx, issued.ID, solve(t, issued.Question), visitor)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBind(t *testing.T) {
	t.Parallel()
	m, original, _ := newTestManager(t)
	txStore := newMemChallenges()

	bound := m.Bind(txStore)
	issued, err := bound.Issue(context.Background(), visitor)
	require.NoError(t, err)

	assert.Contains(t, txStore.rows, issued.ID)
	assert.NotContains(t, original.rows, issued.ID)
	assert.Equal(t, m.TTL(), bound.TTL())
}

func TestSecret(t *testing.T) {
	t.Parallel()

	s, err := NewSecret("k")
	require.NoError(t, err)
	assert.Equal(t, s.Commit("id", "7"), s.Commit("id", "7"))
	assert.NotEqual(t, s.Commit("id", "7"), s.Commit("id", "8"))
	assert.NotEqual(t, s.Commit("id", "7"), s.Commit("id2", "7"))
	assert.True(t, s.Matches("id", "7", s.Commit("id", "7")))
	assert.False(t, s.Matches("id", "7", "00"))

	g1, err := NewSecret("")
	require.NoError(t, err)
	g2, err := NewSecret("")
	require.NoError(t, err)
	assert.False(t, g1.IsZero())
	assert.NotEqual(t, g1.Commit("id", "1"), g2.Commit("id", "1"), "generated secrets are random")
	assert.True(t, Secret{}.IsZero())
}
