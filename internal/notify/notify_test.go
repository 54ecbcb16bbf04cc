package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/sells-group/formguard/internal/config"
	"github.com/sells-group/formguard/internal/resilience"
)

type recordingNotifier struct {
	name string
	mu   sync.Mutex
	msgs []string
	errs []error
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return err
	}
	return nil
}

func (r *recordingNotifier) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestTelegram_Send(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer srv.Close()

	tg := NewTelegram(srv.URL+"/", "123:abc", "-100200", srv.Client())
	require.NoError(t, tg.Send(context.Background(), "hello"))

	assert.Equal(t, "/bot123:abc/sendMessage", gotPath)
	assert.Equal(t, "-100200", gjson.GetBytes(gotBody, "chat_id").String())
	assert.Equal(t, "hello", gjson.GetBytes(gotBody, "text").String())
	assert.True(t, gjson.GetBytes(gotBody, "disable_web_page_preview").Bool())
}

func TestTelegram_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		contains  string
	}{
		{"bad request", http.StatusBadRequest, `{"ok":false,"description":"Bad Request: chat not found"}`, false, "chat not found"},
		{"rate limited", http.StatusTooManyRequests, `{"ok":false,"description":"Too Many Requests"}`, true, "Too Many Requests"},
		{"server error", http.StatusBadGateway, `oops`, true, "502"},
		{"ok false", http.StatusOK, `{"ok":false,"description":"weird"}`, false, "weird"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewTelegram(srv.URL, "t", "c", srv.Client()).Send(context.Background(), "x")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
		})
	}
}

func TestTelegram_TokenNotInTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	err := NewTelegram(base, "secret-token", "c", nil).Send(context.Background(), "x")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestTelegram_Truncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", telegramMaxRunes+10)
	got := truncateRunes(long, telegramMaxRunes)
	assert.Len(t, []rune(got), telegramMaxRunes)
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.Equal(t, "short", truncateRunes("short", 10))
}

func TestWebhook_Send(t *testing.T) {
	t.Parallel()

	var payload webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, srv.Client())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	wh.now = func() time.Time { return fixed }

	require.NoError(t, wh.Send(context.Background(), "alert text"))
	assert.Equal(t, "alert text", payload.Text)
	assert.Equal(t, "formguard", payload.Source)
	assert.True(t, fixed.Equal(payload.Timestamp))
}

func TestWebhook_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, srv.Client()).Send(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

type fakeWebhookExec struct {
	id, token string
	params    *discordgo.WebhookParams
	err       error
}

func (f *fakeWebhookExec) WebhookExecute(id, token string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.id, f.token, f.params = id, token, data
	return nil, f.err
}

func TestDiscordWebhook_Send(t *testing.T) {
	t.Parallel()

	exec := &fakeWebhookExec{}
	d := &DiscordWebhook{exec: exec, id: "42", token: "tok"}
	require.NoError(t, d.Send(context.Background(), strings.Repeat("a", discordMaxRunes+5)))

	assert.Equal(t, "42", exec.id)
	assert.Equal(t, "tok", exec.token)
	assert.Len(t, []rune(exec.params.Content), discordMaxRunes)
	require.NotNil(t, exec.params.AllowedMentions)
	assert.Empty(t, exec.params.AllowedMentions.Parse)
}

func TestDiscordWebhook_RateLimitedIsTransient(t *testing.T) {
	t.Parallel()

	exec := &fakeWebhookExec{err: &discordgo.RESTError{
		Response:     &http.Response{StatusCode: http.StatusTooManyRequests, Status: "429 Too Many Requests"},
		ResponseBody: []byte(`{"message":"You are being rate limited."}`),
	}}
	d := &DiscordWebhook{exec: exec, id: "42", token: "tok"}
	err := d.Send(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))

	exec.err = errors.New("boom")
	err = d.Send(context.Background(), "x")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestNewDiscordWebhook_RequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewDiscordWebhook("42", "")
	assert.Error(t, err)

	d, err := NewDiscordWebhook("42", "tok")
	require.NoError(t, err)
	assert.Equal(t, "discord", d.Name())
}

func TestMulti(t *testing.T) {
	t.Parallel()

	ok := &recordingNotifier{name: "ok"}
	bad := &recordingNotifier{name: "bad", errs: []error{errors.New("down")}}
	m := Multi{ok, bad}
	require.NoError(t, m.Send(context.Background(), "x"), "one success is enough")
	assert.Equal(t, []string{"x"}, ok.messages())
	assert.Equal(t, []string{"x"}, bad.messages())

	allBad := Multi{
		&recordingNotifier{name: "a", errs: []error{errors.New("down a")}},
		&recordingNotifier{name: "b", errs: []error{errors.New("down b")}},
	}
	err := allBad.Send(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down a")
	assert.Contains(t, err.Error(), "down b")
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	n, err := FromConfig(config.NotifyConfig{})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, n)
	assert.NoError(t, n.Send(context.Background(), "x"))

	n, err = FromConfig(config.NotifyConfig{TelegramToken: "t", TelegramChatID: "c"})
	require.NoError(t, err)
	assert.Equal(t, "telegram", n.Name())

	n, err = FromConfig(config.NotifyConfig{
		TelegramToken:       "t",
		TelegramChatID:      "c",
		WebhookURL:          "http://127.0.0.1:1/hook",
		DiscordWebhookID:    "42",
		DiscordWebhookToken: "tok",
	})
	require.NoError(t, err)
	require.IsType(t, Multi{}, n)
	assert.Len(t, n.(Multi), 3)
}

type countingRecorder struct {
	ok, failed, dropped atomic.Int64
}

func (c *countingRecorder) NotifyResult(err error) {
	if err != nil {
		c.failed.Add(1)
		return
	}
	c.ok.Add(1)
}

func (c *countingRecorder) NotifyDropped() { c.dropped.Add(1) }

func TestAsync_Delivers(t *testing.T) {
	t.Parallel()

	next := &recordingNotifier{name: "rec"}
	rec := &countingRecorder{}
	a := NewAsync(next, config.NotifyConfig{QueueSize: 4, TimeoutSecs: 1}, rec)
	assert.Equal(t, "async:rec", a.Name())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	require.NoError(t, a.Send(context.Background(), "one"))
	require.NoError(t, a.Send(context.Background(), "two"))

	require.Eventually(t, func() bool { return rec.ok.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"one", "two"}, next.messages())
}

func TestAsync_DropsWhenFull(t *testing.T) {
	t.Parallel()

	rec := &countingRecorder{}
	a := NewAsync(&recordingNotifier{name: "rec"}, config.NotifyConfig{QueueSize: 1}, rec)

	require.NoError(t, a.Send(context.Background(), "kept"))
	err := a.Send(context.Background(), "dropped")
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), rec.dropped.Load())
	assert.Equal(t, 1, a.Pending())
}

func TestAsync_RetriesTransient(t *testing.T) {
	t.Parallel()

	next := &recordingNotifier{
		name: "flaky",
		errs: []error{resilience.NewTransientError(errors.New("503"), http.StatusServiceUnavailable)},
	}
	rec := &countingRecorder{}
	a := NewAsync(next, config.NotifyConfig{QueueSize: 1, Retries: 2}, rec)
	a.retry.InitialBackoff = time.Millisecond
	a.retry.MaxBackoff = time.Millisecond

	require.NoError(t, a.deliver(context.Background(), "msg"))
	assert.Equal(t, []string{"msg", "msg"}, next.messages())
	assert.Equal(t, int64(1), rec.ok.Load())
}

func TestAsync_PermanentFailureNotRetried(t *testing.T) {
	t.Parallel()

	next := &recordingNotifier{name: "broken", errs: []error{errors.New("bad token")}}
	rec := &countingRecorder{}
	a := NewAsync(next, config.NotifyConfig{QueueSize: 1, Retries: 3}, rec)

	err := a.deliver(context.Background(), "msg")
	require.Error(t, err)
	assert.Len(t, next.messages(), 1)
	assert.Equal(t, int64(1), rec.failed.Load())
}
