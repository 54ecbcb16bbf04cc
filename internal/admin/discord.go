package admin

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const commandTimeout = 10 * time.Second

// messageSender is the slice of *discordgo.Session used to reply.
type messageSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordBot relays slash-prefixed messages in one channel to an Executor.
type DiscordBot struct {
	session   *discordgo.Session
	channelID string
	exec      *Executor
	log       *zap.Logger
}

// NewDiscordBot creates a bot for the given token. Run connects it.
func NewDiscordBot(token, channelID string, exec *Executor) (*DiscordBot, error) {
	if token == "" {
		return nil, eris.New("admin: discord bot token is required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, eris.Wrap(err, "admin: create discord session")
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	return &DiscordBot{
		session:   s,
		channelID: channelID,
		exec:      exec,
		log:       zap.L().With(zap.String("component", "admin.discord")),
	}, nil
}

// Run listens for commands until ctx is cancelled.
func (b *DiscordBot) Run(ctx context.Context) error {
	remove := b.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		selfID := ""
		if s.State != nil && s.State.User != nil {
			selfID = s.State.User.ID
		}
		b.handle(ctx, s, selfID, m)
	})
	defer remove()

	if err := b.session.Open(); err != nil {
		return eris.Wrap(err, "admin: open discord session")
	}
	b.log.Info("admin: discord bot connected", zap.String("channel", b.channelID))

	<-ctx.Done()
	if err := b.session.Close(); err != nil {
		b.log.Warn("admin: close discord session", zap.Error(err))
	}
	return nil
}

// handle replies to one message when it is a command for this bot.
func (b *DiscordBot) handle(ctx context.Context, out messageSender, selfID string, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	if m.Author.Bot || m.Author.ID == selfID {
		return
	}
	if b.channelID != "" && m.ChannelID != b.channelID {
		return
	}
	if !strings.HasPrefix(strings.TrimSpace(m.Content), "/") {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	reply := b.exec.Execute(cctx, m.Author.ID, m.Content)
	if _, err := out.ChannelMessageSend(m.ChannelID, reply, discordgo.WithContext(cctx)); err != nil {
		b.log.Warn("admin: discord reply failed", zap.Error(err))
	}
}
