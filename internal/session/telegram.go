package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/DGGua/oicq/internal/bus"
	"github.com/DGGua/oicq/internal/onebot"
)

// Telegram is a Session backed by a long-polling Telegram bot. Inbound
// updates are converted to protocol events and published on the bus.
type Telegram struct {
	token   string
	allowed map[int64]struct{}
	bus     *bus.Bus
	logger  *slog.Logger

	bot    *tgbotapi.BotAPI
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	selfID int64
	groups map[int64]struct{}
}

// NewTelegram creates a Telegram session. If allowedIDs is non-empty, updates
// from other users are dropped.
func NewTelegram(token string, allowedIDs []int64, eventBus *bus.Bus, logger *slog.Logger) *Telegram {
	allowed := make(map[int64]struct{})
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		token:   token,
		allowed: allowed,
		bus:     eventBus,
		logger:  logger,
		groups:  make(map[int64]struct{}),
	}
}

func (t *Telegram) AccountID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selfID
}

func (t *Telegram) HasGroup(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.groups[id]
	return ok
}

// Login brings the session online and starts the update poll loop. The
// password digest is not used by the Telegram transport, which authenticates
// with its bot token.
func (t *Telegram) Login(_ []byte) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	t.bot = bot

	t.mu.Lock()
	t.selfID = bot.Self.ID
	t.mu.Unlock()

	t.logger.Info("session online", "self_id", bot.Self.ID, "user", bot.Self.UserName)
	t.publish(bus.TopicEventMeta, onebot.Lifecycle(bot.Self.ID, onebot.LifecycleConnect))
	t.publish(bus.TopicEventMeta, onebot.Lifecycle(bot.Self.ID, onebot.LifecycleEnable))

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.wg.Add(1)
	go t.run(ctx)
	return nil
}

// Logout stops polling and announces the session as disabled.
func (t *Telegram) Logout() error {
	if t.cancel == nil {
		return ErrOffline
	}
	t.cancel()
	t.bot.StopReceivingUpdates()
	t.wg.Wait()
	t.cancel = nil

	t.publish(bus.TopicEventMeta, onebot.Lifecycle(t.AccountID(), onebot.LifecycleDisable))
	t.logger.Info("session offline", "self_id", t.AccountID())
	return nil
}

// SubmitSlider is part of the capability surface for sessions whose login
// flow requires a captcha ticket. Telegram logins never do.
func (t *Telegram) SubmitSlider(ticket string) error {
	t.logger.Debug("slider ticket ignored", "len", len(ticket))
	return nil
}

func (t *Telegram) SendPrivateMessage(targetID int64, message any, quote any) error {
	return t.send(targetID, message, quote)
}

// SendGroupMessage sends to a group chat. Telegram group chat ids are
// negative and are passed through as-is.
func (t *Telegram) SendGroupMessage(targetID int64, message any, quote any) error {
	return t.send(targetID, message, quote)
}

func (t *Telegram) send(chatID int64, message any, quote any) error {
	if t.bot == nil {
		return ErrOffline
	}
	msg := tgbotapi.NewMessage(chatID, renderText(message))
	if id := quoteID(quote); id != 0 {
		msg.ReplyToMessageID = id
	}
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}

// run polls for updates until ctx is cancelled, reconnecting with
// exponential backoff when the long-poll stream dies.
func (t *Telegram) run(ctx context.Context) {
	defer t.wg.Done()

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)

		// Always clean up the old polling goroutine before reconnecting.
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		// pollUpdates returned nil means ctx was cancelled.
		return
	}
}

// pollUpdates reads from the update channel until ctx is done, the channel
// closes, or no updates arrive within 2x the long-poll timeout (stall
// detection). Returns nil on context cancellation, or an error to trigger
// reconnection.
func (t *Telegram) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	// The library uses a 60s long-poll timeout and blocks rather than closing
	// the channel on a dead connection.
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			t.handleUpdate(update)

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.ChatJoinRequest != nil {
		req := update.ChatJoinRequest
		if !t.allowedUser(req.From.ID) {
			return
		}
		t.publish(bus.TopicEventRequest, &onebot.RequestEvent{
			SelfID:      t.AccountID(),
			Time:        time.Now().Unix(),
			PostType:    onebot.PostTypeRequest,
			RequestType: "group",
			SubType:     "add",
			UserID:      req.From.ID,
			GroupID:     req.Chat.ID,
			Flag:        strconv.FormatInt(req.From.ID, 10),
		})
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	if !t.allowedUser(msg.From.ID) {
		t.logger.Warn("update dropped, sender not allowed", "user_id", msg.From.ID)
		return
	}

	if !msg.Chat.IsPrivate() {
		t.rememberGroup(msg.Chat.ID)
	}

	if len(msg.NewChatMembers) > 0 {
		for _, member := range msg.NewChatMembers {
			t.publish(bus.TopicEventNotice, &onebot.NoticeEvent{
				SelfID:     t.AccountID(),
				Time:       int64(msg.Date),
				PostType:   onebot.PostTypeNotice,
				NoticeType: "group_increase",
				UserID:     member.ID,
				GroupID:    msg.Chat.ID,
			})
		}
		return
	}
	if msg.LeftChatMember != nil {
		t.publish(bus.TopicEventNotice, &onebot.NoticeEvent{
			SelfID:     t.AccountID(),
			Time:       int64(msg.Date),
			PostType:   onebot.PostTypeNotice,
			NoticeType: "group_decrease",
			UserID:     msg.LeftChatMember.ID,
			GroupID:    msg.Chat.ID,
		})
		return
	}

	if msg.Text == "" {
		return
	}
	t.publish(bus.TopicEventMessage, messageEventFrom(msg, t.AccountID()))
}

func (t *Telegram) allowedUser(id int64) bool {
	if len(t.allowed) == 0 {
		return true
	}
	_, ok := t.allowed[id]
	return ok
}

func (t *Telegram) rememberGroup(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.groups[id] = struct{}{}
}

func (t *Telegram) publish(topic string, payload any) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(topic, payload)
}

// messageEventFrom converts an inbound Telegram message to a protocol
// message event. Private chats map to private/friend, everything else to
// group/normal.
func messageEventFrom(msg *tgbotapi.Message, selfID int64) *onebot.MessageEvent {
	nickname := msg.From.UserName
	if msg.From.FirstName != "" {
		nickname = msg.From.FirstName
	}

	ev := &onebot.MessageEvent{
		SelfID:     selfID,
		Time:       int64(msg.Date),
		PostType:   onebot.PostTypeMessage,
		MessageID:  strconv.Itoa(msg.MessageID),
		UserID:     msg.From.ID,
		Message:    []onebot.TextSegment{{Type: "text", Text: msg.Text}},
		RawMessage: msg.Text,
		Sender:     onebot.Sender{UserID: msg.From.ID, Nickname: nickname},
	}
	if msg.Chat.IsPrivate() {
		ev.MessageType = "private"
		ev.SubType = "friend"
	} else {
		ev.MessageType = "group"
		ev.SubType = "normal"
		ev.GroupID = msg.Chat.ID
	}
	return ev
}
