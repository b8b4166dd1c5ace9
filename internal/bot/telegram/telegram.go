package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/GlebRadaev/vpnshop/internal/bot"
)

const parseMode = tgbotapi.ModeHTML

type Client struct {
	api *tgbotapi.BotAPI
}

func New(token string) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	zap.L().Info("authorized on telegram", zap.String("account", api.Self.UserName))
	return &Client{api: api}, nil
}

// NewWithAPI wraps an already configured BotAPI.
func NewWithAPI(api *tgbotapi.BotAPI) *Client {
	return &Client{api: api}
}

// Updates long-polls telegram until ctx is done and converts updates into events.
func (c *Client) Updates(ctx context.Context) <-chan bot.Event {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.api.GetUpdatesChan(u)

	out := make(chan bot.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				c.api.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				ev, ok := ToEvent(update)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					c.api.StopReceivingUpdates()
					return
				}
			}
		}
	}()
	return out
}

// ToEvent converts messages and callback queries. Other update kinds are skipped.
func ToEvent(update tgbotapi.Update) (bot.Event, bool) {
	switch {
	case update.CallbackQuery != nil:
		q := update.CallbackQuery
		ev := bot.Event{
			CallbackID: q.ID,
			Data:       q.Data,
		}
		if q.From != nil {
			ev.UserID = q.From.ID
			ev.UserName = displayName(q.From)
		}
		if q.Message != nil {
			ev.MessageID = q.Message.MessageID
			if q.Message.Chat != nil {
				ev.ChatID = q.Message.Chat.ID
			}
		}
		return ev, true
	case update.Message != nil:
		m := update.Message
		ev := bot.Event{
			MessageID: m.MessageID,
			Text:      m.Text,
		}
		if ev.Text == "" {
			ev.Text = m.Caption
		}
		if m.Chat != nil {
			ev.ChatID = m.Chat.ID
		}
		if m.From != nil {
			ev.UserID = m.From.ID
			ev.UserName = displayName(m.From)
		}
		if cmd, args, ok := bot.ParseCommand(ev.Text); ok {
			ev.Command, ev.Args = cmd, args
		}
		return ev, true
	default:
		return bot.Event{}, false
	}
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(strings.Join([]string{u.FirstName, u.LastName}, " "))
	if name != "" {
		return name
	}
	if u.UserName != "" {
		return u.UserName
	}
	return "User"
}

// Markup converts a keyboard. Empty keyboards return nil.
func Markup(kb bot.Keyboard) *tgbotapi.InlineKeyboardMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func (c *Client) SendText(_ context.Context, chatID int64, text string, kb bot.Keyboard) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode
	msg.DisableWebPagePreview = true
	if markup := Markup(kb); markup != nil {
		msg.ReplyMarkup = *markup
	}
	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

func (c *Client) SendPhoto(_ context.Context, chatID int64, photo bot.Photo, caption string, kb bot.Keyboard) (int, error) {
	var file tgbotapi.RequestFileData
	if len(photo.Bytes) > 0 {
		file = tgbotapi.FileBytes{Name: photo.Name, Bytes: photo.Bytes}
	} else {
		file = tgbotapi.FileURL(photo.URL)
	}
	msg := tgbotapi.NewPhoto(chatID, file)
	msg.Caption = caption
	msg.ParseMode = parseMode
	if markup := Markup(kb); markup != nil {
		msg.ReplyMarkup = *markup
	}
	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send photo: %w", err)
	}
	return sent.MessageID, nil
}

func (c *Client) SendDocument(_ context.Context, chatID int64, name string, data []byte, caption string) (int, error) {
	msg := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	msg.Caption = caption
	msg.ParseMode = parseMode
	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send document: %w", err)
	}
	return sent.MessageID, nil
}

func (c *Client) EditText(_ context.Context, chatID int64, messageID int, text string, kb bot.Keyboard) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = parseMode
	edit.ReplyMarkup = Markup(kb)
	if _, err := c.api.Send(edit); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func (c *Client) AnswerCallback(_ context.Context, callbackID string, text string, alert bool) error {
	cfg := tgbotapi.NewCallback(callbackID, text)
	if alert {
		cfg = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	if _, err := c.api.Request(cfg); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

var _ bot.Transport = (*Client)(nil)
