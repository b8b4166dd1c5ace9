// Package bot holds the chat transport contract and the event router.
package bot

import (
	"context"
	"strings"
)

// Event is an inbound chat message or button press.
type Event struct {
	ChatID   int64
	UserID   int64
	UserName string

	Text    string
	Command string
	Args    string

	CallbackID string
	Data       string
	MessageID  int
}

func (e Event) IsCallback() bool {
	return e.CallbackID != ""
}

func (e Event) IsCommand() bool {
	return e.Command != ""
}

type Button struct {
	Text string
	Data string
	URL  string
}

type Keyboard [][]Button

func DataButton(text, data string) Button {
	return Button{Text: text, Data: data}
}

func URLButton(text, url string) Button {
	return Button{Text: text, URL: url}
}

func Row(buttons ...Button) []Button {
	return buttons
}

// Photo carries either raw image bytes or a URL the transport fetches itself.
type Photo struct {
	Name  string
	Bytes []byte
	URL   string
}

// Transport is the outbound side of the chat API. Texts are HTML formatted.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, kb Keyboard) (int, error)
	SendPhoto(ctx context.Context, chatID int64, photo Photo, caption string, kb Keyboard) (int, error)
	SendDocument(ctx context.Context, chatID int64, name string, data []byte, caption string) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string, kb Keyboard) error
	AnswerCallback(ctx context.Context, callbackID string, text string, alert bool) error
}

// ParseCommand splits "/cmd@bot args" into its command and arguments.
func ParseCommand(text string) (cmd, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}
