// Package bottest provides an in-memory bot.Transport for workflow tests.
package bottest

import (
	"context"
	"strings"
	"sync"

	"github.com/GlebRadaev/vpnshop/internal/bot"
)

type Kind string

const (
	KindText     Kind = "text"
	KindPhoto    Kind = "photo"
	KindDocument Kind = "document"
	KindEdit     Kind = "edit"
	KindAnswer   Kind = "answer"
)

type Sent struct {
	Kind       Kind
	ChatID     int64
	MessageID  int
	Text       string
	Keyboard   bot.Keyboard
	Photo      bot.Photo
	Document   []byte
	CallbackID string
	Alert      bool
}

type Recorder struct {
	mu     sync.Mutex
	sent   []Sent
	nextID int
	// Err is returned by every call when set.
	Err error
}

func New() *Recorder {
	return &Recorder{nextID: 100}
}

func (r *Recorder) record(s Sent) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	if s.MessageID == 0 && s.Kind != KindAnswer {
		r.nextID++
		s.MessageID = r.nextID
	}
	r.sent = append(r.sent, s)
	return s.MessageID, nil
}

func (r *Recorder) SendText(_ context.Context, chatID int64, text string, kb bot.Keyboard) (int, error) {
	return r.record(Sent{Kind: KindText, ChatID: chatID, Text: text, Keyboard: kb})
}

func (r *Recorder) SendPhoto(_ context.Context, chatID int64, photo bot.Photo, caption string, kb bot.Keyboard) (int, error) {
	return r.record(Sent{Kind: KindPhoto, ChatID: chatID, Photo: photo, Text: caption, Keyboard: kb})
}

func (r *Recorder) SendDocument(_ context.Context, chatID int64, _ string, data []byte, caption string) (int, error) {
	return r.record(Sent{Kind: KindDocument, ChatID: chatID, Document: data, Text: caption})
}

func (r *Recorder) EditText(_ context.Context, chatID int64, messageID int, text string, kb bot.Keyboard) error {
	_, err := r.record(Sent{Kind: KindEdit, ChatID: chatID, MessageID: messageID, Text: text, Keyboard: kb})
	return err
}

func (r *Recorder) AnswerCallback(_ context.Context, callbackID string, text string, alert bool) error {
	_, err := r.record(Sent{Kind: KindAnswer, CallbackID: callbackID, Text: text, Alert: alert})
	return err
}

func (r *Recorder) All() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// Last returns the most recent message that is not a callback answer.
func (r *Recorder) Last() Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].Kind != KindAnswer {
			return r.sent[i]
		}
	}
	return Sent{}
}

func (r *Recorder) Answers() []Sent {
	return r.filter(func(s Sent) bool { return s.Kind == KindAnswer })
}

func (r *Recorder) Photos() []Sent {
	return r.filter(func(s Sent) bool { return s.Kind == KindPhoto })
}

// Containing returns every message whose text contains substr.
func (r *Recorder) Containing(substr string) []Sent {
	return r.filter(func(s Sent) bool { return s.Kind != KindAnswer && strings.Contains(s.Text, substr) })
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

func (r *Recorder) filter(keep func(Sent) bool) []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Sent
	for _, s := range r.sent {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

var _ bot.Transport = (*Recorder)(nil)
