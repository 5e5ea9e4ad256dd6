package messaging

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/Alexander-D-Karpov/huddle/internal/common/errors"
)

const (
	MaxTextLength = 4000
	MaxStickers   = 20
)

var stripAll = bluemonday.StrictPolicy()

// SendRequest is the body of POST /messages/send.
type SendRequest struct {
	Text     string    `json:"text,omitempty"`
	Image    string    `json:"image,omitempty"`
	Audio    string    `json:"audio,omitempty"`
	Stickers []string  `json:"stickers,omitempty"`
	ReplyTo  *ReplyRef `json:"replyTo,omitempty"`
}

// ReplyRef names the message being replied to. The content fields are the
// client's own copy and only used when the original is already gone.
type ReplyRef struct {
	ID    int64  `json:"id,string"`
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
	Audio string `json:"audio,omitempty"`
}

func (r *ReplyRef) Snapshot() *ReplySnapshot {
	return &ReplySnapshot{
		ID:    r.ID,
		Text:  SanitizeText(r.Text),
		Image: strings.TrimSpace(r.Image),
		Audio: strings.TrimSpace(r.Audio),
	}
}

// SanitizeText strips every tag and trims surrounding whitespace.
func SanitizeText(text string) string {
	return strings.TrimSpace(stripAll.Sanitize(strings.TrimSpace(text)))
}

func (r *SendRequest) Normalize() {
	r.Text = SanitizeText(r.Text)
	r.Image = strings.TrimSpace(r.Image)
	r.Audio = strings.TrimSpace(r.Audio)

	stickers := r.Stickers[:0]
	for _, s := range r.Stickers {
		if s = strings.TrimSpace(s); s != "" {
			stickers = append(stickers, s)
		}
	}
	r.Stickers = stickers
}

func (r *SendRequest) Empty() bool {
	return r.Text == "" && r.Image == "" && r.Audio == "" && len(r.Stickers) == 0
}

func (r *SendRequest) Validate() error {
	if r.Empty() {
		return errors.Validation("message must have text, image, audio or stickers")
	}
	if utf8.RuneCountInString(r.Text) > MaxTextLength {
		return errors.Validation("text is too long")
	}
	if len(r.Stickers) > MaxStickers {
		return errors.Validation("too many stickers")
	}
	if r.ReplyTo != nil && r.ReplyTo.ID <= 0 {
		return errors.Validation("invalid replyTo id")
	}
	return nil
}

// NewMessage builds the unsaved entity; the store assigns id and timestamps.
func (r *SendRequest) NewMessage() *Message {
	msg := &Message{
		Text:     r.Text,
		Image:    r.Image,
		Audio:    r.Audio,
		Stickers: append([]string{}, r.Stickers...),
	}

	if kind, _, ok := DetectMedia(r.Text); ok {
		msg.MediaType = kind
		msg.MediaStatus = MediaStatusPending
	}

	return msg
}
