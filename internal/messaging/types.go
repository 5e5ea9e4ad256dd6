package messaging

import (
	"slices"
	"time"
)

type MediaType string

const (
	MediaTypeNone      MediaType = ""
	MediaTypeInstagram MediaType = "instagram"
	MediaTypeYouTube   MediaType = "youtube"
)

// MediaStatus moves "" -> pending -> {ready, failed}; nothing leaves a terminal state.
type MediaStatus string

const (
	MediaStatusNone    MediaStatus = ""
	MediaStatusPending MediaStatus = "pending"
	MediaStatusReady   MediaStatus = "ready"
	MediaStatusFailed  MediaStatus = "failed"
)

func (s MediaStatus) Terminal() bool {
	return s == MediaStatusReady || s == MediaStatusFailed
}

func CanTransition(from, to MediaStatus) bool {
	switch from {
	case MediaStatusNone:
		return to == MediaStatusPending
	case MediaStatusPending:
		return to.Terminal()
	default:
		return false
	}
}

type Message struct {
	ID          int64          `json:"id,string" bson:"_id"`
	Text        string         `json:"text,omitempty" bson:"text,omitempty"`
	Image       string         `json:"image,omitempty" bson:"image,omitempty"`
	Audio       string         `json:"audio,omitempty" bson:"audio,omitempty"`
	Stickers    []string       `json:"stickers" bson:"stickers"`
	ReplyTo     *ReplySnapshot `json:"replyTo,omitempty" bson:"reply_to,omitempty"`
	MediaType   MediaType      `json:"mediaType,omitempty" bson:"media_type,omitempty"`
	MediaStatus MediaStatus    `json:"mediaStatus,omitempty" bson:"media_status,omitempty"`
	MediaURL    string         `json:"mediaUrl,omitempty" bson:"media_url,omitempty"`
	CreatedAt   time.Time      `json:"createdAt" bson:"created_at"`
	UpdatedAt   time.Time      `json:"updatedAt" bson:"updated_at"`
}

// ReplySnapshot is copied from the referenced message at send time and never
// follows later edits or deletion of that message.
type ReplySnapshot struct {
	ID    int64  `json:"id,string" bson:"id"`
	Text  string `json:"text,omitempty" bson:"text,omitempty"`
	Image string `json:"image,omitempty" bson:"image,omitempty"`
	Audio string `json:"audio,omitempty" bson:"audio,omitempty"`
}

func (r *ReplySnapshot) Empty() bool {
	return r == nil || (r.Text == "" && r.Image == "" && r.Audio == "")
}

func SnapshotOf(m *Message) *ReplySnapshot {
	return &ReplySnapshot{
		ID:    m.ID,
		Text:  m.Text,
		Image: m.Image,
		Audio: m.Audio,
	}
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}

	out := *m
	out.Stickers = slices.Clone(m.Stickers)
	if out.Stickers == nil {
		out.Stickers = []string{}
	}
	if m.ReplyTo != nil {
		reply := *m.ReplyTo
		out.ReplyTo = &reply
	}
	return &out
}

func CloneAll(msgs []*Message) []*Message {
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// Reverse flips a page in place; the engine returns newest-first, the REST API oldest-first.
func Reverse(msgs []*Message) []*Message {
	slices.Reverse(msgs)
	return msgs
}
