package chat

import (
	"time"

	"github.com/goccy/go-json"
)

type ContentType string

const (
	ContentText    ContentType = "text"
	ContentImage   ContentType = "image"
	ContentUnknown ContentType = "unknown"
)

type Image struct {
	URL    string `json:"url"`
	Width  int64  `json:"width"`
	Height int64  `json:"height"`
}

// Content is the classified message body. Raw keeps the undecoded content
// field when it was not recognised.
type Content struct {
	Type  ContentType
	Text  string
	Image *Image
	Raw   string
}

type SessionSummary struct {
	Status          int64
	UnreadCount     int64
	LastMessageID   string
	LastMessageTime json.RawMessage
	Summary         string
}

// ReplyContext carries what is needed to answer a chat message.
type ReplyContext struct {
	SessionID       string `json:"sessionId"`
	ShopID          string `json:"shopId"`
	BuyerID         string `json:"buyerId"`
	MarketplaceCode string `json:"marketplaceCode"`
}

// Account is one side of a message.
type Account struct {
	ID   string
	Type string
}

// Event is a normalized chat message or session update. It is built once by
// Normalize and treated as read-only afterwards.
type Event struct {
	Topic           string
	Timestamp       time.Time
	ShopID          string
	ShopName        string
	MarketplaceCode string
	FromBuyer       bool
	Content         Content
	MessageID       string
	SessionID       string
	SentTime        json.RawMessage
	TemplateID      string
	From            Account
	To              Account
	BuyerID         string
	BuyerNickName   string
	BuyerAvatar     string
	Session         SessionSummary
	HasMessage      bool
	HasSession      bool
}

// Reply derives the reply context from the same fields as the event so the two
// never disagree.
func (e *Event) Reply() ReplyContext {
	return ReplyContext{
		SessionID:       e.SessionID,
		ShopID:          e.ShopID,
		BuyerID:         e.BuyerID,
		MarketplaceCode: e.MarketplaceCode,
	}
}
