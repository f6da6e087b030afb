package chat

import (
	"time"

	"github.com/goccy/go-json"
)

const (
	EventTypeChatMessage = "chat_message"
	EventTypeUnparsed    = "unparsed"

	unparsedError = "Failed to parse message"
)

type EventMeta struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Topic     string    `json:"topic"`
}

type ShopInfo struct {
	ID              string `json:"id"`
	Name            string `json:"name,omitempty"`
	MarketplaceCode string `json:"marketplaceCode"`
}

type ContentInfo struct {
	Type  ContentType `json:"type"`
	Text  *string     `json:"text"`
	Image *Image      `json:"image"`
}

type AccountInfo struct {
	AccountID   string `json:"accountId,omitempty"`
	AccountType string `json:"accountType,omitempty"`
	IsCustomer  *bool  `json:"isCustomer,omitempty"`
}

type MessageInfo struct {
	ID         string          `json:"id,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
	SentTime   json.RawMessage `json:"sentTime,omitempty"`
	TemplateID string          `json:"templateId,omitempty"`
	Content    ContentInfo     `json:"content"`
	From       AccountInfo     `json:"from"`
	To         AccountInfo     `json:"to"`
}

type CustomerInfo struct {
	ID       string `json:"id,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

type SessionInfo struct {
	ID              string          `json:"id,omitempty"`
	Status          int64           `json:"status"`
	UnreadCount     int64           `json:"unreadCount"`
	LastMessageID   string          `json:"lastMessageId,omitempty"`
	LastMessageTime json.RawMessage `json:"lastMessageTime,omitempty"`
	Summary         string          `json:"summary,omitempty"`
}

// Payload is the JSON body delivered for a chat event.
type Payload struct {
	Event     EventMeta    `json:"event"`
	Shop      ShopInfo     `json:"shop"`
	Message   MessageInfo  `json:"message"`
	Customer  CustomerInfo `json:"customer"`
	Session   SessionInfo  `json:"session"`
	ReplyWith ReplyContext `json:"replyWith"`
}

func NewPayload(e *Event) *Payload {
	p := &Payload{
		Event: EventMeta{
			Type:      EventTypeChatMessage,
			Timestamp: e.Timestamp.UTC(),
			Topic:     e.Topic,
		},
		Shop: ShopInfo{
			ID:              e.ShopID,
			Name:            e.ShopName,
			MarketplaceCode: e.MarketplaceCode,
		},
		Message: MessageInfo{
			ID:         e.MessageID,
			SessionID:  e.SessionID,
			SentTime:   e.SentTime,
			TemplateID: e.TemplateID,
			Content:    ContentInfo{Type: e.Content.Type, Image: e.Content.Image},
		},
		Customer: CustomerInfo{
			ID:       e.BuyerID,
			Nickname: e.BuyerNickName,
			Avatar:   e.BuyerAvatar,
		},
		ReplyWith: e.Reply(),
	}

	if e.Content.Type == ContentText {
		text := e.Content.Text
		p.Message.Content.Text = &text
	}

	if e.HasMessage {
		isCustomer := e.FromBuyer
		p.Message.From = AccountInfo{AccountID: e.From.ID, AccountType: e.From.Type, IsCustomer: &isCustomer}
		p.Message.To = AccountInfo{AccountID: e.To.ID, AccountType: e.To.Type}
	}

	if e.HasSession {
		p.Session = SessionInfo{
			ID:              e.SessionID,
			Status:          e.Session.Status,
			UnreadCount:     e.Session.UnreadCount,
			LastMessageID:   e.Session.LastMessageID,
			LastMessageTime: e.Session.LastMessageTime,
			Summary:         e.Session.Summary,
		}
	}

	return p
}

// MessageKey is used as the partition key by keyed destinations.
func (p *Payload) MessageKey() string {
	if p.Message.ID != "" {
		return p.Message.ID
	}
	return p.Message.SessionID
}

// FilterInput exposes the payload as a generic document for filter expressions,
// with the shortcuts fromBuyer and contentType at the top level.
func (p *Payload) FilterInput() (map[string]interface{}, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	doc := make(map[string]interface{})
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	doc["fromBuyer"] = p.Message.From.IsCustomer != nil && *p.Message.From.IsCustomer
	doc["contentType"] = string(p.Message.Content.Type)
	return doc, nil
}

// UnparsedPayload is delivered for frames that could not be decoded, so that
// malformed traffic stays observable downstream.
type UnparsedPayload struct {
	Event  EventMeta `json:"event"`
	Error  string    `json:"error"`
	ShopID string    `json:"shopId,omitempty"`
	Raw    string    `json:"raw"`
}

func NewUnparsedPayload(topic string, receivedAt time.Time, shopID, raw string) *UnparsedPayload {
	return &UnparsedPayload{
		Event: EventMeta{
			Type:      EventTypeUnparsed,
			Timestamp: receivedAt.UTC(),
			Topic:     topic,
		},
		Error:  unparsedError,
		ShopID: shopID,
		Raw:    raw,
	}
}
