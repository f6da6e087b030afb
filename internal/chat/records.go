package chat

import "github.com/goccy/go-json"

// envelope is the outer frame object; extras.message holds a second layer of
// JSON, usually as an encoded string.
type envelope struct {
	Extras *struct {
		Message json.RawMessage `json:"message"`
	} `json:"extras"`
}

// inner is the decoded extras.message document.
type inner struct {
	Message         *MessageRecord `json:"compChatMessageVO"`
	Session         *SessionRecord `json:"compChatSessionVO"`
	MarketplaceCode FlexString     `json:"marketplaceCode"`
}

// MessageRecord is the vendor's compChatMessageVO.
type MessageRecord struct {
	MessageID       FlexString      `json:"messageId"`
	SessionID       FlexString      `json:"sessionId"`
	ShopID          FlexString      `json:"shopId"`
	MarketplaceCode FlexString      `json:"marketplaceCode"`
	FromAccountID   FlexString      `json:"fromAccountId"`
	FromAccountType FlexString      `json:"fromAccountType"`
	ToAccountID     FlexString      `json:"toAccountId"`
	ToAccountType   FlexString      `json:"toAccountType"`
	SendTime        json.RawMessage `json:"sendTime"`
	TemplateID      FlexString      `json:"templateId"`
	Content         json.RawMessage `json:"content"`
}

// SessionRecord is the vendor's compChatSessionVO.
type SessionRecord struct {
	SessionID           FlexString      `json:"sessionId"`
	SessionStatus       FlexInt         `json:"sessionStatus"`
	ShopID              FlexString      `json:"shopId"`
	MarketplaceShopName string          `json:"marketplaceShopName"`
	MarketplaceCode     FlexString      `json:"marketplaceCode"`
	BuyerID             FlexString      `json:"buyerId"`
	BuyerNickName       string          `json:"buyerNickName"`
	BuyerHeadURL        string          `json:"buyerHeadUrl"`
	UnreadCount         FlexInt         `json:"unreadCount"`
	LastMessageID       FlexString      `json:"lastMessageId"`
	LastMessageTime     json.RawMessage `json:"lastMessageTime"`
	Summary             string          `json:"summary"`
}
