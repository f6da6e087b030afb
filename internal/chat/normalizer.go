// Package chat turns decoded broker frames into normalized chat events and the
// JSON bodies delivered to destinations.
package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"pusher/internal/constants"
	"pusher/internal/frame"
)

// ErrMalformedEnvelope means extras.message was present but could not be decoded.
var ErrMalformedEnvelope = errors.New("malformed nested chat envelope")

// Meta is what the pipeline knows about a frame besides its body.
type Meta struct {
	Topic      string
	ReceivedAt time.Time
	// ShopID and MarketplaceCode are the configured fallbacks.
	ShopID          string
	MarketplaceCode string
}

// Normalize builds an Event from a decoded frame. It returns nil and no error
// for frames that carry no chat message or session, which is how the broker
// sends unrelated notifications.
//
// Field precedence, first non-empty wins:
//
//	sessionId        message, session
//	shopId           message, session, frame prefix, configured shop
//	buyerId          message sender or recipient of buyer type, session
//	marketplaceCode  message, session, envelope, configured default
func Normalize(p frame.Payload, meta Meta) (*Event, error) {
	if p.Opaque() {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(p.Body, &env); err != nil || env.Extras == nil {
		return nil, nil
	}

	doc, ok := decodeString(env.Extras.Message)
	if !ok {
		return nil, nil
	}

	var in inner
	if err := json.Unmarshal(doc, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if in.Message == nil && in.Session == nil {
		return nil, nil
	}

	msg := in.Message
	if msg == nil {
		msg = &MessageRecord{}
	}
	sess := in.Session
	if sess == nil {
		sess = &SessionRecord{}
	}

	ev := &Event{
		Topic:      meta.Topic,
		Timestamp:  meta.ReceivedAt,
		HasMessage: in.Message != nil,
		HasSession: in.Session != nil,

		MessageID:  msg.MessageID.String(),
		SessionID:  first(msg.SessionID.String(), sess.SessionID.String()),
		ShopID:     first(msg.ShopID.String(), sess.ShopID.String(), p.PrefixID, meta.ShopID),
		ShopName:   sess.MarketplaceShopName,
		SentTime:   msg.SendTime,
		TemplateID: msg.TemplateID.String(),
		From:       Account{ID: msg.FromAccountID.String(), Type: msg.FromAccountType.String()},
		To:         Account{ID: msg.ToAccountID.String(), Type: msg.ToAccountType.String()},
		FromBuyer:  msg.FromAccountType.String() == constants.AccountTypeBuyer,

		MarketplaceCode: first(
			msg.MarketplaceCode.String(),
			sess.MarketplaceCode.String(),
			in.MarketplaceCode.String(),
			meta.MarketplaceCode,
			constants.DefaultMarketplaceCode,
		),

		BuyerNickName: sess.BuyerNickName,
		BuyerAvatar:   sess.BuyerHeadURL,
		Session: SessionSummary{
			Status:          int64(sess.SessionStatus),
			UnreadCount:     int64(sess.UnreadCount),
			LastMessageID:   sess.LastMessageID.String(),
			LastMessageTime: sess.LastMessageTime,
			Summary:         sess.Summary,
		},
		Content: classify(msg.Content),
	}
	ev.BuyerID = buyerID(ev.From, ev.To, sess.BuyerID.String())

	return ev, nil
}

func buyerID(from, to Account, sessionBuyer string) string {
	switch {
	case from.Type == constants.AccountTypeBuyer && from.ID != "":
		return from.ID
	case to.Type == constants.AccountTypeBuyer && to.ID != "":
		return to.ID
	default:
		return sessionBuyer
	}
}

type contentBody struct {
	Text   string  `json:"text"`
	ImgURL string  `json:"imgUrl"`
	Width  FlexInt `json:"width"`
	Height FlexInt `json:"height"`
}

// classify decodes the message content field. Text wins over an image when
// both keys are present.
func classify(raw json.RawMessage) Content {
	doc, ok := decodeString(raw)
	if !ok {
		return Content{Type: ContentUnknown}
	}

	var body contentBody
	if err := json.Unmarshal(doc, &body); err != nil {
		return Content{Type: ContentUnknown, Raw: string(doc)}
	}

	switch {
	case body.Text != "":
		return Content{Type: ContentText, Text: body.Text}
	case body.ImgURL != "":
		return Content{Type: ContentImage, Image: &Image{
			URL:    body.ImgURL,
			Width:  int64(body.Width),
			Height: int64(body.Height),
		}}
	default:
		return Content{Type: ContentUnknown, Raw: string(doc)}
	}
}

func first(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
