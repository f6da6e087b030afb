package chat

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pusher/internal/frame"
)

var receivedAt = time.Date(2025, 10, 1, 8, 30, 0, 0, time.UTC)

func testMeta() Meta {
	return Meta{Topic: "001640619651", ReceivedAt: receivedAt, ShopID: "1640619651", MarketplaceCode: "00"}
}

// buildFrame wraps inner as a JSON-encoded string in extras.message, the way
// the broker sends it.
func buildFrame(t *testing.T, prefix string, inner interface{}) []byte {
	t.Helper()
	doc, err := json.Marshal(inner)
	require.NoError(t, err)
	outer, err := json.Marshal(map[string]interface{}{
		"type":   "chat",
		"extras": map[string]interface{}{"message": string(doc)},
	})
	require.NoError(t, err)
	return append([]byte(prefix), outer...)
}

func messageVO(fromType, content string) map[string]interface{} {
	return map[string]interface{}{
		"messageId":       "m-1",
		"sessionId":       "s-msg",
		"fromAccountId":   "buyer-9",
		"fromAccountType": fromType,
		"toAccountId":     "shop-1",
		"toAccountType":   "2",
		"sendTime":        1727771400000,
		"templateId":      "00",
		"content":         content,
	}
}

func sessionVO() map[string]interface{} {
	return map[string]interface{}{
		"sessionId":           "s-sess",
		"sessionStatus":       3,
		"shopId":              1640619651,
		"marketplaceShopName": "Toko Maju",
		"marketplaceCode":     "01",
		"buyerId":             778899,
		"buyerNickName":       "budi",
		"buyerHeadUrl":        "https://cdn/avatar.png",
		"unreadCount":         "2",
		"lastMessageId":       "m-0",
		"summary":             "halo",
	}
}

func normalize(t *testing.T, raw []byte) *Event {
	t.Helper()
	ev, err := Normalize(frame.Decode(raw), testMeta())
	require.NoError(t, err)
	return ev
}

func TestNormalize_FromBuyer(t *testing.T) {
	tests := []struct {
		name     string
		fromType string
		expected bool
	}{
		{"buyer", "1", true},
		{"seller", "2", false},
		{"unknown", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := normalize(t, buildFrame(t, "", map[string]interface{}{
				"compChatMessageVO": messageVO(tt.fromType, `{"text":"hi"}`),
			}))
			require.NotNil(t, ev)
			assert.Equal(t, tt.expected, ev.FromBuyer)
		})
	}
}

func TestNormalize_ContentClassification(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected Content
	}{
		{
			name:     "text",
			content:  `{"text":"hi"}`,
			expected: Content{Type: ContentText, Text: "hi"},
		},
		{
			name:     "image",
			content:  `{"imgUrl":"u","width":10,"height":20}`,
			expected: Content{Type: ContentImage, Image: &Image{URL: "u", Width: 10, Height: 20}},
		},
		{
			name:     "empty object",
			content:  `{}`,
			expected: Content{Type: ContentUnknown, Raw: `{}`},
		},
		{
			name:     "text wins over image",
			content:  `{"text":"both","imgUrl":"u"}`,
			expected: Content{Type: ContentText, Text: "both"},
		},
		{
			name:     "not json",
			content:  `plain words`,
			expected: Content{Type: ContentUnknown, Raw: `plain words`},
		},
		{
			name:     "missing",
			content:  ``,
			expected: Content{Type: ContentUnknown},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := normalize(t, buildFrame(t, "", map[string]interface{}{
				"compChatMessageVO": messageVO("1", tt.content),
			}))
			require.NotNil(t, ev)
			assert.Equal(t, tt.expected, ev.Content)
		})
	}
}

func TestNormalize_FieldPrecedence(t *testing.T) {
	t.Run("message and session", func(t *testing.T) {
		ev := normalize(t, buildFrame(t, "555", map[string]interface{}{
			"compChatMessageVO": messageVO("1", `{"text":"hi"}`),
			"compChatSessionVO": sessionVO(),
		}))
		require.NotNil(t, ev)

		assert.Equal(t, "s-msg", ev.SessionID)
		assert.Equal(t, "1640619651", ev.ShopID)
		assert.Equal(t, "buyer-9", ev.BuyerID)
		assert.Equal(t, "01", ev.MarketplaceCode)
		assert.Equal(t, "m-1", ev.MessageID)
		assert.Equal(t, "budi", ev.BuyerNickName)
		assert.Equal(t, int64(2), ev.Session.UnreadCount)
		assert.Equal(t, int64(3), ev.Session.Status)
		assert.Equal(t, "halo", ev.Session.Summary)
	})

	t.Run("session only", func(t *testing.T) {
		ev := normalize(t, buildFrame(t, "", map[string]interface{}{
			"compChatSessionVO": sessionVO(),
		}))
		require.NotNil(t, ev)

		assert.Equal(t, "s-sess", ev.SessionID)
		assert.Equal(t, "778899", ev.BuyerID)
		assert.Empty(t, ev.MessageID)
		assert.False(t, ev.FromBuyer)
		assert.Equal(t, ContentUnknown, ev.Content.Type)
	})

	t.Run("shop from prefix then config", func(t *testing.T) {
		ev := normalize(t, buildFrame(t, "555", map[string]interface{}{
			"compChatMessageVO": messageVO("2", `{"text":"hi"}`),
		}))
		require.NotNil(t, ev)
		assert.Equal(t, "555", ev.ShopID)
		assert.Equal(t, "00", ev.MarketplaceCode)

		ev = normalize(t, buildFrame(t, "", map[string]interface{}{
			"compChatMessageVO": messageVO("2", `{"text":"hi"}`),
		}))
		require.NotNil(t, ev)
		assert.Equal(t, "1640619651", ev.ShopID)
	})

	t.Run("seller message picks buyer from recipient", func(t *testing.T) {
		vo := messageVO("2", `{"text":"hi"}`)
		vo["fromAccountId"] = "shop-1"
		vo["toAccountId"] = "buyer-9"
		vo["toAccountType"] = "1"
		ev := normalize(t, buildFrame(t, "", map[string]interface{}{"compChatMessageVO": vo}))
		require.NotNil(t, ev)
		assert.Equal(t, "buyer-9", ev.BuyerID)
	})
}

func TestNormalize_ReplyContextMatchesEvent(t *testing.T) {
	ev := normalize(t, buildFrame(t, "", map[string]interface{}{
		"compChatMessageVO": messageVO("1", `{"text":"hi"}`),
		"compChatSessionVO": sessionVO(),
	}))
	require.NotNil(t, ev)

	reply := ev.Reply()
	assert.Equal(t, ev.SessionID, reply.SessionID)
	assert.Equal(t, ev.ShopID, reply.ShopID)
	assert.Equal(t, ev.BuyerID, reply.BuyerID)
	assert.Equal(t, ev.MarketplaceCode, reply.MarketplaceCode)
}

func TestNormalize_NonChat(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"opaque", "pong"},
		{"no extras", `{"type":"notice"}`},
		{"null message", `{"extras":{"message":null}}`},
		{"empty inner", `{"extras":{"message":"{\"other\":1}"}}`},
		{"array body", `[1,2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Normalize(frame.Decode([]byte(tt.raw)), testMeta())
			require.NoError(t, err)
			assert.Nil(t, ev)
		})
	}
}

func TestNormalize_MalformedEnvelope(t *testing.T) {
	_, err := Normalize(frame.Decode([]byte(`{"extras":{"message":"{not json"}}`)), testMeta())
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestNormalize_ObjectMessage(t *testing.T) {
	raw := `{"extras":{"message":{"compChatMessageVO":{"messageId":42,"sessionId":"s","fromAccountType":1,"content":{"text":"obj"}}}}}`
	ev := normalize(t, []byte(raw))
	require.NotNil(t, ev)

	assert.Equal(t, "42", ev.MessageID)
	assert.True(t, ev.FromBuyer)
	assert.Equal(t, Content{Type: ContentText, Text: "obj"}, ev.Content)
}
