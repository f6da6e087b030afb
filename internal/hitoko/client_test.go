package hitoko

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pusher/internal/config"
	"pusher/internal/logger"
	apperrors "pusher/pkg/errors"
)

type captured struct {
	method string
	path   string
	header http.Header
	body   map[string]interface{}
}

func newTestServer(t *testing.T, status int, response string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.header = r.Header.Clone()
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			assert.NoError(t, json.Unmarshal(data, &got.body))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func newTestClient(srv *httptest.Server, opts ...Option) *Client {
	return NewClient(config.HitokoConfig{BaseURL: srv.URL + "/", AuthToken: "tok-123", Timeout: time.Second}, "00", logger.NopLogger(), opts...)
}

func TestGetShops(t *testing.T) {
	srv, got := newTestServer(t, http.StatusOK, `{"code":0,"msg":"ok","data":[{"companyId":34417,"marketplaceShopId":"1640619651","marketplaceShopName":"Toko","marketplaceCode":"00"}]}`)
	c := newTestClient(srv)

	list, err := c.GetShops(context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "/chat/api/comp/comp-chat-shop", got.path)
	assert.Equal(t, "Bearer tok-123", got.header.Get("Authorization"))
	assert.Equal(t, "02", got.header.Get("C"))
	assert.Equal(t, "XMLHttpRequest", got.header.Get("X-Requested-With"))

	shop, ok := list.First()
	require.True(t, ok)
	assert.Equal(t, "34417", shop.CompanyID.String())
	assert.Equal(t, "1640619651", shop.MarketplaceShopID.String())
	assert.Contains(t, string(list.Raw), "marketplaceShopName")
}

func TestShopList_FirstRequiresSuccessCode(t *testing.T) {
	list := &ShopList{Code: 1, Data: []Shop{{CompanyID: "1"}}}
	_, ok := list.First()
	assert.False(t, ok)

	_, ok = (&ShopList{}).First()
	assert.False(t, ok)
}

func TestGetSessionList(t *testing.T) {
	srv, got := newTestServer(t, http.StatusOK, `{"code":0,"total":1,"data":[{"sessionId":"s1","buyerNickName":"budi","unreadCount":"2","summary":"halo"}]}`)
	c := newTestClient(srv)

	list, err := c.GetSessionList(context.Background(), "1640619651", 0, 0)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/chat/api/comp/chat-process/get-session-list", got.path)
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, map[string]interface{}{
		"page":            float64(1),
		"size":            float64(30),
		"marketplaceCode": "00",
		"sessionStatus":   float64(3),
		"buyerNickName":   "",
		"shopId":          "1640619651",
	}, got.body)

	require.Len(t, list.Data, 1)
	assert.Equal(t, int64(1), int64(list.Total))
	assert.Equal(t, int64(2), int64(list.Data[0].UnreadCount))
}

func TestReplyMessage_Bodies(t *testing.T) {
	tests := []struct {
		name     string
		req      ReplyRequest
		template string
		content  string
	}{
		{
			name:     "text",
			req:      ReplyRequest{SessionID: "s1", ShopID: "1640619651", BuyerID: "b1", Text: "terima kasih"},
			template: "00",
			content:  `{"text":"terima kasih"}`,
		},
		{
			name:     "image",
			req:      ReplyRequest{SessionID: "s1", ShopID: "1640619651", BuyerID: "b1", ImgURL: "https://cdn/x.png", Width: 300, Height: 200},
			template: "01",
			content:  `{"imgUrl":"https://cdn/x.png","width":300,"height":200}`,
		},
		{
			name:     "text wins over image",
			req:      ReplyRequest{SessionID: "s1", ShopID: "1640619651", BuyerID: "b1", Text: "hi", ImgURL: "https://cdn/x.png"},
			template: "00",
			content:  `{"text":"hi"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, got := newTestServer(t, http.StatusOK, `{"code":0}`)
			c := newTestClient(srv)

			res, err := c.ReplyMessage(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, res.Status)
			assert.JSONEq(t, `{"code":0}`, string(res.Data))

			assert.Equal(t, "/chat/api/comp/chat-process/reply-message", got.path)
			assert.Equal(t, tt.template, got.body["templateId"])
			assert.Equal(t, "2", got.body["fromAccountType"])
			assert.Equal(t, float64(1640619651), got.body["shopId"])
			assert.Equal(t, "00", got.body["marketplaceCode"])
			assert.JSONEq(t, tt.content, got.body["content"].(string))
		})
	}
}

func TestReplyMessage_Validation(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{}`)
	c := newTestClient(srv)

	_, err := c.ReplyMessage(context.Background(), ReplyRequest{SessionID: "s1", ShopID: "1"})
	assert.True(t, apperrors.IsValidation(err))

	_, err = c.ReplyMessage(context.Background(), ReplyRequest{SessionID: "s1", ShopID: "abc", Text: "hi"})
	assert.True(t, apperrors.IsValidation(err))
}

func TestReplyMessage_VendorError(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusUnauthorized, `{"code":401,"msg":"token expired"}`)
	c := newTestClient(srv)

	_, err := c.ReplyMessage(context.Background(), ReplyRequest{SessionID: "s1", ShopID: "1", Text: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
	assert.Equal(t, http.StatusUnauthorized, apperrors.ToHTTPStatus(err))

	resp := apperrors.ToErrorResponse(err)
	assert.Equal(t, false, resp["success"])
	assert.NotNil(t, resp["data"])
}

func TestClient_TransportErrorIsUpstream(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{}`)
	c := newTestClient(srv)
	srv.Close()

	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, apperrors.ToHTTPStatus(err))
}

func TestClient_CircuitBreakerOpens(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv, WithCircuitBreaker(config.CircuitBreakerConfig{
		MaxRequests:  1,
		Timeout:      time.Minute,
		MinRequests:  2,
		FailureRatio: 0.5,
	}))

	for i := 0; i < 2; i++ {
		_, err := c.GetShops(context.Background())
		require.Error(t, err)
	}

	_, err := c.GetShops(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavailable)
	assert.Equal(t, 2, calls)
}
