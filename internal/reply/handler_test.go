package reply

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pusher/internal/hitoko"
	"pusher/internal/logger"
	"pusher/pkg/errors"
)

type fakeVendor struct {
	replies  []hitoko.ReplyRequest
	replyErr error

	sessionShop string
	sessionPage int
	sessionSize int
}

func (v *fakeVendor) ReplyMessage(_ context.Context, req hitoko.ReplyRequest) (*hitoko.ReplyResult, error) {
	v.replies = append(v.replies, req)
	if v.replyErr != nil {
		return nil, v.replyErr
	}
	return &hitoko.ReplyResult{Status: http.StatusOK, Data: json.RawMessage(`{"code":0}`)}, nil
}

func (v *fakeVendor) GetShops(context.Context) (*hitoko.ShopList, error) {
	return &hitoko.ShopList{Raw: json.RawMessage(`{"code":0,"data":[{"companyId":1}]}`)}, nil
}

func (v *fakeVendor) GetSessionList(_ context.Context, shopID string, page, size int) (*hitoko.SessionList, error) {
	v.sessionShop, v.sessionPage, v.sessionSize = shopID, page, size
	return &hitoko.SessionList{Raw: json.RawMessage(`{"code":0,"total":0,"data":[]}`)}, nil
}

func setupRouter(v Vendor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(v, logger.NopLogger()).RegisterRoutes(router)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestReply_Validation(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		message string
	}{
		{"missing ids", "/api/reply", `{"text":"hi","shopId":"1"}`, "Missing required fields: sessionId, buyerId"},
		{"no content", "/api/reply", `{"sessionId":"s","shopId":"1","buyerId":"b"}`, "Message must contain either text or imgUrl"},
		{"text endpoint without text", "/api/reply/text", `{"sessionId":"s","shopId":"1","buyerId":"b"}`, "Text is required"},
		{"image endpoint without url", "/api/reply/image", `{"sessionId":"s","shopId":"1","buyerId":"b"}`, "imgUrl is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &fakeVendor{}
			w, resp := doJSON(t, setupRouter(v), http.MethodPost, tt.path, tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, false, resp["success"])
			assert.Equal(t, tt.message, resp["error"])
			assert.Empty(t, v.replies)
		})
	}
}

func TestReply_InvalidJSON(t *testing.T) {
	w, resp := doJSON(t, setupRouter(&fakeVendor{}), http.MethodPost, "/api/reply", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp["error_code"])
}

func TestReply_SendsNumericIdentifiers(t *testing.T) {
	v := &fakeVendor{}
	w, resp := doJSON(t, setupRouter(v), http.MethodPost, "/api/reply",
		`{"sessionId":"s-1","shopId":1640619651,"buyerId":778899,"text":"halo","marketplaceCode":"00"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "Message sent successfully", resp["message"])
	assert.Equal(t, map[string]interface{}{"code": float64(0)}, resp["data"])

	require.Len(t, v.replies, 1)
	assert.Equal(t, "1640619651", v.replies[0].ShopID)
	assert.Equal(t, "778899", v.replies[0].BuyerID)
	assert.Equal(t, "halo", v.replies[0].Text)
}

func TestReplyImage_DefaultsSize(t *testing.T) {
	v := &fakeVendor{}
	w, _ := doJSON(t, setupRouter(v), http.MethodPost, "/api/reply/image",
		`{"sessionId":"s","shopId":"1","buyerId":"b","imgUrl":"https://cdn/x.png","text":"ignored"}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, v.replies, 1)
	assert.Equal(t, 300, v.replies[0].Width)
	assert.Equal(t, 300, v.replies[0].Height)
	assert.Empty(t, v.replies[0].Text)
}

func TestReply_VendorFailureKeepsStatus(t *testing.T) {
	v := &fakeVendor{replyErr: errors.ErrUpstream.WithStatus(http.StatusUnauthorized).WithMessage("vendor API returned status 401")}
	w, resp := doJSON(t, setupRouter(v), http.MethodPost, "/api/reply/text",
		`{"sessionId":"s","shopId":"1","buyerId":"b","text":"hi"}`)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "vendor API returned status 401", resp["error"])
}

func TestListShopsAndSessions(t *testing.T) {
	v := &fakeVendor{}
	router := setupRouter(v)

	w, resp := doJSON(t, router, http.MethodGet, "/api/shops", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, resp["data"])

	w, _ = doJSON(t, router, http.MethodGet, "/api/sessions/1640619651?page=2&size=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1640619651", v.sessionShop)
	assert.Equal(t, 2, v.sessionPage)
	assert.Equal(t, 10, v.sessionSize)

	w, _ = doJSON(t, router, http.MethodGet, "/api/sessions/1?page=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNoRoute(t *testing.T) {
	w, resp := doJSON(t, setupRouter(&fakeVendor{}), http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Endpoint not found", resp["error"])
}
