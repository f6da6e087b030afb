// Package reply exposes the REST endpoints used to answer buyers through the
// vendor API.
package reply

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"pusher/internal/chat"
	"pusher/internal/hitoko"
	"pusher/internal/logger"
	"pusher/pkg/errors"
	"pusher/pkg/metrics"
)

const (
	defaultImageSize = 300

	kindAny   = "any"
	kindText  = "text"
	kindImage = "image"
)

type Vendor interface {
	ReplyMessage(ctx context.Context, req hitoko.ReplyRequest) (*hitoko.ReplyResult, error)
	GetShops(ctx context.Context) (*hitoko.ShopList, error)
	GetSessionList(ctx context.Context, shopID string, page, size int) (*hitoko.SessionList, error)
}

// Request accepts identifiers as strings or numbers, matching what webhook
// consumers copy out of replyWith.
type Request struct {
	SessionID       chat.FlexString `json:"sessionId"`
	ShopID          chat.FlexString `json:"shopId"`
	BuyerID         chat.FlexString `json:"buyerId"`
	Text            string          `json:"text"`
	ImgURL          string          `json:"imgUrl"`
	Width           chat.FlexInt    `json:"width"`
	Height          chat.FlexInt    `json:"height"`
	MarketplaceCode chat.FlexString `json:"marketplaceCode"`
	MessageID       chat.FlexString `json:"messageId"`
}

func (r Request) missingFields() []string {
	var missing []string
	if r.SessionID == "" {
		missing = append(missing, "sessionId")
	}
	if r.ShopID == "" {
		missing = append(missing, "shopId")
	}
	if r.BuyerID == "" {
		missing = append(missing, "buyerId")
	}
	return missing
}

func (r Request) vendorRequest() hitoko.ReplyRequest {
	return hitoko.ReplyRequest{
		SessionID:       r.SessionID.String(),
		ShopID:          r.ShopID.String(),
		BuyerID:         r.BuyerID.String(),
		Text:            r.Text,
		ImgURL:          r.ImgURL,
		Width:           int(r.Width),
		Height:          int(r.Height),
		MarketplaceCode: r.MarketplaceCode.String(),
		MessageID:       r.MessageID.String(),
	}
}

type Handler struct {
	vendor Vendor
	logger logger.Logger
}

func NewHandler(vendor Vendor, log logger.Logger) *Handler {
	return &Handler{vendor: vendor, logger: log}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.POST("/reply", h.Reply)
		api.POST("/reply/text", h.ReplyText)
		api.POST("/reply/image", h.ReplyImage)
		api.GET("/shops", h.ListShops)
		api.GET("/sessions/:shopId", h.ListSessions)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errors.ToErrorResponse(errors.ErrNotFound.WithMessage("Endpoint not found")))
	})
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (h *Handler) Reply(c *gin.Context) {
	req, ok := h.bind(c, kindAny)
	if !ok {
		return
	}
	if missing := req.missingFields(); len(missing) > 0 {
		h.reject(c, kindAny, "Missing required fields: "+strings.Join(missing, ", "))
		return
	}
	if req.Text == "" && req.ImgURL == "" {
		h.reject(c, kindAny, "Message must contain either text or imgUrl")
		return
	}
	h.send(c, kindAny, req, "Message sent successfully")
}

func (h *Handler) ReplyText(c *gin.Context) {
	req, ok := h.bind(c, kindText)
	if !ok {
		return
	}
	if req.Text == "" {
		h.reject(c, kindText, "Text is required")
		return
	}
	req.ImgURL = ""
	h.send(c, kindText, req, "Text message sent successfully")
}

func (h *Handler) ReplyImage(c *gin.Context) {
	req, ok := h.bind(c, kindImage)
	if !ok {
		return
	}
	if req.ImgURL == "" {
		h.reject(c, kindImage, "imgUrl is required")
		return
	}
	req.Text = ""
	if req.Width == 0 {
		req.Width = defaultImageSize
	}
	if req.Height == 0 {
		req.Height = defaultImageSize
	}
	h.send(c, kindImage, req, "Image message sent successfully")
}

func (h *Handler) ListShops(c *gin.Context) {
	list, err := h.vendor.GetShops(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", list.Raw)
}

func (h *Handler) ListSessions(c *gin.Context) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	size, err := queryInt(c, "size", 0)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	list, err := h.vendor.GetSessionList(c.Request.Context(), c.Param("shopId"), page, size)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", list.Raw)
}

func (h *Handler) bind(c *gin.Context, kind string) (Request, bool) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.ReplyRequestsTotal.WithLabelValues(kind, "invalid").Inc()
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return req, false
	}
	return req, true
}

func (h *Handler) reject(c *gin.Context, kind, message string) {
	metrics.ReplyRequestsTotal.WithLabelValues(kind, "invalid").Inc()
	c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithMessage(message)))
}

func (h *Handler) send(c *gin.Context, kind string, req Request, message string) {
	result, err := h.vendor.ReplyMessage(c.Request.Context(), req.vendorRequest())
	if err != nil {
		metrics.ReplyRequestsTotal.WithLabelValues(kind, "failed").Inc()
		h.HandleError(c, err)
		return
	}

	metrics.ReplyRequestsTotal.WithLabelValues(kind, "success").Inc()
	h.logger.InfowCtx(c.Request.Context(), "Reply sent",
		"session_id", req.SessionID,
		"kind", kind,
	)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": message,
		"data":    json.RawMessage(result.Data),
	})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	value := c.Query(key)
	if value == "" {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.ErrValidation.WithMessage(fmt.Sprintf("%s must be an integer", key))
	}
	return n, nil
}
