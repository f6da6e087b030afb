// Package hitoko is a client for the vendor's chat REST API.
package hitoko

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"pusher/internal/chat"
	"pusher/internal/config"
	"pusher/internal/constants"
	"pusher/internal/logger"
	"pusher/pkg/circuitbreaker"
	apperrors "pusher/pkg/errors"
	"pusher/pkg/metrics"
	"pusher/pkg/tracing"
)

const (
	pathShops       = "/chat/api/comp/comp-chat-shop"
	pathSessionList = "/chat/api/comp/chat-process/get-session-list"
	pathReply       = "/chat/api/comp/chat-process/reply-message"

	browserUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36"
	maxResponseBytes = 4 << 20
)

type Shop struct {
	CompanyID           chat.FlexString `json:"companyId"`
	MarketplaceShopID   chat.FlexString `json:"marketplaceShopId"`
	MarketplaceShopName string          `json:"marketplaceShopName"`
	MarketplaceCode     chat.FlexString `json:"marketplaceCode"`
}

// ShopList is the vendor response for the shop lookup. Raw keeps the body as
// received for passthrough.
type ShopList struct {
	Code chat.FlexInt    `json:"code"`
	Msg  string          `json:"msg"`
	Data []Shop          `json:"data"`
	Raw  json.RawMessage `json:"-"`
}

// First returns the first shop when the vendor reported success.
func (l *ShopList) First() (Shop, bool) {
	if l.Code != 0 || len(l.Data) == 0 {
		return Shop{}, false
	}
	return l.Data[0], true
}

type Session struct {
	SessionID     chat.FlexString `json:"sessionId"`
	BuyerID       chat.FlexString `json:"buyerId"`
	BuyerNickName string          `json:"buyerNickName"`
	UnreadCount   chat.FlexInt    `json:"unreadCount"`
	Summary       string          `json:"summary"`
}

type SessionList struct {
	Code  chat.FlexInt    `json:"code"`
	Msg   string          `json:"msg"`
	Total chat.FlexInt    `json:"total"`
	Data  []Session       `json:"data"`
	Raw   json.RawMessage `json:"-"`
}

// ReplyRequest is one outgoing seller message. Text wins over ImgURL.
type ReplyRequest struct {
	SessionID       string `json:"sessionId"`
	ShopID          string `json:"shopId"`
	BuyerID         string `json:"buyerId"`
	Text            string `json:"text,omitempty"`
	ImgURL          string `json:"imgUrl,omitempty"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
	MarketplaceCode string `json:"marketplaceCode,omitempty"`
	MessageID       string `json:"messageId,omitempty"`
	MessageStatus   int    `json:"messageStatus,omitempty"`
}

type ReplyResult struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type replyBody struct {
	MarketplaceCode string `json:"marketplaceCode"`
	SessionID       string `json:"sessionId"`
	ShopID          int64  `json:"shopId"`
	FromAccountType string `json:"fromAccountType"`
	Content         string `json:"content"`
	TemplateID      string `json:"templateId"`
	BuyerID         string `json:"buyerId"`
	MessageID       string `json:"messageId"`
	MessageStatus   int    `json:"messageStatus"`
}

type sessionListBody struct {
	Page            int    `json:"page"`
	Size            int    `json:"size"`
	MarketplaceCode string `json:"marketplaceCode"`
	SessionStatus   int    `json:"sessionStatus"`
	BuyerNickName   string `json:"buyerNickName"`
	ShopID          string `json:"shopId"`
}

type Client struct {
	baseURL         string
	token           string
	marketplaceCode string
	http            *http.Client
	breaker         *circuitbreaker.Wrapper
	logger          logger.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithCircuitBreaker(cfg config.CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.breaker = circuitbreaker.NewWrapper(circuitbreaker.FromSettings("hitoko-api", cfg))
	}
}

// NewClient builds a client. marketplaceCode is the default for replies and
// session listing.
func NewClient(cfg config.HitokoConfig, marketplaceCode string, log logger.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	if marketplaceCode == "" {
		marketplaceCode = constants.DefaultMarketplaceCode
	}

	c := &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		token:           cfg.AuthToken,
		marketplaceCode: marketplaceCode,
		http: &http.Client{
			Timeout:   timeout,
			Transport: tracing.HTTPTransport(nil),
		},
		logger: log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) GetShops(ctx context.Context) (*ShopList, error) {
	raw, err := c.do(ctx, "get_shops", http.MethodGet, pathShops, nil)
	if err != nil {
		return nil, err
	}

	list := &ShopList{Raw: raw}
	if err := json.Unmarshal(raw, list); err != nil {
		return nil, apperrors.ErrUpstream.WithCause(fmt.Errorf("failed to decode shop list: %w", err))
	}
	return list, nil
}

func (c *Client) GetSessionList(ctx context.Context, shopID string, page, size int) (*SessionList, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = constants.DefaultSessionPageSize
	}

	raw, err := c.do(ctx, "get_session_list", http.MethodPost, pathSessionList, sessionListBody{
		Page:            page,
		Size:            size,
		MarketplaceCode: c.marketplaceCode,
		SessionStatus:   constants.SessionStatusActive,
		ShopID:          shopID,
	})
	if err != nil {
		return nil, err
	}

	list := &SessionList{Raw: raw}
	if err := json.Unmarshal(raw, list); err != nil {
		return nil, apperrors.ErrUpstream.WithCause(fmt.Errorf("failed to decode session list: %w", err))
	}
	return list, nil
}

// ReplyMessage sends a text or image message as the seller.
func (c *Client) ReplyMessage(ctx context.Context, req ReplyRequest) (*ReplyResult, error) {
	body, err := c.replyBody(req)
	if err != nil {
		return nil, err
	}

	c.logger.InfowCtx(ctx, "Sending reply",
		"session_id", body.SessionID,
		"shop_id", body.ShopID,
		"template_id", body.TemplateID,
	)

	raw, err := c.do(ctx, "reply_message", http.MethodPost, pathReply, body)
	if err != nil {
		return nil, err
	}
	return &ReplyResult{Status: http.StatusOK, Data: raw}, nil
}

func (c *Client) replyBody(req ReplyRequest) (replyBody, error) {
	var content []byte
	var templateID string
	var err error

	switch {
	case req.Text != "":
		templateID = constants.TemplateText
		content, err = json.Marshal(struct {
			Text string `json:"text"`
		}{req.Text})
	case req.ImgURL != "":
		templateID = constants.TemplateImage
		content, err = json.Marshal(struct {
			ImgURL string `json:"imgUrl"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		}{req.ImgURL, req.Width, req.Height})
	default:
		return replyBody{}, apperrors.ErrValidation.WithMessage("Message must contain either text or imgUrl")
	}
	if err != nil {
		return replyBody{}, fmt.Errorf("failed to encode reply content: %w", err)
	}

	shopID, err := strconv.ParseInt(strings.TrimSpace(req.ShopID), 10, 64)
	if err != nil {
		return replyBody{}, apperrors.ErrValidation.WithMessage(fmt.Sprintf("shopId must be numeric, got %q", req.ShopID))
	}

	marketplace := req.MarketplaceCode
	if marketplace == "" {
		marketplace = c.marketplaceCode
	}

	return replyBody{
		MarketplaceCode: marketplace,
		SessionID:       req.SessionID,
		ShopID:          shopID,
		FromAccountType: constants.AccountTypeSeller,
		Content:         string(content),
		TemplateID:      templateID,
		BuyerID:         req.BuyerID,
		MessageID:       req.MessageID,
		MessageStatus:   req.MessageStatus,
	}, nil
}

// Ping checks that the API answers with the configured token.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.GetShops(ctx)
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, body interface{}) (json.RawMessage, error) {
	var raw json.RawMessage
	call := func(ctx context.Context) error {
		var err error
		raw, err = c.roundTrip(ctx, op, method, path, body)
		return err
	}

	if c.breaker == nil {
		return raw, call(ctx)
	}
	if err := c.breaker.Run(ctx, call); err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return nil, apperrors.ErrServiceUnavailable.WithCause(err)
		}
		return nil, err
	}
	return raw, nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body interface{}) (json.RawMessage, error) {
	start := time.Now()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, body != nil)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveVendorRequest(op, "error", time.Since(start))
		return nil, apperrors.ErrUpstream.WithCause(fmt.Errorf("%s request failed: %w", op, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.ObserveVendorRequest(op, "error", time.Since(start))
		return nil, apperrors.ErrUpstream.WithCause(fmt.Errorf("failed to read %s response: %w", op, err))
	}

	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		metrics.ObserveVendorRequest(op, strconv.Itoa(resp.StatusCode), time.Since(start))
		c.logger.WarnwCtx(ctx, "Vendor API returned an error",
			"operation", op,
			"status", resp.StatusCode,
		)
		upstream := apperrors.ErrUpstream.
			WithStatus(resp.StatusCode).
			WithMessage(fmt.Sprintf("vendor API returned status %d", resp.StatusCode))
		if json.Valid(data) {
			upstream = upstream.WithDetail("data", json.RawMessage(data))
		}
		return nil, upstream
	}

	metrics.ObserveVendorRequest(op, "success", time.Since(start))
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("null")
	}
	return json.RawMessage(data), nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "id,en-US;q=0.9,en;q=0.8")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("C", "02")
	req.Header.Set("Locale", "en_US")
	req.Header.Set("Time-Zone", "+0700")
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
}
