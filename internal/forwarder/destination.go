package forwarder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"pusher/internal/constants"
	apperrors "pusher/pkg/errors"
	"pusher/pkg/retry"
	"pusher/pkg/tracing"
)

// Message is one serialized event as handed to a destination.
type Message struct {
	Key  string
	Body []byte
}

// Destination delivers a message once. The returned status code is zero for
// transports without one.
type Destination interface {
	Name() string
	Deliver(ctx context.Context, msg Message) (int, error)
}

// StatusError is a completed HTTP exchange with a non-2xx status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.StatusCode)
}

// ParseDestinationURLs splits a comma-separated list, trimming whitespace and
// dropping empty entries. Order is preserved.
func ParseDestinationURLs(value string) []string {
	parts := strings.Split(value, ",")
	urls := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			urls = append(urls, p)
		}
	}
	return urls
}

// NewDestinations builds one destination per URL, routing on the scheme.
func NewDestinations(urls []string, client *http.Client, userAgent string) ([]Destination, error) {
	destinations := make([]Destination, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, apperrors.ErrValidation.WithMessage(fmt.Sprintf("invalid destination %q: %v", raw, err))
		}

		switch u.Scheme {
		case "http", "https":
			destinations = append(destinations, NewWebhookDestination(raw, client, userAgent))
		case "kafka":
			d, err := NewKafkaDestination(u)
			if err != nil {
				return nil, err
			}
			destinations = append(destinations, d)
		default:
			return nil, apperrors.ErrValidation.WithMessage(fmt.Sprintf("unsupported destination scheme %q in %q", u.Scheme, raw))
		}
	}
	return destinations, nil
}

func NewHTTPClient() *http.Client {
	return &http.Client{Transport: tracing.HTTPTransport(nil)}
}

type WebhookDestination struct {
	url       string
	client    *http.Client
	userAgent string
}

func NewWebhookDestination(rawURL string, client *http.Client, userAgent string) *WebhookDestination {
	if client == nil {
		client = NewHTTPClient()
	}
	if userAgent == "" {
		userAgent = constants.DefaultWebhookUserAgent
	}
	return &WebhookDestination{url: rawURL, client: client, userAgent: userAgent}
}

func (d *WebhookDestination) Name() string {
	return d.url
}

func (d *WebhookDestination) Deliver(ctx context.Context, msg Message) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(msg.Body))
	if err != nil {
		return 0, retry.NewFatalError(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		return resp.StatusCode, &StatusError{StatusCode: resp.StatusCode}
	}
	return resp.StatusCode, nil
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDestination writes events to a topic, keyed by message id. URL form:
// kafka://host:port[,host:port]/topic
type KafkaDestination struct {
	name   string
	writer kafkaWriter
}

func NewKafkaDestination(u *url.URL) (*KafkaDestination, error) {
	topic := strings.Trim(u.Path, "/")
	brokers := ParseDestinationURLs(u.Host)
	if topic == "" || len(brokers) == 0 {
		return nil, apperrors.ErrValidation.WithMessage(fmt.Sprintf("kafka destination %q needs brokers and a topic", u.String()))
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaDestination{name: u.String(), writer: w}, nil
}

func (d *KafkaDestination) Name() string {
	return d.name
}

func (d *KafkaDestination) Deliver(ctx context.Context, msg Message) (int, error) {
	headers := []kafka.Header{{Key: "content-type", Value: []byte("application/json")}}
	headers = tracing.InjectTraceContext(ctx, headers)

	err := d.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.Key),
		Value:   msg.Body,
		Headers: headers,
		Time:    time.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write kafka message: %w", err)
	}
	return 0, nil
}

func (d *KafkaDestination) Close() error {
	return d.writer.Close()
}
