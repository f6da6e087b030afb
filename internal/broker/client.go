// Package broker maintains the MQTT-over-WebSocket connection to the vendor
// broker and hands every received frame to a handler.
package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"pusher/internal/config"
	"pusher/internal/constants"
	"pusher/internal/frame"
	"pusher/internal/logger"
	apperrors "pusher/pkg/errors"
	"pusher/pkg/logging"
	"pusher/pkg/metrics"
)

const (
	disconnectQuiesce = 250 // ms
	publishQoS        = 1
	eventBuffer       = 16
)

// session is the subset of mqtt.Client the supervisor drives.
type session interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type eventKind int

const (
	eventConnected eventKind = iota
	eventConnectFailed
	eventConnectionLost
)

type event struct {
	kind eventKind
	err  error
}

// run is one supervised connection lifetime, from Connect to terminal
// disconnect.
type run struct {
	sess   session
	events chan event
	stop   chan struct{}
	done   chan struct{}
}

// Client owns the connection lifecycle. Transport callbacks only post events;
// a single supervisor goroutine owns the state and the attempt counter.
//
//	Disconnected -> Connecting -> Connected -> Reconnecting -> Connected
//	                                        \-> Disconnected (ceiling or Disconnect)
type Client struct {
	cfg      config.BrokerConfig
	logger   logger.Logger
	handler  HandlerFunc
	clientID string

	dial  func(opts *mqtt.ClientOptions) session
	after func(d time.Duration) <-chan time.Time
	now   func() time.Time

	mu       sync.Mutex
	state    State
	attempts int
	cur      *run
	done     chan struct{}
	err      error
}

func NewClient(cfg config.BrokerConfig, handler HandlerFunc, log logger.Logger) *Client {
	return &Client{
		cfg:      cfg,
		logger:   log,
		handler:  handler,
		clientID: NewClientID(cfg.CompanyID),
		dial: func(opts *mqtt.ClientOptions) session {
			return mqtt.NewClient(opts)
		},
		after: time.After,
		now:   time.Now,
		done:  make(chan struct{}),
	}
}

// NewClientID returns user_<companyId>_<unique>, unique per process start.
func NewClientID(companyID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:13]
	if companyID == "" {
		return constants.ClientIDPrefix + "_" + suffix
	}
	return constants.ClientIDPrefix + "_" + companyID + "_" + suffix
}

func (c *Client) ClientID() string {
	return c.clientID
}

func (c *Client) Topic() string {
	return c.cfg.Topic()
}

// Connect starts the supervisor and the first connection attempt without
// waiting for it. Calling Connect while running is a no-op.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil {
		return
	}

	r := &run{
		events: make(chan event, eventBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	r.sess = c.dial(c.options(r))

	c.cur = r
	c.done = r.done
	c.err = nil
	c.attempts = 0
	c.setStateLocked(StateConnecting)

	c.logger.Infow("Connecting to broker",
		"url", c.cfg.URL,
		"client_id", c.clientID,
		"topic", c.Topic(),
	)

	go c.supervise(r)
}

// Disconnect closes the connection and waits for the supervisor to exit. It is
// safe to call when already disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	r := c.cur
	c.cur = nil
	c.mu.Unlock()

	if r == nil {
		return
	}
	close(r.stop)
	<-r.done
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Done is closed when the current run ends, either through Disconnect or
// because the reconnect ceiling was reached.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err is ErrMaxReconnectAttempts after a terminal failure, nil otherwise.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Publish is best effort: it never queues and never blocks on the broker.
// Strings and byte slices are sent as is, anything else as JSON.
func (c *Client) Publish(topic string, message interface{}) error {
	c.mu.Lock()
	r := c.cur
	connected := c.state == StateConnected
	c.mu.Unlock()

	if r == nil || !connected || !r.sess.IsConnected() {
		metrics.BrokerPublishTotal.WithLabelValues("not_connected").Inc()
		c.logger.Warnw("Broker client is not connected, dropping publish", "topic", topic)
		return ErrNotConnected
	}

	var payload interface{}
	switch v := message.(type) {
	case string, []byte:
		payload = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode publish payload: %w", err)
		}
		payload = data
	}

	token := r.sess.Publish(topic, publishQoS, false, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			metrics.BrokerPublishTotal.WithLabelValues("error").Inc()
			c.logger.Errorw("Failed to publish message", "topic", topic, "error", err)
			return
		}
		metrics.BrokerPublishTotal.WithLabelValues("success").Inc()
		c.logger.Debugw("Message published", "topic", topic)
	}()
	return nil
}

func (c *Client) options(r *run) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.URL)
	opts.SetClientID(c.clientID)
	opts.SetUsername(c.cfg.Username)
	opts.SetPassword(c.cfg.Password)
	opts.SetProtocolVersion(4)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(c.cfg.KeepAlive)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetOrderMatters(true)
	// Reconnects are driven by the supervisor so the delay stays fixed and
	// attempts can be counted.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetTLSConfig(&tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.cfg.InsecureSkipVerify,
	})

	headers := http.Header{}
	if c.cfg.Origin != "" {
		headers.Set("Origin", c.cfg.Origin)
	}
	if c.cfg.UserAgent != "" {
		headers.Set("User-Agent", c.cfg.UserAgent)
	}
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Pragma", "no-cache")
	opts.SetHTTPHeaders(headers)

	opts.SetOnConnectHandler(func(mqtt.Client) { c.onConnect(r) })
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.post(r, event{kind: eventConnectionLost, err: err})
	})
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) { c.onMessage(msg) })

	return opts
}

func (c *Client) supervise(r *run) {
	defer close(r.done)

	c.attempt(r)

	var retry <-chan time.Time
	for {
		select {
		case <-r.stop:
			r.sess.Disconnect(disconnectQuiesce)
			c.finish(r, nil)
			c.logger.Infow("Disconnected from broker")
			return

		case ev := <-r.events:
			switch ev.kind {
			case eventConnected:
				c.mu.Lock()
				c.attempts = 0
				c.setStateLocked(StateConnected)
				c.mu.Unlock()
				c.logger.Infow("Connected to broker", "topic", c.Topic())

			case eventConnectFailed, eventConnectionLost:
				attempts := c.recordAttempt()
				c.logger.Warnw("Broker connection unavailable",
					"error", ev.err,
					"attempt", attempts,
					"max_attempts", c.cfg.MaxReconnectAttempts,
				)

				if c.cfg.MaxReconnectAttempts > 0 && attempts >= c.cfg.MaxReconnectAttempts {
					c.logger.Errorw("Max reconnect attempts reached, closing broker connection",
						"attempts", attempts,
					)
					r.sess.Disconnect(0)
					c.finish(r, ErrMaxReconnectAttempts)
					return
				}

				c.mu.Lock()
				c.setStateLocked(StateReconnecting)
				c.mu.Unlock()
				retry = c.after(c.cfg.ReconnectPeriod)
			}

		case <-retry:
			retry = nil
			c.attempt(r)
		}
	}
}

func (c *Client) recordAttempt() int {
	metrics.BrokerReconnectAttemptsTotal.Inc()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	return c.attempts
}

// attempt dials once in the background; success arrives through onConnect.
func (c *Client) attempt(r *run) {
	go func() {
		token := r.sess.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			c.post(r, event{kind: eventConnectFailed, err: err})
		}
	}()
}

func (c *Client) onConnect(r *run) {
	select {
	case <-r.stop:
		r.sess.Disconnect(0)
		return
	default:
	}

	topic := c.Topic()
	token := r.sess.Subscribe(topic, byte(c.cfg.QoS), func(_ mqtt.Client, msg mqtt.Message) {
		c.onMessage(msg)
	})
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		c.logger.Errorw("Timed out subscribing to topic", "topic", topic)
	} else if err := token.Error(); err != nil {
		c.logger.Errorw("Failed to subscribe to topic", "topic", topic, "error", err)
	} else {
		c.logger.Infow("Subscribed to topic",
			"topic", topic,
			"marketplace_code", c.cfg.MarketplaceCode,
			"shop_id", c.cfg.ShopID,
			"qos", c.cfg.QoS,
		)
	}

	c.post(r, event{kind: eventConnected})
}

// onMessage must not let a failing handler take down delivery of later frames.
func (c *Client) onMessage(msg mqtt.Message) {
	raw := frame.Raw{
		Topic:      msg.Topic(),
		Bytes:      msg.Payload(),
		ReceivedAt: c.now(),
	}
	metrics.FramesReceivedTotal.WithLabelValues(raw.Topic).Inc()
	metrics.FrameSizeBytes.Observe(float64(len(raw.Bytes)))

	ctx := logging.WithTopic(context.Background(), raw.Topic)
	ctx = logging.WithServiceName(ctx, constants.ServicePusher)

	defer func() {
		if rec := recover(); rec != nil {
			c.logger.ErrorwCtx(ctx, "Panic recovered while handling frame",
				"error", apperrors.RecoverPanic(rec),
				"size", len(raw.Bytes),
			)
		}
	}()

	if c.handler != nil {
		c.handler(ctx, raw)
	}
}

func (c *Client) post(r *run, ev event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (c *Client) finish(r *run, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == r {
		c.cur = nil
	}
	c.err = err
	c.setStateLocked(StateDisconnected)
}

func (c *Client) setStateLocked(s State) {
	c.state = s
	metrics.SetBrokerState(int(s))
}
