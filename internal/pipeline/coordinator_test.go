package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pusher/internal/chat"
	"pusher/internal/config"
	"pusher/internal/deduplication"
	"pusher/internal/forwarder"
	"pusher/internal/frame"
	"pusher/internal/logger"
)

type recordingSender struct {
	mu      sync.Mutex
	events  []interface{}
	block   chan struct{}
	outcome *forwarder.Outcome
}

func (s *recordingSender) Forward(_ context.Context, event interface{}) *forwarder.Outcome {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	if s.outcome != nil {
		return s.outcome
	}
	return &forwarder.Outcome{Success: true, Total: 1, Successful: 1}
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type failingDedup struct{}

func (failingDedup) ShouldProcess(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func chatFrame(t *testing.T, messageID, text string) frame.Raw {
	t.Helper()
	content, err := json.Marshal(map[string]string{"text": text})
	require.NoError(t, err)
	inner, err := json.Marshal(map[string]interface{}{
		"compChatMessageVO": map[string]interface{}{
			"messageId":       messageID,
			"sessionId":       "s-1",
			"shopId":          "1640619651",
			"fromAccountId":   "buyer-1",
			"fromAccountType": "1",
			"toAccountId":     "1640619651",
			"toAccountType":   "2",
			"content":         string(content),
		},
	})
	require.NoError(t, err)
	outer, err := json.Marshal(map[string]interface{}{
		"extras": map[string]interface{}{"message": string(inner)},
	})
	require.NoError(t, err)
	return frame.Raw{Topic: "001640619651", Bytes: outer, ReceivedAt: time.Now()}
}

func newCoordinator(t *testing.T, sender Sender, opts Options) *Coordinator {
	t.Helper()
	dedup := deduplication.NewService(deduplication.NewWindow(5*time.Minute), config.DeduplicationConfig{}, logger.NopLogger())
	return NewCoordinator(dedup, sender, opts, logger.NopLogger())
}

func defaultOptions() Options {
	return Options{ShopID: "1640619651", MarketplaceCode: "00", ForwardUnparsed: true}
}

func TestProcess_Decisions(t *testing.T) {
	tests := []struct {
		name     string
		bytes    []byte
		expected Status
		forwards bool
	}{
		{"opaque text", []byte("hello broker"), StatusUnparsed, true},
		{"json without extras", []byte(`{"type":"ping"}`), StatusNonChat, false},
		{"json array", []byte(`[1,2,3]`), StatusNonChat, false},
		{"malformed nested envelope", []byte(`{"extras":{"message":"{not json"}}`), StatusUnparsed, true},
		{"nested without chat records", []byte(`{"extras":{"message":"{\"other\":1}"}}`), StatusNonChat, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCoordinator(t, &recordingSender{}, defaultOptions())
			d := c.Process(context.Background(), frame.Raw{Topic: "001640619651", Bytes: tt.bytes, ReceivedAt: time.Now()})
			assert.Equal(t, tt.expected, d.Status)
			assert.Equal(t, tt.forwards, d.Forwards())
		})
	}
}

func TestProcess_UnparsedPayload(t *testing.T) {
	c := newCoordinator(t, &recordingSender{}, defaultOptions())

	d := c.Process(context.Background(), frame.Raw{Topic: "t", Bytes: []byte("garbage"), ReceivedAt: time.Now()})

	p, ok := d.Payload.(*chat.UnparsedPayload)
	require.True(t, ok)
	assert.Equal(t, "unparsed", p.Event.Type)
	assert.Equal(t, "Failed to parse message", p.Error)
	assert.Equal(t, "1640619651", p.ShopID)
	assert.Equal(t, "garbage", p.Raw)
}

func TestProcess_UnparsedDisabled(t *testing.T) {
	opts := defaultOptions()
	opts.ForwardUnparsed = false
	c := newCoordinator(t, &recordingSender{}, opts)

	d := c.Process(context.Background(), frame.Raw{Topic: "t", Bytes: []byte("garbage")})
	assert.Equal(t, StatusUnparsed, d.Status)
	assert.False(t, d.Forwards())
}

func TestProcess_Duplicate(t *testing.T) {
	c := newCoordinator(t, &recordingSender{}, defaultOptions())

	first := c.Process(context.Background(), chatFrame(t, "m-1", "hi"))
	second := c.Process(context.Background(), chatFrame(t, "m-1", "hi"))
	other := c.Process(context.Background(), chatFrame(t, "m-2", "hi"))

	assert.Equal(t, StatusForward, first.Status)
	assert.Equal(t, StatusDuplicate, second.Status)
	assert.Equal(t, StatusForward, other.Status)

	p, ok := first.Payload.(*chat.Payload)
	require.True(t, ok)
	assert.Equal(t, "m-1", p.Message.ID)
	assert.Equal(t, "s-1", p.ReplyWith.SessionID)
}

func TestProcess_DedupErrorDropsEvent(t *testing.T) {
	c := NewCoordinator(failingDedup{}, &recordingSender{}, defaultOptions(), logger.NopLogger())

	d := c.Process(context.Background(), chatFrame(t, "m-1", "hi"))
	assert.Equal(t, StatusError, d.Status)
	assert.False(t, d.Forwards())
}

func TestProcess_Filter(t *testing.T) {
	filter, err := NewFilter(config.FilteringConfig{Expression: `event.fromBuyer && event.contentType == "text"`}, logger.NopLogger())
	require.NoError(t, err)

	opts := defaultOptions()
	opts.Filter = filter
	c := newCoordinator(t, &recordingSender{}, opts)

	assert.Equal(t, StatusForward, c.Process(context.Background(), chatFrame(t, "m-1", "hi")).Status)

	onlyImages, err := NewFilter(config.FilteringConfig{Expression: `event.contentType == "image"`}, logger.NopLogger())
	require.NoError(t, err)
	opts.Filter = onlyImages
	c = newCoordinator(t, &recordingSender{}, opts)

	assert.Equal(t, StatusFiltered, c.Process(context.Background(), chatFrame(t, "m-1", "hi")).Status)
}

func TestNewFilter(t *testing.T) {
	f, err := NewFilter(config.FilteringConfig{}, logger.NopLogger())
	require.NoError(t, err)
	assert.Nil(t, f)

	_, err = NewFilter(config.FilteringConfig{Expression: `event.fromBuyer +`}, logger.NopLogger())
	assert.Error(t, err)

	_, err = NewFilter(config.FilteringConfig{Expression: `"not a bool"`}, logger.NopLogger())
	assert.Error(t, err)
}

func TestFilter_EvaluationErrorAllows(t *testing.T) {
	f, err := NewFilter(config.FilteringConfig{Expression: `event.missing.field == "x"`}, logger.NopLogger())
	require.NoError(t, err)

	c := newCoordinator(t, &recordingSender{}, Options{ShopID: "1", Filter: f})
	assert.Equal(t, StatusForward, c.Process(context.Background(), chatFrame(t, "m-1", "hi")).Status)
}

func TestHandleFrame_ForwardsAndDrains(t *testing.T) {
	sender := &recordingSender{block: make(chan struct{})}

	var hooked []string
	opts := defaultOptions()
	opts.OnEvent = func(_ context.Context, ev *chat.Event) { hooked = append(hooked, ev.MessageID) }
	c := newCoordinator(t, sender, opts)

	c.HandleFrame(context.Background(), chatFrame(t, "m-1", "hi"))
	c.HandleFrame(context.Background(), chatFrame(t, "m-1", "hi"))
	assert.Equal(t, []string{"m-1"}, hooked)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Drain(ctx), context.DeadlineExceeded)

	close(sender.block)
	require.NoError(t, c.Drain(context.Background()))
	assert.Equal(t, 1, sender.count())

	c.HandleFrame(context.Background(), chatFrame(t, "m-2", "hi"))
	require.NoError(t, c.Drain(context.Background()))
	assert.Equal(t, 1, sender.count(), "events arriving while draining are dropped")
}

func TestHandleFrame_ForwardOutlivesCallerContext(t *testing.T) {
	sender := &recordingSender{block: make(chan struct{})}
	c := newCoordinator(t, sender, defaultOptions())

	ctx, cancel := context.WithCancel(context.Background())
	c.HandleFrame(ctx, chatFrame(t, "m-1", "hi"))
	cancel()

	close(sender.block)
	require.NoError(t, c.Drain(context.Background()))
	assert.Equal(t, 1, sender.count())
}
