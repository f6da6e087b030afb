// Package frame decodes raw broker payloads. Frames are either plain JSON or a
// decimal shop-identifier prefix glued to a JSON object, e.g. "001640619651{...}".
package frame

import (
	"regexp"
	"time"

	"github.com/goccy/go-json"
)

var prefixed = regexp.MustCompile(`(?s)^(\d+)(\{.*\})$`)

// Raw is one broker delivery, consumed immediately by Decode.
type Raw struct {
	Topic      string
	Bytes      []byte
	ReceivedAt time.Time
}

// Kind describes how a frame was decoded.
type Kind string

const (
	KindJSON         Kind = "json"
	KindPrefixedJSON Kind = "prefixed_json"
	KindOpaque       Kind = "opaque"
)

// Payload is a decoded frame. Body holds valid JSON unless the frame is
// opaque, in which case only Text is meaningful.
type Payload struct {
	PrefixID string
	Body     json.RawMessage
	Text     string
}

func (p Payload) HasPrefix() bool {
	return p.PrefixID != ""
}

func (p Payload) Opaque() bool {
	return p.Body == nil
}

func (p Payload) Kind() Kind {
	switch {
	case p.Opaque():
		return KindOpaque
	case p.HasPrefix():
		return KindPrefixedJSON
	default:
		return KindJSON
	}
}

// Decode never fails: anything that is not JSON comes back opaque. A prefix is
// still reported when the remainder after it turns out not to be JSON.
func Decode(raw []byte) Payload {
	text := string(raw)
	p := Payload{Text: text}

	body := raw
	if m := prefixed.FindSubmatchIndex(raw); m != nil {
		p.PrefixID = text[m[2]:m[3]]
		body = raw[m[4]:m[5]]
	}

	if json.Valid(body) {
		p.Body = json.RawMessage(append([]byte(nil), body...))
	}
	return p
}
