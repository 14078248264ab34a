// Package slack authenticates Slack slash-command callbacks and answers
// them.
package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/juju/clock"

	"github.com/roach88/intake/internal/ingress"
	internalsignal "github.com/roach88/intake/internal/signal"
	"github.com/roach88/intake/internal/voucher"
)

// Verdict is the outcome of request authentication.
type Verdict int

const (
	Genuine Verdict = iota
	NotGenuineTimestamp
	NotGenuineSignature
)

// String returns the kebab-case name of the verdict.
func (v Verdict) String() string {
	switch v {
	case Genuine:
		return "genuine"
	case NotGenuineTimestamp:
		return "not-genuine-timestamp"
	case NotGenuineSignature:
		return "not-genuine-signature"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Window bounds the distance between a request timestamp and now.
// Requests at or beyond it are rejected as possible replays.
const Window = 10 * time.Second

// Response is the JSON body answering a slash command.
type Response struct {
	ResponseType string                 `json:"response_type"`
	Blocks       []internalsignal.Block `json:"blocks"`
}

// Callback verifies and handles slash commands.
type Callback struct {
	key     []byte
	ingress *ingress.Ingress
	clock   clock.Clock
}

// Option configures a Callback.
type Option func(*Callback)

// WithClock sets the clock used for the replay window.
func WithClock(c clock.Clock) Option {
	return func(cb *Callback) {
		cb.clock = c
	}
}

// New creates a Callback verifying requests with the app's signing key.
func New(signingKey string, in *ingress.Ingress, opts ...Option) *Callback {
	cb := &Callback{
		key:     []byte(signingKey),
		ingress: in,
		clock:   clock.WallClock,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Genuine checks a request against its X-Slack-Request-Timestamp
// (unix seconds) and X-Slack-Signature headers. body is the raw request
// body; it must be valid UTF-8.
func (cb *Callback) Genuine(timestamp int64, signature string, body []byte) Verdict {
	now := cb.clock.Now()
	skew := now.Sub(time.Unix(timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew >= Window {
		return NotGenuineTimestamp
	}

	if !utf8.Valid(body) {
		return NotGenuineSignature
	}

	mac := hmac.New(sha256.New, cb.key)
	mac.Write([]byte("v0:" + strconv.FormatInt(timestamp, 10) + ":"))
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return NotGenuineSignature
	}
	return Genuine
}

// Handle answers a slash command. /database-snapshot replies with a
// short-lived download link; other commands are unknown.
func (cb *Callback) Handle(command, _ string) (Response, error) {
	switch command {
	case "/database-snapshot":
		v := voucher.Create(voucher.PurposeDatabaseSnapshot, cb.clock.Now(), voucher.None{})
		link, err := cb.ingress.DatabaseSnapshotURL(v)
		if err != nil {
			return Response{}, err
		}
		return ephemeral(fmt.Sprintf("use <%s|this link> to download a database snapshot (it expires quickly!)", link)), nil
	default:
		return ephemeral("unknown command 😔"), nil
	}
}

func ephemeral(text string) Response {
	return Response{ResponseType: "ephemeral", Blocks: internalsignal.Markdown(text)}
}
