// Package voucher issues and verifies signed, time-bounded capability tokens.
//
// Wire format:
//
//	base64url(HMAC-SHA256(key, payload)) + "|" + base64url(payload)
//
// where payload is the canonical JSON encoding of the purpose, the creation
// time in unix seconds and any caller fields merged at the top level.
// Vouchers carry no server-side state; validity is a pure function of the
// creation time, the current time and the TTL chosen by the verifier.
package voucher

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/roach88/intake/internal/canon"
)

// Purpose scopes a voucher to one use.
type Purpose string

// Well-known purposes.
const (
	PurposeSubmission       Purpose = "submission"
	PurposeDatabaseSnapshot Purpose = "database-snapshot"
)

// Managed keys reserved in the signed payload.
const (
	keyPurpose   = "purpose"
	keyCreatedAt = "created_at"
)

var (
	// ErrMalformed is returned for any token that is not a well-formed,
	// correctly signed voucher with a decodable payload.
	ErrMalformed = errors.New("voucher: malformed")

	// ErrPurposeMismatch is returned when a genuine voucher was issued for
	// a different purpose. The decoded voucher is still returned.
	ErrPurposeMismatch = errors.New("voucher: purpose mismatch")

	// ErrExpired is returned when a genuine voucher falls outside its
	// validity window. The decoded voucher is still returned.
	ErrExpired = errors.New("voucher: expired")
)

// Validator is implemented by payloads that check their own schema.
// A validation failure makes the voucher malformed.
type Validator interface {
	Validate() error
}

// None is the payload of vouchers that carry no fields.
type None struct{}

// Voucher is an immutable sealed capability.
type Voucher[P any] struct {
	Purpose   Purpose
	CreatedAt time.Time
	Payload   P
}

// Create seals a voucher. The epoch is truncated to whole seconds.
func Create[P any](purpose Purpose, epoch time.Time, payload P) Voucher[P] {
	return Voucher[P]{
		Purpose:   purpose,
		CreatedAt: time.Unix(epoch.Unix(), 0).UTC(),
		Payload:   payload,
	}
}

// Codec signs and verifies vouchers with a shared key.
type Codec struct {
	key   []byte
	clock clock.Clock
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithClock sets the clock used for validity checks.
func WithClock(c clock.Clock) CodecOption {
	return func(codec *Codec) {
		codec.clock = c
	}
}

// NewCodec creates a Codec signing with key.
func NewCodec(key []byte, opts ...CodecOption) *Codec {
	c := &Codec{
		key:   append([]byte(nil), key...),
		clock: clock.WallClock,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the codec clock's current time.
func (c *Codec) Now() time.Time {
	return c.clock.Now()
}

// Serialize encodes and signs v.
// Payload fields must encode to a JSON object (or null) and must not use
// the reserved keys "purpose" and "created_at".
func Serialize[P any](c *Codec, v Voucher[P]) (string, error) {
	fields, err := payloadFields(v.Payload)
	if err != nil {
		return "", err
	}
	if _, ok := fields[keyPurpose]; ok {
		return "", fmt.Errorf("voucher: payload uses reserved key %q", keyPurpose)
	}
	if _, ok := fields[keyCreatedAt]; ok {
		return "", fmt.Errorf("voucher: payload uses reserved key %q", keyCreatedAt)
	}
	fields[keyPurpose] = string(v.Purpose)
	fields[keyCreatedAt] = v.CreatedAt.Unix()

	data, err := canon.Encode(fields)
	if err != nil {
		return "", fmt.Errorf("voucher: encode payload: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(c.sign(data)) +
		"|" +
		base64.RawURLEncoding.EncodeToString(data), nil
}

// Deserialize verifies s and decodes its payload.
//
// The signature is checked first, in constant time. ErrPurposeMismatch and
// ErrExpired are returned together with the decoded voucher so callers can
// recover the payload; ErrMalformed returns the zero voucher.
func Deserialize[P any](c *Codec, s string, purpose Purpose, ttl time.Duration) (Voucher[P], error) {
	var zero Voucher[P]

	parts := strings.Split(s, "|")
	if len(parts) != 2 {
		return zero, fmt.Errorf("%w: expected 2 segments, got %d", ErrMalformed, len(parts))
	}

	enc := base64.RawURLEncoding.Strict()
	signature, err := enc.DecodeString(parts[0])
	if err != nil {
		return zero, fmt.Errorf("%w: signature encoding", ErrMalformed)
	}
	data, err := enc.DecodeString(parts[1])
	if err != nil {
		return zero, fmt.Errorf("%w: payload encoding", ErrMalformed)
	}
	if len(signature) != sha256.Size {
		return zero, fmt.Errorf("%w: signature length", ErrMalformed)
	}
	if !hmac.Equal(c.sign(data), signature) {
		return zero, fmt.Errorf("%w: signature mismatch", ErrMalformed)
	}

	v, err := decode[P](data)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if v.Purpose != purpose {
		return v, fmt.Errorf("%w: expected %q, got %q", ErrPurposeMismatch, purpose, v.Purpose)
	}
	if Expired(c, v, ttl) {
		return v, fmt.Errorf("%w: issued at %s", ErrExpired, v.CreatedAt.Format(time.RFC3339))
	}
	return v, nil
}

// Expired reports whether v falls outside [CreatedAt, CreatedAt+ttl] at the
// codec's current time. Both ends are inclusive and compared in whole seconds;
// ttl is truncated to whole seconds, so a ttl under one second only admits
// the creation second.
func Expired[P any](c *Codec, v Voucher[P], ttl time.Duration) bool {
	now := c.clock.Now().Unix()
	created := v.CreatedAt.Unix()
	return now < created || now > created+int64(ttl/time.Second)
}

func (c *Codec) sign(data []byte) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(data)
	return mac.Sum(nil)
}

// payloadFields flattens a payload into its top-level JSON fields.
func payloadFields(payload any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("voucher: marshal payload: %w", err)
	}
	decoded, err := canon.Decode(raw)
	if err != nil {
		return nil, err
	}
	switch fields := decoded.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return fields, nil
	default:
		return nil, fmt.Errorf("voucher: payload must encode to an object, got %T", decoded)
	}
}

func decode[P any](data []byte) (Voucher[P], error) {
	var v Voucher[P]

	decoded, err := canon.Decode(data)
	if err != nil {
		return v, err
	}
	fields, ok := decoded.(map[string]any)
	if !ok {
		return v, errors.New("payload is not an object")
	}

	purpose, ok := fields[keyPurpose].(string)
	if !ok {
		return v, fmt.Errorf("managed key %q missing", keyPurpose)
	}
	number, ok := fields[keyCreatedAt].(json.Number)
	if !ok {
		return v, fmt.Errorf("managed key %q missing", keyCreatedAt)
	}
	createdAt, err := number.Int64()
	if err != nil {
		return v, fmt.Errorf("managed key %q: %w", keyCreatedAt, err)
	}
	delete(fields, keyPurpose)
	delete(fields, keyCreatedAt)

	rest, err := json.Marshal(fields)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(rest, &v.Payload); err != nil {
		return v, fmt.Errorf("payload: %w", err)
	}
	if validator, ok := any(v.Payload).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return v, fmt.Errorf("payload: %w", err)
		}
	}

	v.Purpose = Purpose(purpose)
	v.CreatedAt = time.Unix(createdAt, 0).UTC()
	return v, nil
}
