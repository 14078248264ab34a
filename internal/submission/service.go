// Package submission ingests device database submissions.
//
// A submission is created from a voucher, receives devices and entities
// through its Handle and becomes visible once finalized. Submissions that
// fail midway are deleted together with everything attached to them.
package submission

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/intake/internal/metrics"
	"github.com/roach88/intake/internal/query"
	"github.com/roach88/intake/internal/signal"
	"github.com/roach88/intake/internal/supervisor"
	"github.com/roach88/intake/internal/voucher"
)

var (
	// ErrReused is returned by Create when the voucher's submission id has
	// already been used.
	ErrReused = errors.New("submission: identifier reused")

	// ErrInvalidIdentifier is returned for submission identifiers that are
	// not genuine submission vouchers.
	ErrInvalidIdentifier = errors.New("submission: invalid identifier")

	// ErrMalformedSubmission is returned when a submission body cannot be
	// parsed.
	ErrMalformedSubmission = errors.New("submission: malformed submission")

	// ErrMalformedItem is returned when a device or entity does not match
	// the schema. The item is skipped; the submission stays usable.
	ErrMalformedItem = errors.New("submission: malformed item")

	// ErrNotFound is returned when a submission no longer exists.
	ErrNotFound = errors.New("submission: not found")
)

// Service creates and fills submissions.
type Service struct {
	sup    *supervisor.Supervisor
	codec  *voucher.Codec
	signal *signal.Signal
	newID  func() (uuid.UUID, error)
	schema *schema
	log    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithSignal sets where finalized submissions are announced.
func WithSignal(s *signal.Signal) Option {
	return func(svc *Service) {
		svc.signal = s
	}
}

// WithIDGenerator replaces uuid.NewV7 as the source of ids.
func WithIDGenerator(fn func() (uuid.UUID, error)) Option {
	return func(svc *Service) {
		svc.newID = fn
	}
}

// NewService creates a Service storing submissions through sup and
// issuing vouchers with codec.
func NewService(sup *supervisor.Supervisor, codec *voucher.Codec, opts ...Option) (*Service, error) {
	s, err := compileSchema()
	if err != nil {
		return nil, err
	}
	svc := &Service{
		sup:    sup,
		codec:  codec,
		signal: signal.New(),
		newID:  uuid.NewV7,
		schema: s,
		log:    slog.With("component", "submission"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Initial issues the voucher of an installation's first submission.
func (s *Service) Initial() (voucher.Voucher[Payload], error) {
	id, err := s.newID()
	if err != nil {
		return voucher.Voucher[Payload]{}, err
	}
	subject, err := s.newID()
	if err != nil {
		return voucher.Voucher[Payload]{}, err
	}
	return voucher.Create(voucher.PurposeSubmission, s.codec.Now(), Payload{ID: id, Subject: subject}), nil
}

// Subsequent issues the voucher of the submission following v. The
// subject is kept.
func (s *Service) Subsequent(v voucher.Voucher[Payload]) (voucher.Voucher[Payload], error) {
	id, err := s.newID()
	if err != nil {
		return voucher.Voucher[Payload]{}, err
	}
	return voucher.Create(voucher.PurposeSubmission, s.codec.Now(), Payload{ID: id, Subject: v.Payload.Subject}), nil
}

// Resume decodes a submission identifier handed out earlier. Submission
// vouchers do not expire: an installation may submit again at any time.
func (s *Service) Resume(identifier string) (voucher.Voucher[Payload], error) {
	v, err := voucher.Deserialize[Payload](s.codec, identifier, voucher.PurposeSubmission, 0)
	switch {
	case err == nil, errors.Is(err, voucher.ErrExpired):
		return v, nil
	default:
		return v, fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}
}

// Serialize encodes v as a submission identifier.
func (s *Service) Serialize(v voucher.Voucher[Payload]) (string, error) {
	return voucher.Serialize(s.codec, v)
}

// Create inserts the submission named by v and returns its handle.
// ErrReused is returned when the id is taken.
func (s *Service) Create(ctx context.Context, v voucher.Voucher[Payload], homeAssistant string) (*Handle, error) {
	row, err := s.sup.One(ctx, insertSubmission.BindNamed(map[string]any{
		"id":             v.Payload.ID.String(),
		"subject":        v.Payload.Subject.String(),
		"home_assistant": homeAssistant,
		"created_at":     s.codec.Now().Unix(),
	}))
	if err != nil {
		return nil, fmt.Errorf("create submission %s: %w", v.Payload.ID, err)
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %s", ErrReused, v.Payload.ID)
	}
	return newHandle(v.Payload, homeAssistant), nil
}

// Delete removes a submission with its devices and entities. Deleting a
// missing submission is not an error.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.sup.Exec(ctx, deleteSubmission.Bind(id.String())); err != nil {
		return fmt.Errorf("delete submission %s: %w", id, err)
	}
	return nil
}

// Summary describes a stored submission.
type Summary struct {
	ID            uuid.UUID
	Subject       uuid.UUID
	HomeAssistant string
	CreatedAt     time.Time
	FinalizedAt   *time.Time
	Devices       int
	Entities      int
}

// Summary loads a submission's summary. ErrNotFound is returned for
// unknown ids.
func (s *Service) Summary(ctx context.Context, id uuid.UUID) (Summary, error) {
	row, err := s.sup.One(ctx, getSummary.Bind(id.String()))
	if err != nil {
		return Summary{}, err
	}
	if row == nil {
		return Summary{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec := row.(query.Record)

	var sum Summary
	if sum.ID, err = uuid.Parse(text(rec["id"])); err != nil {
		return Summary{}, err
	}
	if sum.Subject, err = uuid.Parse(text(rec["subject"])); err != nil {
		return Summary{}, err
	}
	sum.HomeAssistant = text(rec["home_assistant"])
	sum.CreatedAt = time.Unix(integer(rec["created_at"]), 0).UTC()
	if rec["finalized_at"] != nil {
		at := time.Unix(integer(rec["finalized_at"]), 0).UTC()
		sum.FinalizedAt = &at
	}
	sum.Devices = int(integer(rec["devices"]))
	sum.Entities = int(integer(rec["entities"]))
	return sum, nil
}

// StoredDevice is a device row of a submission.
type StoredDevice struct {
	ID           int64
	Integration  string
	Position     int
	Manufacturer *string
	Model        *string
	ViaDeviceID  *int64
	Digest       string
	Entities     int
}

// Devices streams a submission's devices ordered by integration and
// position. The statement runs on the background pool.
func (s *Service) Devices(ctx context.Context, id uuid.UUID) iter.Seq2[StoredDevice, error] {
	return func(yield func(StoredDevice, error) bool) {
		for row, err := range s.sup.Many(ctx, listDevices.Bind(id.String()).Background()) {
			if err != nil {
				yield(StoredDevice{}, err)
				return
			}
			rec := row.(query.Record)
			d := StoredDevice{
				ID:           integer(rec["id"]),
				Integration:  text(rec["integration"]),
				Position:     int(integer(rec["position"])),
				Manufacturer: nullableText(rec["manufacturer"]),
				Model:        nullableText(rec["model"]),
				Digest:       text(rec["digest"]),
				Entities:     int(integer(rec["entities"])),
			}
			if via, ok := rec["via_device_id"].(int64); ok {
				d.ViaDeviceID = &via
			}
			if !yield(d, nil) {
				return
			}
		}
	}
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}

func nullableText(v any) *string {
	if v == nil {
		return nil
	}
	s := text(v)
	return &s
}

func integer(v any) int64 {
	n, _ := v.(int64)
	return n
}

func boolean(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullableBoolean(b *bool) any {
	if b == nil {
		return nil
	}
	return boolean(*b)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.Ok
	case errors.Is(err, ErrMalformedSubmission), errors.Is(err, ErrMalformedItem):
		return metrics.Malformed
	default:
		return metrics.Fail
	}
}
