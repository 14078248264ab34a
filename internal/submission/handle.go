package submission

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/roach88/intake/internal/canon"
	"github.com/roach88/intake/internal/metrics"
	"github.com/roach88/intake/internal/query"
	"github.com/roach88/intake/internal/signal"
	"github.com/roach88/intake/internal/supervisor"
)

// Digest domains of stored items.
const (
	deviceDomain = "intake/device"
	entityDomain = "intake/entity"
)

// Handle is an open submission. Operations on one handle are serialized;
// once finalized, every further mutation panics.
type Handle struct {
	ID            uuid.UUID
	Subject       uuid.UUID
	HomeAssistant string

	sem       *semaphore.Weighted
	positions map[string]int
	devices   int
	entities  int
	malformed int
	finalized bool
}

func newHandle(p Payload, homeAssistant string) *Handle {
	return &Handle{
		ID:            p.ID,
		Subject:       p.Subject,
		HomeAssistant: homeAssistant,
		sem:           semaphore.NewWeighted(1),
		positions:     make(map[string]int),
	}
}

func (h *Handle) lock(ctx context.Context) error {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if h.finalized {
		h.sem.Release(1)
		panic(fmt.Sprintf("submission %s: handle used after finalize", h.ID))
	}
	return nil
}

func (h *Handle) unlock() {
	h.sem.Release(1)
}

// Counts returns the devices and entities attached so far and the number
// of items rejected as malformed. It waits for a running attach to finish
// and may be called after finalize.
func (h *Handle) Counts() (devices, entities, malformed int) {
	// Acquire only fails on a done context.
	_ = h.sem.Acquire(context.Background(), 1)
	defer h.sem.Release(1)
	return h.devices, h.entities, h.malformed
}

// AttachDevice stores d and its entities under integration. Every call
// takes the next position in the integration's device list, including
// calls rejecting a malformed device, so that links keep pointing at
// the intended device.
func (s *Service) AttachDevice(ctx context.Context, h *Handle, integration string, d Device) error {
	doc, err := d.document()
	if err != nil {
		return err
	}
	return s.attachDevice(ctx, h, integration, doc)
}

func (s *Service) attachDevice(ctx context.Context, h *Handle, integration string, doc []byte) error {
	if err := h.lock(ctx); err != nil {
		return err
	}
	defer h.unlock()

	position := h.positions[integration]
	h.positions[integration]++

	d, err := s.schema.decodeDevice(doc)
	if err != nil {
		h.malformed++
		metrics.SubmissionItemsTotal.WithLabelValues("device", metrics.Malformed).Inc()
		return fmt.Errorf("%w: device %s[%d]: %v", ErrMalformedItem, integration, position, err)
	}

	params, err := deviceParams(h.ID, integration, position, d)
	if err != nil {
		return err
	}

	err = s.sup.Begin(ctx, query.Write, func(ctx context.Context, tx *supervisor.Tx) error {
		row, err := tx.One(ctx, insertDevice.BindNamed(params).Tuples())
		if err != nil {
			return err
		}
		deviceID := row.(query.Tuple)[0]

		for _, e := range d.Entities {
			params, err := entityParams(h.ID, deviceID, integration, e)
			if err != nil {
				return err
			}
			if err := tx.Exec(ctx, insertEntity.BindNamed(params)); err != nil {
				return err
			}
		}
		return nil
	})
	metrics.SubmissionItemsTotal.WithLabelValues("device", outcome(err)).Inc()
	if err != nil {
		return fmt.Errorf("attach device %s[%d]: %w", integration, position, err)
	}

	h.devices++
	h.entities += len(d.Entities)
	return nil
}

// AttachEntity stores an entity that belongs to no device.
func (s *Service) AttachEntity(ctx context.Context, h *Handle, integration string, e Entity) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.attachEntity(ctx, h, integration, doc)
}

func (s *Service) attachEntity(ctx context.Context, h *Handle, integration string, doc []byte) error {
	if err := h.lock(ctx); err != nil {
		return err
	}
	defer h.unlock()

	e, err := s.schema.decodeEntity(doc)
	if err != nil {
		h.malformed++
		metrics.SubmissionItemsTotal.WithLabelValues("entity", metrics.Malformed).Inc()
		return fmt.Errorf("%w: entity of %s: %v", ErrMalformedItem, integration, err)
	}

	params, err := entityParams(h.ID, nil, integration, e)
	if err != nil {
		return err
	}
	err = s.sup.Exec(ctx, insertEntity.BindNamed(params))
	metrics.SubmissionItemsTotal.WithLabelValues("entity", outcome(err)).Inc()
	if err != nil {
		return fmt.Errorf("attach entity of %s: %w", integration, err)
	}

	h.entities++
	return nil
}

// Finalize resolves device links, marks the submission complete and
// announces it. ErrNotFound is returned when the submission was deleted
// in the meantime.
func (s *Service) Finalize(ctx context.Context, h *Handle) error {
	if err := h.lock(ctx); err != nil {
		return err
	}
	defer h.unlock()

	err := s.sup.Begin(ctx, query.Write, func(ctx context.Context, tx *supervisor.Tx) error {
		if err := tx.Exec(ctx, resolveLinks.Bind(h.ID.String())); err != nil {
			return err
		}
		row, err := tx.One(ctx, finalizeSubmission.Bind(s.codec.Now().Unix(), h.ID.String()))
		if err != nil {
			return err
		}
		if row == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, h.ID)
		}
		return nil
	})
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(metrics.Fail).Inc()
		return fmt.Errorf("finalize submission %s: %w", h.ID, err)
	}

	h.finalized = true
	metrics.SubmissionsTotal.WithLabelValues(metrics.Ok).Inc()
	s.log.Info("submission finalized",
		"id", h.ID, "subject", h.Subject,
		"devices", h.devices, "entities", h.entities, "malformed", h.malformed)

	if err := s.signal.Send(ctx, signal.Event{
		Kind: signal.KindSubmission,
		Submission: &signal.Submission{
			ID:            h.ID.String(),
			Subject:       h.Subject.String(),
			HomeAssistant: h.HomeAssistant,
			Devices:       h.devices,
			Entities:      h.entities,
			Malformed:     h.malformed,
		},
	}); err != nil {
		s.log.Warn("submission signal failed", "id", h.ID, "error", err)
	}
	return nil
}

func deviceParams(id uuid.UUID, integration string, position int, d Device) (map[string]any, error) {
	sw, err := d.swVersion()
	if err != nil {
		return nil, err
	}
	params := map[string]any{
		"submission_id":         id.String(),
		"integration":           integration,
		"position":              position,
		"manufacturer":          d.Manufacturer,
		"model_id":              d.ModelID,
		"model":                 d.Model,
		"sw_version":            sw,
		"hw_version":            d.HwVersion,
		"entry_type":            d.EntryType,
		"has_configuration_url": boolean(d.HasConfigurationURL),
		"via_integration":       nil,
		"via_position":          nil,
	}
	if d.ViaDevice != nil {
		params["via_integration"] = d.ViaDevice.Integration
		params["via_position"] = d.ViaDevice.Index
	}

	digest, err := canon.Digest(deviceDomain, map[string]any{
		"integration":           integration,
		"manufacturer":          d.Manufacturer,
		"model_id":              d.ModelID,
		"model":                 d.Model,
		"sw_version":            sw,
		"hw_version":            d.HwVersion,
		"entry_type":            d.EntryType,
		"has_configuration_url": d.HasConfigurationURL,
	})
	if err != nil {
		return nil, err
	}
	params["digest"] = digest
	return params, nil
}

func entityParams(id uuid.UUID, deviceID any, integration string, e Entity) (map[string]any, error) {
	digest, err := canon.Digest(entityDomain, struct {
		Integration string `json:"integration"`
		Entity
	}{integration, e})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"submission_id":         id.String(),
		"device_id":             deviceID,
		"integration":           integration,
		"domain":                e.Domain,
		"assumed_state":         nullableBoolean(e.AssumedState),
		"entity_category":       e.EntityCategory,
		"has_entity_name":       boolean(e.HasEntityName),
		"original_device_class": e.OriginalDeviceClass,
		"unit_of_measurement":   e.UnitOfMeasurement,
		"digest":                digest,
	}, nil
}
