package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/intake/internal/metrics"
	"github.com/roach88/intake/internal/voucher"
)

// Version is the only submission format accepted by Ingest.
const Version = "home-assistant:1"

// Ingest streams a submission body into h:
//
//	{
//	  "version": "home-assistant:1",
//	  "home_assistant": "2024.5.0",
//	  "integrations": {
//	    "<integration>": {"devices": [...], "entities": [...]}
//	  }
//	}
//
// Items are attached as they are decoded. Malformed items are counted and
// skipped; a body that is not valid JSON of this shape fails with
// ErrMalformedSubmission, leaving the items attached so far in place.
func (s *Service) Ingest(ctx context.Context, h *Handle, r io.Reader) error {
	dec := json.NewDecoder(r)

	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		key, err := objectKey(dec)
		if err != nil {
			return err
		}
		switch key {
		case "version":
			var version string
			if err := dec.Decode(&version); err != nil {
				return malformed(err)
			}
			if version != Version {
				return fmt.Errorf("%w: unsupported version %q", ErrMalformedSubmission, version)
			}
		case "integrations":
			if err := s.ingestIntegrations(ctx, h, dec); err != nil {
				return err
			}
		default:
			if err := skip(dec); err != nil {
				return err
			}
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: trailing data", ErrMalformedSubmission)
	}
	return nil
}

func (s *Service) ingestIntegrations(ctx context.Context, h *Handle, dec *json.Decoder) error {
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		integration, err := objectKey(dec)
		if err != nil {
			return err
		}
		if err := expectDelim(dec, '{'); err != nil {
			return err
		}
		for dec.More() {
			key, err := objectKey(dec)
			if err != nil {
				return err
			}
			switch key {
			case "devices":
				err = s.ingestItems(ctx, h, dec, integration, s.attachDevice)
			case "entities":
				err = s.ingestItems(ctx, h, dec, integration, s.attachEntity)
			default:
				err = skip(dec)
			}
			if err != nil {
				return err
			}
		}
		if err := expectDelim(dec, '}'); err != nil {
			return err
		}
	}
	return expectDelim(dec, '}')
}

type attachFunc func(ctx context.Context, h *Handle, integration string, doc []byte) error

func (s *Service) ingestItems(ctx context.Context, h *Handle, dec *json.Decoder, integration string, attach attachFunc) error {
	if err := expectDelim(dec, '['); err != nil {
		return err
	}
	for dec.More() {
		var doc json.RawMessage
		if err := dec.Decode(&doc); err != nil {
			return malformed(err)
		}
		err := attach(ctx, h, integration, doc)
		if errors.Is(err, ErrMalformedItem) {
			s.log.Warn("malformed item", "id", h.ID, "subject", h.Subject, "error", err)
			continue
		}
		if err != nil {
			return err
		}
	}
	return expectDelim(dec, ']')
}

// Submit runs a whole submission: it resumes or starts the voucher chain,
// ingests body and finalizes. The identifier for the installation's next
// submission is returned. A failed submission is deleted.
func (s *Service) Submit(ctx context.Context, identifier, homeAssistant string, body io.Reader) (string, error) {
	var (
		v   voucher.Voucher[Payload]
		err error
	)
	if identifier == "" {
		v, err = s.Initial()
	} else {
		v, err = s.Resume(identifier)
	}
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(metrics.Malformed).Inc()
		return "", err
	}

	h, err := s.Create(ctx, v, homeAssistant)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(outcome(err)).Inc()
		return "", err
	}

	if err := s.Ingest(ctx, h, body); err != nil {
		metrics.SubmissionsTotal.WithLabelValues(outcome(err)).Inc()
		s.log.Warn("submission failed", "id", h.ID, "subject", h.Subject, "error", err)
		if derr := s.Delete(context.WithoutCancel(ctx), h.ID); derr != nil {
			return "", errors.Join(err, derr)
		}
		return "", err
	}
	if err := s.Finalize(ctx, h); err != nil {
		return "", err
	}

	next, err := s.Subsequent(v)
	if err != nil {
		return "", err
	}
	return s.Serialize(next)
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformedSubmission, err)
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return malformed(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %s, got %v", ErrMalformedSubmission, want, tok)
	}
	return nil
}

func objectKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", malformed(err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected object key, got %v", ErrMalformedSubmission, tok)
	}
	return key, nil
}

func skip(dec *json.Decoder) error {
	var discard json.RawMessage
	if err := dec.Decode(&discard); err != nil {
		return malformed(err)
	}
	return nil
}
