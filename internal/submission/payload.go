package submission

import (
	"errors"

	"github.com/google/uuid"
)

// Payload is carried by submission vouchers. ID names one submission;
// Subject stays the same across the submissions of one installation.
type Payload struct {
	ID      uuid.UUID `json:"id"`
	Subject uuid.UUID `json:"sub"`
}

// Validate implements voucher.Validator.
func (p Payload) Validate() error {
	if p.ID == uuid.Nil {
		return errors.New("submission id is nil")
	}
	if p.Subject == uuid.Nil {
		return errors.New("submission subject is nil")
	}
	return nil
}
