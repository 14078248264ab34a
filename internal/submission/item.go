package submission

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Device is a device reported by one integration, with the entities
// belonging to it.
type Device struct {
	Entities            []Entity        `json:"entities"`
	EntryType           *string         `json:"entry_type"`
	HasConfigurationURL bool            `json:"has_configuration_url"`
	HwVersion           *string         `json:"hw_version"`
	Manufacturer        *string         `json:"manufacturer"`
	ModelID             *string         `json:"model_id"`
	Model               *string         `json:"model"`
	SwVersion           json.RawMessage `json:"sw_version"`
	ViaDevice           *Link           `json:"via_device"`
}

// Entity is an entity, either owned by a device or reported on its own.
type Entity struct {
	AssumedState        *bool   `json:"assumed_state"`
	Domain              string  `json:"domain"`
	EntityCategory      *string `json:"entity_category"`
	HasEntityName       bool    `json:"has_entity_name"`
	OriginalDeviceClass *string `json:"original_device_class"`
	UnitOfMeasurement   *string `json:"unit_of_measurement"`
}

// Link references a device by integration and its index in that
// integration's device list. It is encoded as a two element array.
type Link struct {
	Integration string
	Index       int
}

// MarshalJSON implements json.Marshaler.
func (l Link) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{l.Integration, l.Index})
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Link) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("link: expected 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &l.Integration); err != nil {
		return fmt.Errorf("link integration: %w", err)
	}
	if err := json.Unmarshal(pair[1], &l.Index); err != nil {
		return fmt.Errorf("link index: %w", err)
	}
	return nil
}

// document encodes d for validation. A nil entity list is encoded as
// empty, and a missing software version as null.
func (d Device) document() ([]byte, error) {
	if d.Entities == nil {
		d.Entities = []Entity{}
	}
	if len(d.SwVersion) == 0 {
		d.SwVersion = json.RawMessage("null")
	}
	return json.Marshal(d)
}

// swVersion renders the software version as stored text: strings
// unquoted, numbers and lists in compact JSON, null as nil.
func (d Device) swVersion() (*string, error) {
	raw := bytes.TrimSpace(d.SwVersion)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return &s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	s := buf.String()
	return &s, nil
}
