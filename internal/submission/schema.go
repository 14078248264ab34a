package submission

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSource string

// schema validates raw items against the embedded CUE definitions.
// A cue.Context is not safe for concurrent use, so every evaluation holds mu.
type schema struct {
	mu     sync.Mutex
	ctx    *cue.Context
	device cue.Value
	entity cue.Value
}

func compileSchema() (*schema, error) {
	ctx := cuecontext.New()
	value := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	s := &schema{ctx: ctx}
	for name, dst := range map[string]*cue.Value{"#Device": &s.device, "#Entity": &s.entity} {
		def := value.LookupPath(cue.ParsePath(name))
		if !def.Exists() {
			return nil, fmt.Errorf("schema: definition %s not found", name)
		}
		*dst = def
	}
	return s, nil
}

func (s *schema) validate(def cue.Value, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value := s.ctx.CompileBytes(doc)
	if err := value.Err(); err != nil {
		return err
	}
	return def.Unify(value).Validate(cue.Concrete(true))
}

// decodeDevice validates doc as a #Device and decodes it.
func (s *schema) decodeDevice(doc []byte) (Device, error) {
	var d Device
	if err := s.validate(s.device, doc); err != nil {
		return d, err
	}
	err := json.Unmarshal(doc, &d)
	return d, err
}

// decodeEntity validates doc as an #Entity and decodes it.
func (s *schema) decodeEntity(doc []byte) (Entity, error) {
	var e Entity
	if err := s.validate(s.entity, doc); err != nil {
		return e, err
	}
	err := json.Unmarshal(doc, &e)
	return e, err
}
