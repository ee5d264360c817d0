package ingest

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/danielhendel/oli-sub001/internal/model"
)

//go:embed schemas.cue
var schemasCUE []byte

// ErrNoSchema is returned for a kind and version without a schema.
var ErrNoSchema = errors.New("no payload schema")

// Schemas validates payloads against the embedded CUE definitions.
//
// Thread-safety: a cue.Context is not safe for concurrent use, so every
// validation holds the mutex.
type Schemas struct {
	mu   sync.Mutex
	ctx  *cue.Context
	root cue.Value
}

// LoadSchemas compiles the embedded definitions.
func LoadSchemas() (*Schemas, error) {
	ctx := cuecontext.New()
	root := ctx.CompileBytes(schemasCUE, cue.Filename("schemas.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile payload schemas: %w", err)
	}
	return &Schemas{ctx: ctx, root: root}, nil
}

// Has reports whether a schema exists for kind at version.
func (s *Schemas) Has(kind model.Kind, version int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.definition(kind, version).Exists()
}

// Validate checks a JSON payload against the schema of kind at version.
func (s *Schemas) Validate(kind model.Kind, version int, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	def := s.definition(kind, version)
	if !def.Exists() {
		return fmt.Errorf("%w for %s v%d", ErrNoSchema, kind, version)
	}

	v := s.ctx.CompileBytes(payload, cue.Filename("payload.json"))
	if err := v.Err(); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}

func (s *Schemas) definition(kind model.Kind, version int) cue.Value {
	return s.root.LookupPath(cue.ParsePath(fmt.Sprintf("#%s_v%d", kind, version)))
}
