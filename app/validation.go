package app

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schemas/records.cue
var recordSchemas []byte

// Validator checks record bodies against the CUE definitions in
// schemas/records.cue. A resource "fiscal-period" uses #fiscal_period.
type Validator struct {
	mu        sync.Mutex
	ctx       *cue.Context
	schema    cue.Value
	resources []string
}

// NewValidator compiles source, or the embedded schemas when source is nil.
func NewValidator(source []byte) (*Validator, error) {
	if source == nil {
		source = recordSchemas
	}
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(source)
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compiling record schemas: %w", err)
	}
	return &Validator{ctx: ctx, schema: schema, resources: schemaResources(schema)}, nil
}

func definitionName(resource string) string {
	return "#" + strings.ReplaceAll(resource, "-", "_")
}

// Resources lists the resources that have a schema, in their URL form.
func (v *Validator) Resources() []string {
	return slices.Clone(v.resources)
}

func (v *Validator) Known(resource string) bool {
	_, found := slices.BinarySearch(v.resources, resource)
	return found
}

func schemaResources(schema cue.Value) []string {
	iter, err := schema.Fields(cue.Definitions(true))
	if err != nil {
		return nil
	}
	var out []string
	for iter.Next() {
		if !iter.Selector().IsDefinition() {
			continue
		}
		name := strings.TrimPrefix(iter.Selector().String(), "#")
		// helper definitions like #status are not resources
		if !iter.Value().IncompleteKind().IsAnyOf(cue.StructKind) {
			continue
		}
		out = append(out, strings.ReplaceAll(name, "_", "-"))
	}
	slices.Sort(out)
	return out
}

// Validate checks body against the resource's definition. Failures come
// back as a validation *RemoteError with one FieldError per offending field.
func (v *Validator) Validate(resource string, body []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return NewValidationError("record must be a JSON object")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	def := v.schema.LookupPath(cue.MakePath(cue.Def(definitionName(resource))))
	if !def.Exists() {
		return NewNotFoundError(fmt.Sprintf("unknown resource %q", resource))
	}
	data := v.ctx.CompileBytes(body)
	if err := data.Err(); err != nil {
		return NewValidationError("record is not valid JSON")
	}
	err := def.Unify(data).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}
	return NewValidationError(fmt.Sprintf("invalid %s", resource), fieldErrors(err)...)
}

func fieldErrors(err error) []FieldError {
	var fields []FieldError
	seen := map[string]bool{}
	for _, e := range cueerrors.Errors(err) {
		var path []string
		for _, p := range e.Path() {
			if strings.HasPrefix(p, "#") {
				continue
			}
			path = append(path, p)
		}
		field := strings.Join(path, ".")
		if seen[field] {
			continue
		}
		seen[field] = true
		format, args := e.Msg()
		fields = append(fields, FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}
	return fields
}
