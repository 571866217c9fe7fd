// Package generation adapts the external, non-deterministic generation
// capability. Everything it returns is untrusted until a deterministic
// component (schema check, compiler, validation gate) has accepted it.
package generation

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/HendryAvila/specgate/internal/governance"
)

// Task names what a generation call is for.
type Task string

const (
	TaskCompileAuthority Task = "compile_authority"
	TaskGenerateArtifact Task = "generate_artifact"
)

// Request is one call to the generation capability.
type Request struct {
	Task       Task           `json:"task"`
	SchemaName string         `json:"schema_name"`
	Schema     string         `json:"schema"`
	Input      map[string]any `json:"input"`
}

// Generator produces a JSON document for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (json.RawMessage, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (json.RawMessage, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}

// Fingerprint returns the canonical hash of a request. Two requests with
// the same task, schema and input share a fingerprint.
func Fingerprint(req Request) (string, error) {
	return governance.CanonicalHash(req)
}

// ErrNotConfigured is wrapped by errors from Unavailable. It is never
// retried.
var ErrNotConfigured = errors.New("no generation provider configured")

// Unavailable is the generator used when no provider is configured.
// Every call fails with GenerationError.
var Unavailable Generator = GeneratorFunc(func(ctx context.Context, req Request) (json.RawMessage, error) {
	return nil, &governance.Error{Kind: governance.GenerationError, Op: "generation", Msg: string(req.Task), Err: ErrNotConfigured}
})
