package generation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/specgate/internal/governance"
)

func fastRetry(attempts int) ClientOption {
	return WithRetry(RetryConfig{MaxAttempts: attempts, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond})
}

const validAuthority = `{
	"scope": ["auth"],
	"invariants": [{"id": "INV-1", "type": "FORBIDDEN_CAPABILITY", "value": "OAuth1"}],
	"eligible_items": ["login"],
	"rejected_items": [{"item": "sso", "reason": "out of budget"}],
	"open_gaps": []
}`

func authorityRequest() Request {
	return Request{
		Task:       TaskCompileAuthority,
		SchemaName: AuthoritySchemaName,
		Schema:     AuthoritySchema,
		Input:      map[string]any{"specification": "..."},
	}
}

func TestClient_RetriesUntilSchemaValid(t *testing.T) {
	calls := 0
	gen := GeneratorFunc(func(ctx context.Context, req Request) (json.RawMessage, error) {
		calls++
		if calls == 1 {
			return json.RawMessage(`{"scope": "not-an-array"}`), nil
		}
		return json.RawMessage(validAuthority), nil
	})

	out, err := NewClient(gen, fastRetry(3)).Generate(context.Background(), authorityRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.JSONEq(t, validAuthority, string(out))
}

func TestClient_SchemaMismatchAfterBudget(t *testing.T) {
	calls := 0
	gen := GeneratorFunc(func(ctx context.Context, req Request) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"invariants": [{"id": "x", "type": "WISHLIST", "value": "y"}]}`), nil
	})

	_, err := NewClient(gen, fastRetry(2)).Generate(context.Background(), authorityRequest())
	assert.True(t, errors.Is(err, governance.SchemaMismatch), "err = %v", err)
	assert.Equal(t, 2, calls)
}

func TestClient_GenerationErrorWrapped(t *testing.T) {
	gen := GeneratorFunc(func(ctx context.Context, req Request) (json.RawMessage, error) {
		return nil, errors.New("connection reset")
	})

	_, err := NewClient(gen, fastRetry(2)).Generate(context.Background(), authorityRequest())
	assert.True(t, errors.Is(err, governance.GenerationError), "err = %v", err)
}

func TestClient_UnavailableNotRetried(t *testing.T) {
	_, err := NewClient(nil, fastRetry(5)).Generate(context.Background(), authorityRequest())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, governance.GenerationError, governance.KindOf(err))
}

func TestClient_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	gen := GeneratorFunc(func(ctx context.Context, req Request) (json.RawMessage, error) {
		calls++
		cancel()
		return nil, errors.New("interrupted")
	})

	_, err := NewClient(gen, fastRetry(5)).Generate(ctx, authorityRequest())
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCheckSchema_NotJSON(t *testing.T) {
	err := CheckSchema(ArtifactSchemaName, ArtifactSchema, json.RawMessage("title: nope"))
	assert.True(t, errors.Is(err, governance.SchemaMismatch))
}

func TestCheckSchema_ArtifactAllowsEmptyCriteria(t *testing.T) {
	err := CheckSchema(ArtifactSchemaName, ArtifactSchema, json.RawMessage(`{"title": "Login", "fields": {"owner": "ana"}}`))
	assert.NoError(t, err)

	err = CheckSchema(ArtifactSchemaName, ArtifactSchema, json.RawMessage(`{"title": "Login", "fields": {"points": 3}}`))
	assert.True(t, errors.Is(err, governance.SchemaMismatch), "non-string field value should mismatch")
}

func TestFingerprint_StableAcrossMapOrder(t *testing.T) {
	a := Request{Task: TaskCompileAuthority, Input: map[string]any{"a": 1, "b": "x"}}
	b := Request{Task: TaskCompileAuthority, Input: map[string]any{"b": "x", "a": 1}}

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb)

	b.Task = TaskGenerateArtifact
	fc, _ := Fingerprint(b)
	assert.NotEqual(t, fa, fc)
}

func TestNewOpenAIGenerator_RequiresKey(t *testing.T) {
	_, err := NewOpenAIGenerator(OpenAIConfig{}, nil)
	assert.Error(t, err)

	g, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "sk-test"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", g.model)
}

func TestSystemPrompt_EmbedsSchema(t *testing.T) {
	p := systemPrompt(authorityRequest())
	assert.Contains(t, p, "FORBIDDEN_CAPABILITY")
	assert.Contains(t, p, "governance authority")
}
