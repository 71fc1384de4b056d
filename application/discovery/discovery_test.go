package discovery_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-dev/gantry/application/discovery"
	"github.com/gantry-dev/gantry/domain/entities"
	domerrors "github.com/gantry-dev/gantry/domain/errors"
)

func newPipeline(t *testing.T) *discovery.Pipeline {
	t.Helper()
	p, err := discovery.NewPipeline("1.2.0")
	require.NoError(t, err)
	return p
}

func TestNewPipeline_InvalidHostVersion(t *testing.T) {
	_, err := discovery.NewPipeline("not-a-version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid host version")
}

func TestDecodeInitializeResult(t *testing.T) {
	p := newPipeline(t)

	t.Run("ready with manifest", func(t *testing.T) {
		raw := []byte(`{
			"status": "ready",
			"info": {
				"name": "markdown-tools",
				"version": "1.4.2",
				"extension_type": "transform",
				"min_sdk_version": "1.0.0",
				"flags": {"program": true}
			}
		}`)

		manifest, err := p.DecodeInitializeResult(raw)
		require.NoError(t, err)
		assert.Equal(t, "markdown-tools", manifest.Name)
		assert.Equal(t, "1.4.2", manifest.Version)
		assert.Equal(t, entities.ExtensionTypeTransform, manifest.Type)
		assert.True(t, manifest.Flags.Program)
	})

	t.Run("ready without manifest", func(t *testing.T) {
		manifest, err := p.DecodeInitializeResult([]byte(`{"status": "ready"}`))
		require.NoError(t, err)
		assert.Empty(t, manifest.Name)
	})

	t.Run("status not ready", func(t *testing.T) {
		_, err := p.DecodeInitializeResult([]byte(`{"status": "starting"}`))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domerrors.ErrInitializationFailed))
		assert.Contains(t, err.Error(), `status "starting"`)
	})

	t.Run("malformed reply", func(t *testing.T) {
		_, err := p.DecodeInitializeResult([]byte(`{status`))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domerrors.ErrSerialization))
	})

	t.Run("malformed manifest", func(t *testing.T) {
		_, err := p.DecodeInitializeResult([]byte(`{"status": "ready", "info": [1, 2]}`))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domerrors.ErrSerialization))
	})
}

func TestDecodeInitializeResult_VersionFloor(t *testing.T) {
	p := newPipeline(t)

	tests := []struct {
		name    string
		min     string
		wantErr string
	}{
		{"below host", "1.0.0", ""},
		{"equal to host", "1.2.0", ""},
		{"above host", "2.0.0", "requires SDK 2.0.0 or newer, host has 1.2.0"},
		{"unparseable", "latest", `invalid min_sdk_version "latest"`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := []byte(`{"status": "ready", "info": {"name": "x", "min_sdk_version": "` + tc.min + `"}}`)

			_, err := p.DecodeInitializeResult(raw)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, domerrors.ErrInitializationFailed))
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestDecodeCapabilities(t *testing.T) {
	p := newPipeline(t)

	t.Run("valid list with schemas", func(t *testing.T) {
		raw := []byte(`[
			{
				"name": "render",
				"description": "Render markdown to HTML",
				"params_schema": {"type": "object", "required": ["text"], "properties": {"text": {"type": "string"}}}
			},
			{"name": "lint"}
		]`)

		caps, index, err := p.DecodeCapabilities(raw)
		require.NoError(t, err)
		require.Len(t, caps, 2)
		assert.Equal(t, []string{"render", "lint"}, entities.CapabilityNames(caps))
		assert.True(t, index.HasParamsSchema("render"))
		assert.False(t, index.HasParamsSchema("lint"))
	})

	t.Run("empty list", func(t *testing.T) {
		_, _, err := p.DecodeCapabilities([]byte(`[]`))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domerrors.ErrInitializationFailed))
		assert.Contains(t, err.Error(), "no capabilities")
	})

	t.Run("empty name", func(t *testing.T) {
		_, _, err := p.DecodeCapabilities([]byte(`[{"name": ""}]`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty name")
	})

	t.Run("duplicate names", func(t *testing.T) {
		_, _, err := p.DecodeCapabilities([]byte(`[{"name": "render"}, {"name": "render"}]`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `duplicate capability "render"`)
	})

	t.Run("malformed reply", func(t *testing.T) {
		_, _, err := p.DecodeCapabilities([]byte(`{"name": "render"}`))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domerrors.ErrSerialization))
	})

	t.Run("malformed schema fails load", func(t *testing.T) {
		raw := []byte(`[{"name": "render", "params_schema": {"type": 12}}]`)

		_, _, err := p.DecodeCapabilities(raw)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domerrors.ErrInitializationFailed))
		assert.Contains(t, err.Error(), `capability "render"`)
	})

	t.Run("malformed return schema fails load", func(t *testing.T) {
		raw := []byte(`[{"name": "render", "return_schema": {"required": "nope"}}]`)

		_, _, err := p.DecodeCapabilities(raw)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "return schema")
	})
}

func TestSchemaIndex_ValidateParams(t *testing.T) {
	p := newPipeline(t)

	raw := []byte(`[{
		"name": "render",
		"params_schema": {"type": "object", "required": ["text"], "properties": {"text": {"type": "string"}}}
	}]`)
	_, index, err := p.DecodeCapabilities(raw)
	require.NoError(t, err)

	t.Run("valid params", func(t *testing.T) {
		err := index.ValidateParams("render", []byte(`{"text": "# Title"}`))
		assert.NoError(t, err)
	})

	t.Run("schema violation", func(t *testing.T) {
		err := index.ValidateParams("render", []byte(`{"text": 42}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `method "render"`)
	})

	t.Run("missing required field", func(t *testing.T) {
		err := index.ValidateParams("render", []byte(`{}`))
		require.Error(t, err)
	})

	t.Run("method without schema accepts anything", func(t *testing.T) {
		assert.NoError(t, index.ValidateParams("lint", []byte(`"whatever"`)))
	})

	t.Run("params not json", func(t *testing.T) {
		err := index.ValidateParams("render", []byte(`{broken`))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domerrors.ErrSerialization))
	})

	t.Run("nil index accepts anything", func(t *testing.T) {
		var nilIndex *discovery.SchemaIndex
		assert.NoError(t, nilIndex.ValidateParams("render", []byte(`{}`)))
	})
}
