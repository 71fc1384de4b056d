package gantry

import (
	"context"
	"encoding/json"

	"github.com/gantry-dev/gantry/application/schema"
	"github.com/gantry-dev/gantry/domain/entities"
	"github.com/gantry-dev/gantry/envelope"
)

// EnvelopeHandler is the raw handler form: whole params envelope in, whole
// result envelope out. Returned errors travel to the host as call errors.
type EnvelopeHandler func(ctx context.Context, params envelope.Envelope) (envelope.Envelope, error)

// HandleOption refines the capability a handler advertises.
type HandleOption func(*entities.Capability)

// WithDescription sets the capability description shown to host operators.
func WithDescription(desc string) HandleOption {
	return func(c *entities.Capability) {
		c.Description = desc
	}
}

// WithParamsSchema overrides the generated params schema.
func WithParamsSchema(raw json.RawMessage) HandleOption {
	return func(c *entities.Capability) {
		c.ParamsSchema = raw
	}
}

// WithReturnSchema overrides the generated return schema.
func WithReturnSchema(raw json.RawMessage) HandleOption {
	return func(c *entities.Capability) {
		c.ReturnSchema = raw
	}
}

// Handle registers a typed method handler. Params and return schemas are
// reflected from Req and Resp, so hosts can validate calls before they
// cross the boundary. Duplicate or empty names panic at registration.
func Handle[Req, Resp any](e *Extension, name string, fn func(ctx context.Context, req Req) (Resp, error), opts ...HandleOption) {
	c := entities.NewCapability(name)
	c.ParamsSchema = schemaFor(*new(Req))
	c.ReturnSchema = schemaFor(*new(Resp))
	for _, opt := range opts {
		opt(&c)
	}

	e.register(c, func(ctx context.Context, params envelope.Envelope) (envelope.Envelope, error) {
		req, err := envelope.AsJSON[Req](params)
		if err != nil {
			return envelope.Envelope{}, err
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return envelope.Envelope{}, err
		}
		return envelope.JSON(resp)
	})
}

// HandleEnvelope registers a raw handler for methods that carry non-JSON
// content or need header access. No schemas are generated; supply them
// through options when hosts should validate.
func (e *Extension) HandleEnvelope(name string, fn EnvelopeHandler, opts ...HandleOption) {
	c := entities.NewCapability(name)
	for _, opt := range opts {
		opt(&c)
	}
	e.register(c, fn)
}

// schemaFor reflects a JSON schema from a value. Interface zeros and
// field-less structs advertise no schema. Reflection failures are
// authoring bugs and panic at registration time.
func schemaFor(v any) json.RawMessage {
	raw, err := schema.Reflect(v)
	if err != nil {
		panic("gantry: reflect schema: " + err.Error())
	}
	return raw
}
