package envelope_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-dev/gantry/envelope"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		env  envelope.Envelope
	}{
		{
			name: "zero envelope",
			env:  envelope.Envelope{},
		},
		{
			name: "json content with full header",
			env: envelope.Envelope{
				Header: envelope.Header{
					Seqnum:    42,
					SessionID: "sess-1",
					Kind:      "update",
				},
				ContentType: envelope.ContentTypeJSON,
				Content:     []byte(`{"msg":"hi"}`),
			},
		},
		{
			name: "unknown content type passes through",
			env: envelope.Envelope{
				Header:      envelope.Header{Seqnum: 7},
				ContentType: "application/x-custom-ir",
				Content:     []byte{0x00, 0x01, 0xff, 0xfe},
			},
		},
		{
			name: "empty content non-empty type",
			env: envelope.Envelope{
				ContentType: "text/plain",
				Content:     []byte{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := envelope.Encode(tt.env)
			require.NoError(t, err)

			got, err := envelope.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.env, got)
		})
	}
}

func TestDecodeRejectsMalformedBytes(t *testing.T) {
	_, err := envelope.Decode([]byte("{not json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestJSONHelperSetsContentType(t *testing.T) {
	type payload struct {
		Msg string `json:"msg"`
	}

	env, err := envelope.JSON(payload{Msg: "hi"})
	require.NoError(t, err)
	assert.Equal(t, envelope.ContentTypeJSON, env.ContentType)
	assert.JSONEq(t, `{"msg":"hi"}`, string(env.Content))

	got, err := envelope.AsJSON[payload](env)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Msg)
}

func TestAsJSONRejectsWrongContentType(t *testing.T) {
	env := envelope.New("application/octet-stream", []byte(`{"msg":"hi"}`))

	_, err := envelope.AsJSON[map[string]string](env)
	require.ErrorIs(t, err, envelope.ErrContentType)
}

func TestWithHelpersDoNotMutateReceiver(t *testing.T) {
	base := envelope.New(envelope.ContentTypeJSON, []byte(`1`))

	modified := base.WithSeqnum(9).WithSession("s").WithKind("init")

	assert.Equal(t, uint64(0), base.Header.Seqnum)
	assert.Empty(t, base.Header.SessionID)
	assert.Equal(t, uint64(9), modified.Header.Seqnum)
	assert.Equal(t, "s", modified.Header.SessionID)
	assert.Equal(t, "init", modified.Header.Kind)
}

func TestNewSessionIDIsUnique(t *testing.T) {
	a := envelope.NewSessionID()
	b := envelope.NewSessionID()
	require.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
