package validator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mcpcore/internal/jsonrpc"
)

func TestValidateEnvelope_Valid(t *testing.T) {
	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: "tools/call"}
	res := ValidateEnvelope(req)
	assert.Equal(t, Valid, res.Verdict())
}

func TestValidateEnvelope_WrongVersion(t *testing.T) {
	req := &jsonrpc.Request{JSONRPC: "1.0", Method: "tools/call"}
	res := ValidateEnvelope(req)
	assert.Equal(t, Invalid, res.Verdict())
	assert.Equal(t, "jsonrpc", res.Issues[0].Path)
}

func TestValidateEnvelope_EmptyMethod(t *testing.T) {
	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: ""}
	res := ValidateEnvelope(req)
	assert.Equal(t, Invalid, res.Verdict())
	assert.Equal(t, "method", res.Issues[0].Path)
}

const toolCallSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"arguments": {"type": "object"}
	},
	"required": ["name"]
}`

func TestSchemaValidator_RegisterAndValidate(t *testing.T) {
	v := NewSchemaValidator()
	require.NoError(t, v.RegisterSchema("tools/call", json.RawMessage(toolCallSchema)))

	res := v.ValidateParams("tools/call", map[string]interface{}{"name": "echo"})
	assert.Equal(t, Valid, res.Verdict())
}

func TestSchemaValidator_MissingRequiredField(t *testing.T) {
	v := NewSchemaValidator()
	require.NoError(t, v.RegisterSchema("tools/call", json.RawMessage(toolCallSchema)))

	res := v.ValidateParams("tools/call", map[string]interface{}{"arguments": map[string]interface{}{}})
	assert.Equal(t, Invalid, res.Verdict())
	assert.Equal(t, "params", res.Issues[0].Path)
}

func TestSchemaValidator_UnregisteredMethodAlwaysValid(t *testing.T) {
	v := NewSchemaValidator()
	res := v.ValidateParams("unknown/method", map[string]interface{}{"anything": true})
	assert.Equal(t, Valid, res.Verdict())
}

func TestSchemaValidator_WrongType(t *testing.T) {
	v := NewSchemaValidator()
	require.NoError(t, v.RegisterSchema("tools/call", json.RawMessage(toolCallSchema)))

	res := v.ValidateParams("tools/call", map[string]interface{}{"name": 42})
	assert.Equal(t, Invalid, res.Verdict())
}
