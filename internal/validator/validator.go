// Package validator validates inbound JSON-RPC/MCP messages against both
// the wire-level envelope invariants and an optional JSON Schema for a
// method's params, accumulating path-aware errors instead of failing fast.
//
// Grounded on go-claw's internal/engine/structured.go StructuredValidator
// (jsonschema.UnmarshalJSON + compiler usage), extended with the
// envelope-level checks the teacher's handleRequest performs inline
// (jsonrpc == "2.0", method != "").
package validator

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"mcpcore/internal/jsonrpc"
)

// Severity distinguishes a hard failure from an advisory warning.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

// Issue is one validation finding, path-aware so a caller can point a user
// at exactly which field is wrong.
type Issue struct {
	Path     string
	Message  string
	Severity Severity
}

// Result is the outcome of validating one message.
type Result struct {
	Issues []Issue
}

// Verdict summarizes a Result for quick branching: Valid (no issues at
// all), ValidWithWarnings (only SeverityWarning issues), or Invalid (at
// least one SeverityError issue).
type Verdict int

const (
	Valid Verdict = iota
	ValidWithWarnings
	Invalid
)

// Verdict computes the overall verdict from a Result's issues.
func (r *Result) Verdict() Verdict {
	hasWarning := false
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			return Invalid
		}
		hasWarning = true
	}
	if hasWarning {
		return ValidWithWarnings
	}
	return Valid
}

func (r *Result) addError(path, format string, args ...interface{}) {
	r.Issues = append(r.Issues, Issue{Path: path, Message: fmt.Sprintf(format, args...), Severity: SeverityError})
}

func (r *Result) addWarning(path, format string, args ...interface{}) {
	r.Issues = append(r.Issues, Issue{Path: path, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning})
}

// ValidateEnvelope checks the JSON-RPC envelope invariants of a Request
// that don't depend on any particular method's schema: correct version,
// non-empty method.
func ValidateEnvelope(req *jsonrpc.Request) *Result {
	res := &Result{}
	if req.JSONRPC != jsonrpc.Version {
		res.addError("jsonrpc", "must be %q, got %q", jsonrpc.Version, req.JSONRPC)
	}
	if req.Method == "" {
		res.addError("method", "must not be empty")
	}
	return res
}

// SchemaValidator validates a method's params against a compiled JSON
// Schema, by method name.
type SchemaValidator struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewSchemaValidator builds an empty SchemaValidator; register schemas with
// RegisterSchema.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{schemas: make(map[string]*jsonschema.Schema)}
}

// RegisterSchema compiles schemaJSON and associates it with method, so
// subsequent ValidateParams(method, ...) calls check against it.
func (v *SchemaValidator) RegisterSchema(method string, schemaJSON json.RawMessage) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return fmt.Errorf("validator: unmarshal schema for %q: %w", method, err)
	}
	compiler := jsonschema.NewCompiler()
	resourceName := "schema-" + method + ".json"
	if err := compiler.AddResource(resourceName, doc); err != nil {
		return fmt.Errorf("validator: add schema resource for %q: %w", method, err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("validator: compile schema for %q: %w", method, err)
	}
	v.mu.Lock()
	v.schemas[method] = schema
	v.mu.Unlock()
	return nil
}

// ValidateParams checks params against the schema registered for method. A
// method with no registered schema always validates successfully (schemas
// are opt-in per method).
func (v *SchemaValidator) ValidateParams(method string, params interface{}) *Result {
	res := &Result{}
	v.mu.RLock()
	schema, ok := v.schemas[method]
	v.mu.RUnlock()
	if !ok {
		return res
	}

	raw, err := json.Marshal(params)
	if err != nil {
		res.addError("params", "could not encode params for validation: %s", err)
		return res
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		res.addError("params", "invalid JSON: %s", err)
		return res
	}
	if err := schema.Validate(doc); err != nil {
		res.addError("params", "%s", err)
	}
	return res
}
