// Package jsonrpc implements the JSON-RPC 2.0 message envelope: requests,
// responses, notifications, batches, and the tagged-union message id the
// wire format requires.
package jsonrpc

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"mcpcore/internal/errs"
)

// Version is the only JSON-RPC version this runtime speaks.
const Version = "2.0"

// IDKind tags which concrete type an ID carries, mirroring turbomcp's
// MessageId enum (String/Number/Uuid).
type IDKind int

const (
	IDNone IDKind = iota
	IDString
	IDNumber
	IDUUID
)

// ID is a tagged union over the three id shapes the MCP wire format allows.
// Zero value is IDNone, used for notifications (which carry no id).
type ID struct {
	Kind IDKind
	Str  string
	Num  int64
	UUID uuid.UUID
}

// NewStringID builds a string-kind ID.
func NewStringID(s string) ID { return ID{Kind: IDString, Str: s} }

// NewNumberID builds a number-kind ID.
func NewNumberID(n int64) ID { return ID{Kind: IDNumber, Num: n} }

// NewUUIDID builds a uuid-kind ID, generating a random v4 uuid.
func NewUUIDID() ID { return ID{Kind: IDUUID, UUID: uuid.New()} }

// IsZero reports whether this ID carries no value (a notification's ID).
func (id ID) IsZero() bool { return id.Kind == IDNone }

// Equal reports whether two IDs carry the same kind and value.
func (id ID) Equal(other ID) bool {
	if id.Kind != other.Kind {
		return false
	}
	switch id.Kind {
	case IDString:
		return id.Str == other.Str
	case IDNumber:
		return id.Num == other.Num
	case IDUUID:
		return id.UUID == other.UUID
	default:
		return true
	}
}

func (id ID) String() string {
	switch id.Kind {
	case IDString:
		return id.Str
	case IDNumber:
		return fmt.Sprintf("%d", id.Num)
	case IDUUID:
		return id.UUID.String()
	default:
		return ""
	}
}

// MarshalJSON renders the ID as whichever bare JSON value its kind implies:
// a JSON string, a JSON number, or (for uuid ids) a JSON string.
func (id ID) MarshalJSON() ([]byte, error) {
	switch id.Kind {
	case IDString:
		return json.Marshal(id.Str)
	case IDNumber:
		return json.Marshal(id.Num)
	case IDUUID:
		return json.Marshal(id.UUID.String())
	default:
		return json.Marshal(nil)
	}
}

// UnmarshalJSON accepts a bare JSON string, number, or null and infers the
// ID kind from the JSON type actually on the wire — the same untagged-union
// decoding turbomcp's serde(untagged) MessageId performs.
func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ID{}
		return nil
	}

	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if u, err := uuid.Parse(asString); err == nil {
			*id = ID{Kind: IDUUID, UUID: u}
			return nil
		}
		*id = ID{Kind: IDString, Str: asString}
		return nil
	}

	var asNumber json.Number
	if err := json.Unmarshal(data, &asNumber); err == nil {
		n, err := asNumber.Int64()
		if err != nil {
			return fmt.Errorf("jsonrpc: id %q is not an integer: %w", asNumber, err)
		}
		*id = ID{Kind: IDNumber, Num: n}
		return nil
	}

	return fmt.Errorf("jsonrpc: id must be a string, number, or null, got %s", data)
}

// Request is a JSON-RPC call that expects a Response. A Request with a zero
// ID is, by construction elsewhere in this package, promoted to a
// Notification instead — ID is always meaningful on a Request value that
// reaches the wire.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      ID          `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Notification is a Request with no ID: the caller does not want a Response.
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response carries exactly one of Result or Error, never both and never
// neither — enforced by Validate and by the constructors below.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      ID          `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *errs.Error `json:"error,omitempty"`
}

// NewResult builds a successful Response.
func NewResult(id ID, result interface{}) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// NewError builds a failed Response.
func NewError(id ID, err *errs.Error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: err}
}

// Validate enforces the exactly-one-of invariant required of every Response
// (spec invariant: a response carries result xor error, never both, never
// neither).
func (r *Response) Validate() error {
	if r.JSONRPC != Version {
		return fmt.Errorf("jsonrpc: response version must be %q, got %q", Version, r.JSONRPC)
	}
	hasResult := r.Result != nil
	hasError := r.Error != nil
	if hasResult == hasError {
		return fmt.Errorf("jsonrpc: response must carry exactly one of result or error")
	}
	return nil
}

// Validate enforces the request invariants: correct version, non-empty method.
func (r *Request) Validate() error {
	if r.JSONRPC != Version {
		return fmt.Errorf("jsonrpc: request version must be %q, got %q", Version, r.JSONRPC)
	}
	if r.Method == "" {
		return fmt.Errorf("jsonrpc: request method must not be empty")
	}
	return nil
}

// Batch is an ordered collection of requests and/or notifications sent as a
// single JSON array, per the JSON-RPC 2.0 batch extension.
type Batch struct {
	Requests      []*Request
	Notifications []*Notification
	// order records the position of each entry as (isRequest, index) so a
	// BatchResponse can be re-assembled in the same order the caller sent.
	order []batchEntry
}

type batchEntry struct {
	isRequest bool
	index     int
}

// AddRequest appends a request to the batch, preserving call order.
func (b *Batch) AddRequest(r *Request) {
	b.order = append(b.order, batchEntry{isRequest: true, index: len(b.Requests)})
	b.Requests = append(b.Requests, r)
}

// AddNotification appends a notification to the batch, preserving call order.
func (b *Batch) AddNotification(n *Notification) {
	b.order = append(b.order, batchEntry{isRequest: false, index: len(b.Notifications)})
	b.Notifications = append(b.Notifications, n)
}

// Len returns the number of entries (requests + notifications) in the batch.
func (b *Batch) Len() int { return len(b.order) }

// Ordered returns every entry in the batch, request and notification alike,
// as *Request or *Notification values in their original call order — the
// shape a dispatcher needs to respond in the same order the batch arrived.
func (b *Batch) Ordered() []interface{} {
	items := make([]interface{}, 0, len(b.order))
	for _, e := range b.order {
		if e.isRequest {
			items = append(items, b.Requests[e.index])
		} else {
			items = append(items, b.Notifications[e.index])
		}
	}
	return items
}

// ParseBatchOrSingle inspects the raw JSON and returns either a single
// Request/Notification wrapped in a one-element Batch, or the full batch,
// matching the JSON-RPC 2.0 rule that the top-level value may be either an
// object or an array.
func ParseBatchOrSingle(data []byte) (*Batch, error) {
	trimmed := trimLeadingSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("jsonrpc: empty message")
	}

	batch := &Batch{}
	if trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("jsonrpc: invalid batch: %w", err)
		}
		if len(raw) == 0 {
			return nil, fmt.Errorf("jsonrpc: batch must not be empty")
		}
		for _, item := range raw {
			if err := appendEntry(batch, item); err != nil {
				return nil, err
			}
		}
		return batch, nil
	}

	if err := appendEntry(batch, trimmed); err != nil {
		return nil, err
	}
	return batch, nil
}

func appendEntry(batch *Batch, raw json.RawMessage) error {
	var probe struct {
		ID     *json.RawMessage `json:"id"`
		Method string           `json:"method"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("jsonrpc: invalid message: %w", err)
	}
	if probe.ID == nil {
		var n Notification
		if err := json.Unmarshal(raw, &n); err != nil {
			return fmt.Errorf("jsonrpc: invalid notification: %w", err)
		}
		batch.AddNotification(&n)
		return nil
	}
	var r Request
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("jsonrpc: invalid request: %w", err)
	}
	batch.AddRequest(&r)
	return nil
}

func trimLeadingSpace(data []byte) []byte {
	i := 0
	for i < len(data) {
		switch data[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return data[i:]
}
