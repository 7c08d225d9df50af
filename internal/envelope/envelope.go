// Package envelope implements the transport-agnostic message envelope: a
// Message wraps a string id, metadata, and a Payload that may be JSON,
// binary (MessagePack/CBOR/custom), text, or empty. Serializer negotiates
// which wire format to use and applies a compression hook above a
// configurable size threshold.
//
// Grounded on turbomcp's crates/turbomcp-core/src/message.rs: the
// Message/MessagePayload/MessageSerializer split there is carried over
// verbatim in shape, translated into Go's explicit-error, interface-based
// idiom instead of Rust enums.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Format identifies the wire encoding of a binary payload.
type Format int

const (
	FormatJSON Format = iota
	FormatMessagePack
	FormatCBOR
	FormatCustom
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatMessagePack:
		return "msgpack"
	case FormatCBOR:
		return "cbor"
	case FormatCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Metadata carries bookkeeping about a Message that the envelope itself
// needs but which is not part of the MCP/JSON-RPC payload proper.
type Metadata struct {
	CreatedAt       time.Time
	ProtocolVersion string
	Encoding        Format
	ContentType     string
	Size            int
	CorrelationID   string
	Headers         map[string]string
}

// Payload is implemented by each concrete payload kind. A Message holds
// exactly one Payload at a time.
type Payload interface {
	isPayload()
	// Bytes returns the payload's canonical byte representation without
	// reinterpreting it — the raw bytes for Binary/Text, the raw JSON for
	// JSON (falling back to marshaling Parsed if Raw is unset).
	Bytes() ([]byte, error)
}

// JSONPayload holds a JSON-encoded body. Raw is the bytes as received;
// Parsed is filled in lazily by ParseJSON and cached for subsequent calls,
// mirroring turbomcp's JsonPayload{raw, parsed, is_valid}.
type JSONPayload struct {
	Raw     []byte
	Parsed  interface{}
	IsValid bool
}

func (JSONPayload) isPayload() {}

func (p JSONPayload) Bytes() ([]byte, error) {
	if p.Raw == nil && p.Parsed != nil {
		return json.Marshal(p.Parsed)
	}
	return p.Raw, nil
}

// BinaryPayload holds an opaque binary body tagged with its Format.
type BinaryPayload struct {
	Data   []byte
	Format Format
}

func (BinaryPayload) isPayload() {}

func (p BinaryPayload) Bytes() ([]byte, error) { return p.Data, nil }

// TextPayload holds a plain-text body (no JSON structure implied).
type TextPayload struct {
	Text string
}

func (TextPayload) isPayload() {}

func (p TextPayload) Bytes() ([]byte, error) { return []byte(p.Text), nil }

// EmptyPayload carries no body — used for bare notifications/pings.
type EmptyPayload struct{}

func (EmptyPayload) isPayload() {}

func (EmptyPayload) Bytes() ([]byte, error) { return nil, nil }

// Message is the envelope proper: an id-correlated, metadata-tagged payload
// moving between transport and dispatch.
type Message struct {
	ID       string
	Metadata Metadata
	Payload  Payload
}

// NewJSON builds a Message with a JSON payload.
func NewJSON(id string, raw []byte) *Message {
	return &Message{
		ID:       id,
		Metadata: Metadata{CreatedAt: time.Now(), Encoding: FormatJSON, Size: len(raw)},
		Payload:  JSONPayload{Raw: raw, IsValid: true},
	}
}

// NewBinary builds a Message with a binary payload of the given format.
func NewBinary(id string, data []byte, format Format) *Message {
	return &Message{
		ID:       id,
		Metadata: Metadata{CreatedAt: time.Now(), Encoding: format, Size: len(data)},
		Payload:  BinaryPayload{Data: data, Format: format},
	}
}

// NewText builds a Message with a plain-text payload.
func NewText(id, text string) *Message {
	return &Message{
		ID:       id,
		Metadata: Metadata{CreatedAt: time.Now(), Size: len(text)},
		Payload:  TextPayload{Text: text},
	}
}

// NewEmpty builds a Message with no payload.
func NewEmpty(id string) *Message {
	return &Message{ID: id, Metadata: Metadata{CreatedAt: time.Now()}, Payload: EmptyPayload{}}
}

// DetectFormat inspects the leading bytes of data and infers which wire
// format it is encoded in, the same heuristic turbomcp's detect_format
// uses: empty data defaults to JSON, a leading '{' or '[' is JSON, a
// leading 0x82/0x83 (MessagePack fixmap/fixarray headers) is MessagePack,
// anything else falls back to the caller-supplied default.
func DetectFormat(data []byte, fallback Format) Format {
	if len(data) == 0 {
		return FormatJSON
	}
	switch data[0] {
	case '{', '[':
		return FormatJSON
	case 0x82, 0x83:
		return FormatMessagePack
	default:
		return fallback
	}
}

// Serializer bundles the format/compression policy a transport applies when
// writing a Message to the wire and reading one back. It is a distinct type
// from Message by design (mirroring turbomcp's MessageSerializer), since
// the same Message can be serialized different ways by different
// transports in the same process.
type Serializer struct {
	DefaultFormat       Format
	EnableCompression   bool
	CompressionThreshold int
	// Compress/Decompress are injected so the serializer stays agnostic of
	// which compression algorithm a deployment picks; nil means no-op.
	Compress   func([]byte) ([]byte, error)
	Decompress func([]byte) ([]byte, error)
}

// NewSerializer builds a Serializer with sane defaults: JSON encoding, no
// compression.
func NewSerializer() *Serializer {
	return &Serializer{DefaultFormat: FormatJSON, CompressionThreshold: 8192}
}

// Serialize renders a Message's payload to bytes in the requested format,
// applying compression when enabled and the payload exceeds the threshold.
func (s *Serializer) Serialize(msg *Message, format Format) ([]byte, error) {
	raw, err := encodePayload(msg.Payload, format)
	if err != nil {
		return nil, fmt.Errorf("envelope: serialize: %w", err)
	}
	if s.EnableCompression && s.Compress != nil && len(raw) >= s.CompressionThreshold {
		compressed, err := s.Compress(raw)
		if err != nil {
			return nil, fmt.Errorf("envelope: compress: %w", err)
		}
		return compressed, nil
	}
	return raw, nil
}

func encodePayload(p Payload, format Format) ([]byte, error) {
	switch payload := p.(type) {
	case JSONPayload:
		if format == FormatMessagePack {
			return msgpackFromJSON(payload.Raw)
		}
		return payload.Raw, nil
	case BinaryPayload:
		if format == FormatJSON {
			return nil, fmt.Errorf("envelope: binary payload cannot be encoded as JSON")
		}
		return payload.Data, nil
	case TextPayload:
		return []byte(payload.Text), nil
	case EmptyPayload:
		return nil, nil
	default:
		return nil, fmt.Errorf("envelope: unknown payload type %T", p)
	}
}

func msgpackFromJSON(raw []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return msgpack.Marshal(v)
}

func decodeCBOR(data []byte) (interface{}, error) {
	var v interface{}
	if err := cbor.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Deserialize reconstructs a Message's Payload from bytes, auto-detecting
// the wire format via DetectFormat when detect is true and using the
// serializer's DefaultFormat otherwise, then deferring to
// DeserializeWithFormat.
func (s *Serializer) Deserialize(id string, data []byte, detect bool) (*Message, error) {
	format := s.DefaultFormat
	if detect {
		format = DetectFormat(data, s.DefaultFormat)
	}
	return s.DeserializeWithFormat(id, data, format)
}

// DeserializeWithFormat decodes data under an explicit format. CBOR decoding
// follows turbomcp's deserialize_cbor fallback: first try to parse the bytes
// as CBOR into a generic value; on success, re-encode as a JSON payload with
// the parsed value cached (so downstream code always sees JSON-shaped data
// for CBOR-origin messages); on failure, retain the raw bytes as an opaque
// Binary payload tagged FormatCBOR rather than erroring, since the caller
// may only need to forward the bytes untouched.
func (s *Serializer) DeserializeWithFormat(id string, data []byte, format Format) (*Message, error) {
	switch format {
	case FormatJSON:
		var v interface{}
		valid := json.Unmarshal(data, &v) == nil
		return &Message{
			ID:       id,
			Metadata: Metadata{CreatedAt: time.Now(), Encoding: FormatJSON, Size: len(data)},
			Payload:  JSONPayload{Raw: data, Parsed: v, IsValid: valid},
		}, nil
	case FormatMessagePack:
		var v interface{}
		if err := msgpack.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("envelope: invalid msgpack payload: %w", err)
		}
		reencoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("envelope: re-encode msgpack as json: %w", err)
		}
		return &Message{
			ID:       id,
			Metadata: Metadata{CreatedAt: time.Now(), Encoding: FormatMessagePack, Size: len(data)},
			Payload:  JSONPayload{Raw: reencoded, Parsed: v, IsValid: true},
		}, nil
	case FormatCBOR:
		return s.deserializeCBOR(id, data)
	default:
		return &Message{
			ID:       id,
			Metadata: Metadata{CreatedAt: time.Now(), Encoding: format, Size: len(data)},
			Payload:  BinaryPayload{Data: data, Format: format},
		}, nil
	}
}

func (s *Serializer) deserializeCBOR(id string, data []byte) (*Message, error) {
	v, err := decodeCBOR(data)
	if err != nil {
		return &Message{
			ID:       id,
			Metadata: Metadata{CreatedAt: time.Now(), Encoding: FormatCBOR, Size: len(data)},
			Payload:  BinaryPayload{Data: data, Format: FormatCBOR},
		}, nil
	}
	reencoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("envelope: re-encode cbor as json: %w", err)
	}
	return &Message{
		ID:       id,
		Metadata: Metadata{CreatedAt: time.Now(), Encoding: FormatCBOR, Size: len(data)},
		Payload:  JSONPayload{Raw: reencoded, Parsed: v, IsValid: true},
	}, nil
}

// ParseJSON lazily parses a JSONPayload's Raw bytes into dst and caches the
// result on Message in place, so repeated calls are idempotent — mirroring
// turbomcp's Message::parse_json<T>.
func ParseJSON(msg *Message, dst interface{}) error {
	jp, ok := msg.Payload.(JSONPayload)
	if !ok {
		return fmt.Errorf("envelope: message payload is not JSON")
	}
	if jp.Parsed != nil {
		return remarshalInto(jp.Parsed, dst)
	}
	if err := json.Unmarshal(jp.Raw, dst); err != nil {
		return fmt.Errorf("envelope: parse json: %w", err)
	}
	jp.Parsed = dst
	jp.IsValid = true
	msg.Payload = jp
	return nil
}

func remarshalInto(parsed, dst interface{}) error {
	data, err := json.Marshal(parsed)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
