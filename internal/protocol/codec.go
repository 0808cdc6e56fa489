package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrUnknownType is returned when a line carries a type outside the closed
// set for its direction.
var ErrUnknownType = errors.New("unknown message type")

// Message is implemented by every HostMessage and SandboxMessage.
type Message interface {
	Type() MessageType
}

type envelope struct {
	Type MessageType `json:"type"`
}

// Encode renders a message as a single JSON object with its "type" field
// first. The result carries no trailing newline.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", m.Type(), err)
	}
	typ, err := json.Marshal(m.Type())
	if err != nil {
		return nil, fmt.Errorf("encoding type: %w", err)
	}

	var b bytes.Buffer
	b.WriteString(`{"type":`)
	b.Write(typ)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		b.WriteByte(',')
		b.Write(inner)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// DecodeHost parses a host -> sandbox message.
func DecodeHost(data []byte) (HostMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}

	switch env.Type {
	case TypeRun:
		return decodeAs[Run](data)
	case TypeRunTests:
		return decodeAs[RunTests](data)
	case TypeInput:
		return decodeAs[Input](data)
	case TypeStop:
		return Stop{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// DecodeSandbox parses a sandbox -> host message.
func DecodeSandbox(data []byte) (SandboxMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}

	switch env.Type {
	case TypePrint:
		return decodeAs[Print](data)
	case TypePrintBatch:
		return decodeAs[PrintBatch](data)
	case TypeInputRequired:
		return InputRequired{}, nil
	case TypePrintDone:
		return PrintDone{}, nil
	case TypeError:
		return decodeAs[Error](data)
	case TypeReady:
		return Ready{}, nil
	case TypeTestResults:
		return decodeAs[TestResults](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeAs[T any](data []byte) (T, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decoding %T: %w", m, err)
	}
	return m, nil
}

// Reader reads successive messages from a JSON-lines stream.
type Reader struct {
	dec *json.Decoder
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: json.NewDecoder(r)}
}

func (r *Reader) next() ([]byte, error) {
	var raw json.RawMessage
	if err := r.dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ReadHost returns the next host message. io.EOF is returned unwrapped when
// the stream ends cleanly.
func (r *Reader) ReadHost() (HostMessage, error) {
	raw, err := r.next()
	if err != nil {
		return nil, err
	}
	return DecodeHost(raw)
}

// ReadSandbox returns the next sandbox message. io.EOF is returned unwrapped
// when the stream ends cleanly.
func (r *Reader) ReadSandbox() (SandboxMessage, error) {
	raw, err := r.next()
	if err != nil {
		return nil, err
	}
	return DecodeSandbox(raw)
}
