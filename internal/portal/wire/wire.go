// Package wire defines the portal's wire-level message format. A connection
// carries arbitrary text frames, with one reserved shape: frames beginning
// with the 3-character prefix "OOB" carry a JSON-encoded batch of out-of-band
// instructions instead of game input. The prefix is part of the wire contract;
// text that happens to start with "OOB" is always decoded as an instruction
// frame, never delivered as literal text.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Prefix is the reserved token identifying an out-of-band frame.
const Prefix = "OOB"

// ErrMalformedOOB reports an inbound OOB frame whose payload is not valid
// JSON or does not have the expected instruction shape. Callers log it and
// drop the frame; it never terminates the connection.
var ErrMalformedOOB = errors.New("malformed OOB frame")

// Instruction is a single out-of-band call: a function name, positional
// arguments, and keyword arguments. On the wire it is the 3-element JSON
// array [name, args, kwargs].
type Instruction struct {
	Name   string
	Args   []any
	Kwargs map[string]any
}

// MarshalJSON encodes the instruction in its wire shape. Nil Args and Kwargs
// are encoded as empty collections so the wire form is always a full triple.
func (in Instruction) MarshalJSON() ([]byte, error) {
	args := in.Args
	if args == nil {
		args = []any{}
	}
	kwargs := in.Kwargs
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return json.Marshal([]any{in.Name, args, kwargs})
}

// Batch is an ordered sequence of instructions decoded from a single frame.
// Order is preserved end-to-end; the dispatcher observes insertion order.
type Batch []Instruction

// Kind discriminates the two frame shapes on the wire.
type Kind int

const (
	// KindText is an ordinary game-input or display frame.
	KindText Kind = iota
	// KindOOB is a structured out-of-band instruction frame.
	KindOOB
)

// Message is the decoded form of one inbound frame: either plain text or an
// OOB batch, never both.
type Message struct {
	Kind Kind
	Text string
	OOB  Batch
}

// ParseInbound decodes one inbound frame. Frames not starting with Prefix
// are returned verbatim as text, with no length limit and no transformation.
// Prefixed frames must carry either a JSON array of [name, args, kwargs]
// triples or a single bare triple; anything else yields ErrMalformedOOB
// wrapping the raw payload for diagnostics.
func ParseInbound(frame string) (Message, error) {
	if len(frame) < len(Prefix) || frame[:len(Prefix)] != Prefix {
		return Message{Kind: KindText, Text: frame}, nil
	}

	payload := frame[len(Prefix):]
	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return Message{}, fmt.Errorf("%w: invalid JSON in %s: %v", ErrMalformedOOB, payload, err)
	}

	top, ok := decoded.([]any)
	if !ok {
		return Message{}, fmt.Errorf("%w: top-level value is %T, want array, in %s", ErrMalformedOOB, decoded, payload)
	}

	// A bare triple ["name", args, kwargs] is a degenerate single-instruction
	// frame. It is distinguished from a batch by its first element: batch
	// elements are arrays, instruction names are strings.
	if len(top) > 0 {
		if _, isName := top[0].(string); isName {
			inst, err := decodeInstruction(decoded)
			if err != nil {
				return Message{}, fmt.Errorf("%w: %v, in %s", ErrMalformedOOB, err, payload)
			}
			return Message{Kind: KindOOB, OOB: Batch{inst}}, nil
		}
	}

	batch := make(Batch, 0, len(top))
	for i, el := range top {
		inst, err := decodeInstruction(el)
		if err != nil {
			return Message{}, fmt.Errorf("%w: element %d: %v, in %s", ErrMalformedOOB, i, err, payload)
		}
		batch = append(batch, inst)
	}
	return Message{Kind: KindOOB, OOB: batch}, nil
}

// decodeInstruction converts one decoded JSON value into an Instruction.
// The value must be a 3-element array of (string, array|null, object|null).
func decodeInstruction(v any) (Instruction, error) {
	el, ok := v.([]any)
	if !ok {
		return Instruction{}, fmt.Errorf("instruction is %T, want 3-element array", v)
	}
	if len(el) != 3 {
		return Instruction{}, fmt.Errorf("instruction has %d elements, want 3", len(el))
	}

	name, ok := el[0].(string)
	if !ok {
		return Instruction{}, fmt.Errorf("instruction name is %T, want string", el[0])
	}

	args := []any{}
	if el[1] != nil {
		args, ok = el[1].([]any)
		if !ok {
			return Instruction{}, fmt.Errorf("instruction args is %T, want array", el[1])
		}
	}

	kwargs := map[string]any{}
	if el[2] != nil {
		kwargs, ok = el[2].(map[string]any)
		if !ok {
			return Instruction{}, fmt.Errorf("instruction kwargs is %T, want object", el[2])
		}
	}

	return Instruction{Name: name, Args: args, Kwargs: kwargs}, nil
}

// EncodeOOB produces the wire line for an outbound OOB structure: the
// reserved prefix followed by the structure's JSON encoding.
func EncodeOOB(structure any) (string, error) {
	data, err := json.Marshal(structure)
	if err != nil {
		return "", fmt.Errorf("encoding OOB structure: %w", err)
	}
	return Prefix + string(data), nil
}
