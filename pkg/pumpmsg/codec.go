package pumpmsg

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrEmptyPayload is returned when there are no bytes to decode
	ErrEmptyPayload = errors.New("pumpmsg: empty payload")
	// ErrInvalidCharacteristic is returned when a message names no known characteristic
	ErrInvalidCharacteristic = errors.New("pumpmsg: invalid characteristic")
	// ErrOpcodeRange is returned when an opcode does not fit in a signed byte
	ErrOpcodeRange = errors.New("pumpmsg: opcode out of range")
	// ErrTxIDRange is returned when a transaction id does not fit in a byte
	ErrTxIDRange = errors.New("pumpmsg: transaction id out of range")
)

// Field numbers shared by Command and Response messages.
const (
	fieldChannel        protowire.Number = 1
	fieldOpcode         protowire.Number = 2
	fieldResponseOpcode protowire.Number = 3
	fieldTxID           protowire.Number = 4
	fieldPayload        protowire.Number = 5

	fieldQualifyingEvents protowire.Number = 1
)

// DecodeError reports a malformed element inside a bulk payload.
type DecodeError struct {
	// Index is the zero-based position of the bad element
	Index int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("pumpmsg: element %d: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// MarshalCommand encodes a single command.
func MarshalCommand(cmd Command) ([]byte, error) {
	if !cmd.Channel.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCharacteristic, cmd.Channel)
	}
	var b []byte
	b = appendVarintField(b, fieldChannel, uint64(cmd.Channel))
	b = appendVarintField(b, fieldOpcode, protowire.EncodeZigZag(int64(cmd.Opcode)))
	b = appendVarintField(b, fieldResponseOpcode, protowire.EncodeZigZag(int64(cmd.ResponseOpcode)))
	b = appendVarintField(b, fieldTxID, uint64(cmd.TxID))
	if len(cmd.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, cmd.Payload)
	}
	return b, nil
}

// UnmarshalCommand decodes a single command.
func UnmarshalCommand(data []byte) (Command, error) {
	if len(data) == 0 {
		return Command{}, ErrEmptyPayload
	}
	f, err := decodeFields(data)
	if err != nil {
		return Command{}, err
	}
	return Command{
		Channel:        f.channel,
		Opcode:         f.opcode,
		ResponseOpcode: f.responseOpcode,
		TxID:           f.txID,
		Payload:        f.payload,
	}, nil
}

// MarshalCommands encodes an ordered sequence of commands as length-prefixed elements.
func MarshalCommands(cmds []Command) ([]byte, error) {
	var b []byte
	for i, cmd := range cmds {
		elem, err := MarshalCommand(cmd)
		if err != nil {
			return nil, &DecodeError{Index: i, Err: err}
		}
		b = protowire.AppendBytes(b, elem)
	}
	return b, nil
}

// UnmarshalCommands decodes a bulk payload. Any malformed element fails the whole
// batch; no partial result is returned.
func UnmarshalCommands(data []byte) ([]Command, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	var cmds []Command
	for i := 0; len(data) > 0; i++ {
		elem, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, &DecodeError{Index: i, Err: protowire.ParseError(n)}
		}
		cmd, err := UnmarshalCommand(elem)
		if err != nil {
			return nil, &DecodeError{Index: i, Err: err}
		}
		cmds = append(cmds, cmd)
		data = data[n:]
	}
	return cmds, nil
}

// MarshalResponse encodes a response.
func MarshalResponse(resp *Response) ([]byte, error) {
	if resp == nil {
		return nil, errors.New("pumpmsg: nil response")
	}
	if !resp.Channel.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCharacteristic, resp.Channel)
	}
	var b []byte
	b = appendVarintField(b, fieldChannel, uint64(resp.Channel))
	b = appendVarintField(b, fieldOpcode, protowire.EncodeZigZag(int64(resp.Opcode)))
	b = appendVarintField(b, fieldTxID, uint64(resp.TxID))
	if len(resp.payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, resp.payload)
	}
	return b, nil
}

// UnmarshalResponse decodes a response.
func UnmarshalResponse(data []byte) (*Response, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	f, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	return &Response{
		Channel: f.channel,
		Opcode:  f.opcode,
		TxID:    f.txID,
		payload: f.payload,
	}, nil
}

// MarshalQualifyingEvents encodes an event set as a packed varint field.
// An empty set encodes to an empty payload.
func MarshalQualifyingEvents(events QualifyingEventSet) []byte {
	if len(events) == 0 {
		return []byte{}
	}
	var packed []byte
	for _, ev := range events {
		packed = protowire.AppendVarint(packed, uint64(ev))
	}
	b := protowire.AppendTag(nil, fieldQualifyingEvents, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// UnmarshalQualifyingEvents decodes an event set.
func UnmarshalQualifyingEvents(data []byte) (QualifyingEventSet, error) {
	events := QualifyingEventSet{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		if num != fieldQualifyingEvents || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
			continue
		}
		packed, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			events = append(events, QualifyingEvent(v))
			packed = packed[m:]
		}
	}
	return events, nil
}

type fields struct {
	channel        Characteristic
	opcode         Opcode
	responseOpcode Opcode
	txID           uint8
	payload        []byte
}

func decodeFields(data []byte) (fields, error) {
	var f fields
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fields{}, protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case typ == protowire.VarintType && num != fieldPayload:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return fields{}, protowire.ParseError(m)
			}
			data = data[m:]
			if err := f.setVarint(num, v); err != nil {
				return fields{}, err
			}
		case typ == protowire.BytesType && num == fieldPayload:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return fields{}, protowire.ParseError(m)
			}
			data = data[m:]
			f.payload = clone(v)
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return fields{}, protowire.ParseError(m)
			}
			data = data[m:]
		}
	}
	if !f.channel.Valid() {
		return fields{}, fmt.Errorf("%w: %d", ErrInvalidCharacteristic, f.channel)
	}
	return f, nil
}

func (f *fields) setVarint(num protowire.Number, v uint64) error {
	switch num {
	case fieldChannel:
		if v > 0xff {
			return fmt.Errorf("%w: %d", ErrInvalidCharacteristic, v)
		}
		f.channel = Characteristic(v)
	case fieldOpcode, fieldResponseOpcode:
		op := protowire.DecodeZigZag(v)
		if op < -128 || op > 127 {
			return fmt.Errorf("%w: %d", ErrOpcodeRange, op)
		}
		if num == fieldOpcode {
			f.opcode = Opcode(op)
		} else {
			f.responseOpcode = Opcode(op)
		}
	case fieldTxID:
		if v > 0xff {
			return fmt.Errorf("%w: %d", ErrTxIDRange, v)
		}
		f.txID = uint8(v)
	}
	return nil
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}
