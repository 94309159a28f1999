// Package pumpmsg defines the messages relayed between a host device and the pump.
//
// This package defines the core data model for the relay:
//   - Command: an immutable request addressed to one characteristic of the pump
//   - Response: an immutable reply (or notification) received from the pump
//   - QualifyingEventSet: an opaque set of event markers forwarded to the host
//   - CacheKey: the (characteristic, opcode) pair responses are cached under
//
// The wire format is a protobuf-compatible encoding built with protowire. A single
// Command or Response is encoded as a message; bulk requests are a concatenation of
// length-prefixed Command messages:
//
//	// Encode three commands for the to-pump/commands topic
//	data, err := pumpmsg.MarshalCommands(cmds)
//	if err != nil {
//		return err
//	}
//
//	// Decode them again; a malformed element rejects the whole batch
//	cmds, err := pumpmsg.UnmarshalCommands(data)
//	var decodeErr *pumpmsg.DecodeError
//	if errors.As(err, &decodeErr) {
//		log.Printf("element %d is malformed", decodeErr.Index)
//	}
package pumpmsg
