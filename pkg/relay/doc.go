// Package relay provides interfaces for the relay service.
//
// The relay service is the boundary between the host transport and the command
// worker. It maps each inbound topic to a worker request:
//   - /to-pump/command              one command, sent if connected
//   - /to-pump/commands             bulk commands, each sent if connected
//   - /to-pump/commands-bust-cache  bulk commands, cached replies invalidated first
//   - /to-pump/cached-commands      bulk commands, answered from cache where possible
//
// Two topics are handled by the service itself:
//   - /to-phone/start-activity brings the relay's foreground activity up
//   - /to-phone/is-pump-connected republishes /from-pump/pump-connected when connected
//
// A payload that does not decode rejects the whole request; nothing from a
// malformed bulk batch reaches the worker.
package relay
