// Package topics names the message paths exchanged between the relay and the host.
//
// Paths are published with a leading slash. Inbound paths are accepted with or
// without it; use Normalize before comparing.
package topics

import "strings"

// Inbound topics, host to relay.
const (
	Command           = "/to-pump/command"
	Commands          = "/to-pump/commands"
	CommandsBustCache = "/to-pump/commands-bust-cache"
	CachedCommands    = "/to-pump/cached-commands"
	StartActivity     = "/to-phone/start-activity"
	IsPumpConnected   = "/to-phone/is-pump-connected"
)

// Outbound topics, relay to host.
const (
	ReceiveMessage         = "/from-pump/receive-message"
	ReceiveCachedMessage   = "/from-pump/receive-cached-message"
	ReceiveQualifyingEvent = "/from-pump/receive-qualifying-event"
	WaitingForPairingCode  = "/from-pump/waiting-for-pairing-code"
	PumpConnected          = "/from-pump/pump-connected"
	PumpDisconnected       = "/from-pump/pump-disconnected"
	PumpModel              = "/from-pump/pump-model"
	PumpCriticalError      = "/from-pump/pump-critical-error"
)

// Normalize returns topic with surrounding whitespace removed and exactly one
// leading slash.
func Normalize(topic string) string {
	topic = strings.TrimSpace(topic)
	return "/" + strings.TrimLeft(topic, "/")
}

// Inbound returns every topic the relay accepts.
func Inbound() []string {
	return []string{Command, Commands, CommandsBustCache, CachedCommands, StartActivity, IsPumpConnected}
}

// Outbound returns every topic the relay publishes.
func Outbound() []string {
	return []string{
		ReceiveMessage, ReceiveCachedMessage, ReceiveQualifyingEvent, WaitingForPairingCode,
		PumpConnected, PumpDisconnected, PumpModel, PumpCriticalError,
	}
}
