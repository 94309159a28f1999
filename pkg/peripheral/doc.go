// Package peripheral provides interfaces for the connection to the pump.
//
// This package defines the abstractions shared by the session and its backends:
//   - Protocol: the pump communication library (scanning, pairing, wire protocol)
//   - Session: the relay's view of one peripheral connection
//   - Event: the closed set of notifications a session emits
//   - ConnectionState: Uninitialized, Scanning, Connected, Disconnected, CriticalError
//
// All notifications from the protocol library reach the relay through a single
// EventSink, so they can be ordered with command processing on one queue:
//
//	sink := func(ev peripheral.Event) {
//		switch e := ev.(type) {
//		case peripheral.ConnectedEvent:
//			log.Printf("connected to %s", e.Handle.Name())
//		case peripheral.MessageEvent:
//			cache.Put(e.Response.Key(), e.Response)
//		}
//	}
//
// Connecting retries while the radio permission is missing. "Not connected" is an
// expected state, so SendCommand never returns an error for it.
package peripheral
