package worker

import (
	"context"
	"errors"

	"github.com/rmacdonaldsmith/pumprelay-go/pkg/peripheral"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
)

var (
	// ErrStopped is returned by Submit once the worker has stopped
	ErrStopped = errors.New("worker: stopped")
	// ErrQueueFull is returned by Submit when the request backlog is at capacity
	ErrQueueFull = errors.New("worker: queue full")
	// ErrUnknownKind is returned by Submit for an unrecognized request kind
	ErrUnknownKind = errors.New("worker: unknown request kind")
)

// RequestKind selects how the worker treats a request's commands
type RequestKind int

const (
	// KindInitialize builds the session and starts the connect retry task
	KindInitialize RequestKind = iota + 1
	// KindSendCommand sends one command if connected
	KindSendCommand
	// KindSendCommandsBulk sends each command independently if connected
	KindSendCommandsBulk
	// KindSendCommandsBulkBustCache invalidates each command's cached reply, then sends it
	KindSendCommandsBulkBustCache
	// KindReadCachedBulk answers each command from cache, sending it on a miss
	KindReadCachedBulk
	// KindAnnounceConnection republishes pump-connected if the pump is connected
	KindAnnounceConnection
)

func (k RequestKind) String() string {
	switch k {
	case KindInitialize:
		return "Initialize"
	case KindSendCommand:
		return "SendCommand"
	case KindSendCommandsBulk:
		return "SendCommandsBulk"
	case KindSendCommandsBulkBustCache:
		return "SendCommandsBulkBustCache"
	case KindReadCachedBulk:
		return "ReadCachedBulk"
	case KindAnnounceConnection:
		return "AnnounceConnection"
	default:
		return "Unknown"
	}
}

// Valid reports whether k is a known request kind.
func (k RequestKind) Valid() bool {
	return k >= KindInitialize && k <= KindAnnounceConnection
}

// Request is one unit of work for the worker
type Request struct {
	Kind RequestKind

	// Commands are processed in order; empty for KindInitialize and KindAnnounceConnection
	Commands []pumpmsg.Command
}

// Status is a point-in-time snapshot of the worker's state
type Status struct {
	Initialized    bool
	State          peripheral.ConnectionState
	HasPeripheral  bool
	PeripheralName string
	Model          string
	CacheSize      int
	QueueDepth     int

	// Processed counts requests and events handled since start
	Processed uint64
}

// Connected reports whether commands would currently be sent to the pump.
func (s Status) Connected() bool {
	return s.State == peripheral.Connected && s.HasPeripheral
}

// Worker serializes all requests and session events through one queue.
type Worker interface {
	// Submit enqueues req behind everything already queued.
	// It does not wait for req to be processed.
	Submit(ctx context.Context, req Request) error

	// Status returns the latest state snapshot.
	Status() Status
}
