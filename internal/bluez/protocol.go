// Package bluez drives the pump over the Linux BlueZ D-Bus API.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/peripheral"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned by Send before the pump's characteristics are resolved
	ErrNotConnected = errors.New("bluez: pump not connected")
	// ErrUnknownPeripheral is returned by Send for a handle other than the connected pump
	ErrUnknownPeripheral = errors.New("bluez: unknown peripheral")
	// ErrNoCharacteristic is returned when the pump does not expose a command's characteristic
	ErrNoCharacteristic = errors.New("bluez: characteristic not available")
)

// busConn is the part of *dbus.Conn the protocol uses
type busConn interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	AddMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Close() error
}

// Protocol implements peripheral.Protocol on top of BlueZ.
//
// A single watch goroutine consumes bus signals and owns the connect sequence:
// discovery, Device1.Connect, service resolution, notifications and the model
// read. Events are emitted under emitMu so StartScan's ScanStartedEvent always
// precedes the connection events it leads to.
type Protocol struct {
	config  Config
	opts    peripheral.Options
	sink    peripheral.EventSink
	conn    busConn
	uuids   map[string]pumpmsg.Characteristic
	adapter dbus.ObjectPath
	logger  *zap.Logger

	emitMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	watching  bool
	dev       *device
	gatt      gattMap
	connected bool

	signals chan *dbus.Signal
	probe   chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// NewFactory returns a ProtocolFactory opening a private system bus connection
// per protocol instance.
func NewFactory(config Config, logger *zap.Logger) peripheral.ProtocolFactory {
	return func(opts peripheral.Options, sink peripheral.EventSink) (peripheral.Protocol, error) {
		conn, err := dbus.ConnectSystemBus()
		if err != nil {
			return nil, fmt.Errorf("connect to system bus: %w", err)
		}
		p, err := newProtocol(config, opts, sink, conn, logger)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return p, nil
	}
}

func newProtocol(config Config, opts peripheral.Options, sink peripheral.EventSink, conn busConn, logger *zap.Logger) (*Protocol, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bluez config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ConnectionSharing {
		// BlueZ shares one link per device between all clients on the host
		logger.Debug("connection sharing requested")
	}

	return &Protocol{
		config:  config,
		opts:    opts,
		sink:    sink,
		conn:    conn,
		uuids:   config.uuidIndex(),
		adapter: adapterObjectPath(config.Adapter),
		logger:  logger,
		signals: make(chan *dbus.Signal, 64),
		probe:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// StartScan starts discovery on the adapter. It returns
// peripheral.ErrPermissionDenied while BlueZ refuses to scan.
func (p *Protocol) StartScan(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return peripheral.ErrSessionClosed
	}
	p.mu.Unlock()

	if err := p.ensureWatch(); err != nil {
		return err
	}

	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	err := p.conn.Object(busName, p.adapter).CallWithContext(ctx, adapterIface+".StartDiscovery", 0).Err
	if err := scanError(err); err != nil {
		return err
	}
	p.logger.Info("discovery started", zap.String("adapter", p.config.Adapter), zap.String("namePrefix", p.config.NamePrefix))
	p.sink(peripheral.ScanStartedEvent{})

	// Bonded pumps already have an object and never trigger InterfacesAdded
	select {
	case p.probe <- struct{}{}:
	default:
	}
	return nil
}

// Send writes cmd to its characteristic on the connected pump.
func (p *Protocol) Send(handle peripheral.Handle, cmd pumpmsg.Command) error {
	p.mu.Lock()
	connected, dev := p.connected, p.dev
	path, ok := p.gatt.byChannel[cmd.Channel]
	p.mu.Unlock()

	if !connected || dev == nil {
		return ErrNotConnected
	}
	if handle == nil || handle.Address() != dev.address {
		return ErrUnknownPeripheral
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoCharacteristic, cmd.Channel)
	}

	frame, err := encodeFrame(cmd)
	if err != nil {
		return err
	}
	call := p.conn.Object(busName, path).Call(gattCharIface+".WriteValue", 0, frame, map[string]dbus.Variant{})
	if call.Err != nil {
		return fmt.Errorf("write %s: %w", cmd.Channel, call.Err)
	}
	return nil
}

// Close stops discovery, disconnects the pump and closes the bus connection.
func (p *Protocol) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	watching, dev := p.watching, p.dev
	p.mu.Unlock()

	close(p.stop)
	if watching {
		<-p.done
		p.conn.RemoveSignal(p.signals)
	}

	_ = p.conn.Object(busName, p.adapter).Call(adapterIface+".StopDiscovery", 0).Err
	if dev != nil {
		if err := p.conn.Object(busName, dev.path).Call(deviceIface+".Disconnect", 0).Err; err != nil {
			p.logger.Warn("failed to disconnect pump", zap.String("address", dev.address), zap.Error(err))
		}
	}
	return p.conn.Close()
}

func (p *Protocol) ensureWatch() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watching {
		return nil
	}

	if err := p.conn.AddMatchSignal(
		dbus.WithMatchInterface(objectManagerIface),
		dbus.WithMatchMember("InterfacesAdded"),
	); err != nil {
		return fmt.Errorf("watch interfaces: %w", err)
	}
	if err := p.conn.AddMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(p.adapter),
	); err != nil {
		return fmt.Errorf("watch properties: %w", err)
	}
	p.conn.Signal(p.signals)
	p.watching = true
	go p.watch()
	return nil
}

func (p *Protocol) watch() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case <-p.probe:
			p.probeKnownDevices()
		case sig, ok := <-p.signals:
			if !ok {
				return
			}
			p.handleSignal(sig)
		}
	}
}

func (p *Protocol) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case objectManagerIface + ".InterfacesAdded":
		path, ifaces, ok := interfacesAdded(sig)
		if !ok || p.current() != nil {
			return
		}
		if dev, ok := deviceFromProps(path, ifaces[deviceIface], p.config.NamePrefix); ok {
			p.connectDevice(dev)
		}

	case propsIface + ".PropertiesChanged":
		iface, changed, ok := propertiesChanged(sig)
		if !ok {
			return
		}
		switch iface {
		case deviceIface:
			p.deviceChanged(sig.Path, changed)
		case gattCharIface:
			if value, ok := bytesProp(changed, "Value"); ok {
				p.notification(sig.Path, value)
			}
		}
	}
}

func (p *Protocol) probeKnownDevices() {
	if p.current() != nil {
		return
	}
	objects, err := p.managedObjects()
	if err != nil {
		p.logger.Warn("failed to list bluetooth objects", zap.Error(err))
		return
	}
	if dev, ok := findDevice(objects, p.config.Adapter, p.config.NamePrefix); ok {
		p.connectDevice(dev)
	}
}

func (p *Protocol) connectDevice(dev device) {
	p.logger.Info("pump found", zap.String("name", dev.name), zap.String("address", dev.address))
	_ = p.conn.Object(busName, p.adapter).Call(adapterIface+".StopDiscovery", 0).Err

	ctx, cancel := context.WithTimeout(context.Background(), p.config.ResolveTimeout)
	defer cancel()
	if err := p.conn.Object(busName, dev.path).CallWithContext(ctx, deviceIface+".Connect", 0).Err; err != nil {
		p.logger.Warn("failed to connect pump, rescanning", zap.String("address", dev.address), zap.Error(err))
		p.rescan()
		return
	}

	p.mu.Lock()
	p.dev = &dev
	p.mu.Unlock()
	p.emit(peripheral.InitialConnectionEvent{Handle: dev})

	var resolved bool
	if err := p.conn.Object(busName, dev.path).StoreProperty(deviceIface+".ServicesResolved", &resolved); err == nil && resolved {
		p.servicesResolved(dev)
	}
}

func (p *Protocol) deviceChanged(path dbus.ObjectPath, changed map[string]dbus.Variant) {
	dev := p.current()
	if dev == nil || dev.path != path {
		return
	}
	if connected, ok := boolProp(changed, "Connected"); ok && !connected {
		p.disconnected(*dev)
		return
	}
	if resolved, ok := boolProp(changed, "ServicesResolved"); ok && resolved {
		p.servicesResolved(*dev)
	}
}

func (p *Protocol) servicesResolved(dev device) {
	p.mu.Lock()
	already := p.connected
	p.mu.Unlock()
	if already {
		return
	}

	objects, err := p.managedObjects()
	if err != nil {
		p.logger.Warn("failed to resolve pump services", zap.Error(err))
		return
	}
	gatt := resolveCharacteristics(objects, dev.path, p.uuids)
	for ch, path := range gatt.byChannel {
		if err := p.conn.Object(busName, path).Call(gattCharIface+".StartNotify", 0).Err; err != nil {
			p.logger.Warn("failed to enable notifications", zap.Stringer("characteristic", ch), zap.Error(err))
		}
	}

	p.mu.Lock()
	p.gatt = gatt
	p.connected = true
	p.mu.Unlock()

	p.logger.Info("pump connected", zap.String("name", dev.name), zap.Int("characteristics", len(gatt.byChannel)))
	p.emit(peripheral.ConnectedEvent{Handle: dev, Name: dev.name})

	if gatt.model == "" {
		return
	}
	var model []byte
	if err := p.conn.Object(busName, gatt.model).Call(gattCharIface+".ReadValue", 0, map[string]dbus.Variant{}).Store(&model); err != nil {
		p.logger.Warn("failed to read pump model", zap.Error(err))
		return
	}
	p.emit(peripheral.ModelIdentifiedEvent{Model: string(model)})
}

func (p *Protocol) disconnected(dev device) {
	p.mu.Lock()
	p.dev = nil
	p.gatt = gattMap{}
	p.connected = false
	p.mu.Unlock()

	p.logger.Info("pump disconnected", zap.String("name", dev.name))
	p.emit(peripheral.DisconnectedEvent{Name: dev.name})
	p.rescan()
}

// rescan restarts discovery the way the pump library reconnects after a lost link.
func (p *Protocol) rescan() {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}

	err := scanError(p.conn.Object(busName, p.adapter).Call(adapterIface+".StartDiscovery", 0).Err)
	if err != nil {
		p.logger.Warn("failed to restart discovery", zap.Error(err))
		p.emit(peripheral.CriticalErrorEvent{Reason: err.Error()})
		return
	}
	p.emit(peripheral.ScanStartedEvent{})
}

func (p *Protocol) notification(path dbus.ObjectPath, value []byte) {
	p.mu.Lock()
	ch, ok := p.gatt.byPath[path]
	p.mu.Unlock()
	if !ok {
		return
	}

	if ch == pumpmsg.QualifyingEvents {
		events, err := decodeQualifyingEvents(value)
		if err != nil {
			p.logger.Warn("malformed qualifying events", zap.Error(err))
			return
		}
		p.emit(peripheral.QualifyingEventsEvent{Events: events})
		return
	}

	resp, err := decodeFrame(ch, value)
	if err != nil {
		p.logger.Warn("malformed pump notification", zap.Stringer("characteristic", ch), zap.Error(err))
		return
	}
	if ch == pumpmsg.Authorization && resp.Opcode == p.config.PairingOpcode {
		p.emit(peripheral.PairingCodeNeededEvent{Challenge: resp})
		return
	}
	p.emit(peripheral.MessageEvent{Response: resp})
}

func (p *Protocol) managedObjects() (managedObjects, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := p.conn.Object(busName, "/").Call(objectManagerIface+".GetManagedObjects", 0).Store(&objects)
	return managedObjects(objects), err
}

func (p *Protocol) current() *device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dev
}

func (p *Protocol) emit(ev peripheral.Event) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	p.sink(ev)
}

// Verify that Protocol implements the peripheral.Protocol interface at compile time
var _ peripheral.Protocol = (*Protocol)(nil)
