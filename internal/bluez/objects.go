package bluez

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/peripheral"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
)

const (
	busName            = "org.bluez"
	adapterIface       = "org.bluez.Adapter1"
	deviceIface        = "org.bluez.Device1"
	gattCharIface      = "org.bluez.GattCharacteristic1"
	propsIface         = "org.freedesktop.DBus.Properties"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
)

// frameHeaderLen is opcode, transaction id and payload length
const frameHeaderLen = 3

var (
	// ErrFrameTooShort is returned for notifications shorter than a frame header
	ErrFrameTooShort = errors.New("bluez: frame too short")
	// ErrFrameLength is returned when a frame's length byte disagrees with its size
	ErrFrameLength = errors.New("bluez: frame length mismatch")
	// ErrPayloadTooLarge is returned when a command payload does not fit in one frame
	ErrPayloadTooLarge = errors.New("bluez: payload too large")
)

// managedObjects is the reply shape of ObjectManager.GetManagedObjects
type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

func adapterObjectPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

// deviceObjectPath converts a MAC address like "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func deviceObjectPath(adapter, addr string) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapterObjectPath(adapter)) + "/dev_" + strings.ReplaceAll(addr, ":", "_"))
}

// addressFromPath extracts a MAC address from a BlueZ device object path.
func addressFromPath(adapter string, path dbus.ObjectPath) string {
	prefix := string(adapterObjectPath(adapter)) + "/dev_"
	s := string(path)
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	dev, _, _ := strings.Cut(s[len(prefix):], "/")
	return strings.ReplaceAll(dev, "_", ":")
}

// device is a discovered pump. It is the Handle given to the session.
type device struct {
	path    dbus.ObjectPath
	name    string
	address string
}

func (d device) Name() string    { return d.name }
func (d device) Address() string { return d.address }

// deviceFromProps builds a device from Device1 properties when its name starts with prefix.
func deviceFromProps(path dbus.ObjectPath, props map[string]dbus.Variant, prefix string) (device, bool) {
	name := stringProp(props, "Name")
	if name == "" {
		name = stringProp(props, "Alias")
	}
	if name == "" || !strings.HasPrefix(name, prefix) {
		return device{}, false
	}
	return device{path: path, name: name, address: stringProp(props, "Address")}, true
}

// findDevice returns the first known device under adapter whose name matches prefix.
func findDevice(objects managedObjects, adapter, prefix string) (device, bool) {
	root := string(adapterObjectPath(adapter)) + "/"
	for _, path := range sortedPaths(objects) {
		if !strings.HasPrefix(string(path), root) {
			continue
		}
		props, ok := objects[path][deviceIface]
		if !ok {
			continue
		}
		if dev, ok := deviceFromProps(path, props, prefix); ok {
			return dev, true
		}
	}
	return device{}, false
}

// gattMap locates the pump's characteristics on the bus
type gattMap struct {
	byChannel map[pumpmsg.Characteristic]dbus.ObjectPath
	byPath    map[dbus.ObjectPath]pumpmsg.Characteristic
	model     dbus.ObjectPath
}

// resolveCharacteristics finds the characteristics below devicePath whose UUIDs
// appear in index, plus the model number characteristic when present.
func resolveCharacteristics(objects managedObjects, devicePath dbus.ObjectPath, index map[string]pumpmsg.Characteristic) gattMap {
	g := gattMap{
		byChannel: make(map[pumpmsg.Characteristic]dbus.ObjectPath),
		byPath:    make(map[dbus.ObjectPath]pumpmsg.Characteristic),
	}
	root := string(devicePath) + "/"
	for _, path := range sortedPaths(objects) {
		if !strings.HasPrefix(string(path), root) {
			continue
		}
		props, ok := objects[path][gattCharIface]
		if !ok {
			continue
		}
		id := strings.ToLower(stringProp(props, "UUID"))
		if id == ModelNumberUUID {
			g.model = path
			continue
		}
		if ch, ok := index[id]; ok {
			g.byChannel[ch] = path
			g.byPath[path] = ch
		}
	}
	return g
}

// scanError maps StartDiscovery failures. A missing radio permission or an
// adapter that is not ready yet become peripheral.ErrPermissionDenied; a scan
// already in progress is not an error.
func scanError(err error) error {
	if err == nil {
		return nil
	}
	switch dbusErrorName(err) {
	case "org.bluez.Error.InProgress":
		return nil
	case "org.bluez.Error.NotReady", "org.bluez.Error.NotAuthorized", "org.freedesktop.DBus.Error.AccessDenied":
		return fmt.Errorf("%w: %v", peripheral.ErrPermissionDenied, err)
	}
	return fmt.Errorf("start discovery: %w", err)
}

func dbusErrorName(err error) string {
	var byValue dbus.Error
	if errors.As(err, &byValue) {
		return byValue.Name
	}
	var byPtr *dbus.Error
	if errors.As(err, &byPtr) {
		return byPtr.Name
	}
	return ""
}

// encodeFrame lays cmd out as opcode, transaction id, payload length, payload.
func encodeFrame(cmd pumpmsg.Command) ([]byte, error) {
	if len(cmd.Payload) > 0xff {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(cmd.Payload))
	}
	frame := make([]byte, 0, frameHeaderLen+len(cmd.Payload))
	frame = append(frame, byte(cmd.Opcode), cmd.TxID, byte(len(cmd.Payload)))
	return append(frame, cmd.Payload...), nil
}

// decodeFrame parses a notification received on channel.
func decodeFrame(channel pumpmsg.Characteristic, data []byte) (*pumpmsg.Response, error) {
	if len(data) < frameHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(data))
	}
	n := int(data[2])
	if len(data)-frameHeaderLen != n {
		return nil, fmt.Errorf("%w: header says %d, got %d", ErrFrameLength, n, len(data)-frameHeaderLen)
	}
	return pumpmsg.NewResponse(channel, pumpmsg.Opcode(int8(data[0])), data[1], data[frameHeaderLen:]), nil
}

// decodeQualifyingEvents reads little-endian 32-bit event markers.
func decodeQualifyingEvents(data []byte) (pumpmsg.QualifyingEventSet, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of events", ErrFrameLength, len(data))
	}
	events := make(pumpmsg.QualifyingEventSet, 0, len(data)/4)
	for i := 0; i < len(data); i += 4 {
		events = append(events, pumpmsg.QualifyingEvent(binary.LittleEndian.Uint32(data[i:])))
	}
	return events, nil
}

// propertiesChanged unpacks a PropertiesChanged signal body
func propertiesChanged(sig *dbus.Signal) (string, map[string]dbus.Variant, bool) {
	if len(sig.Body) < 2 {
		return "", nil, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return "", nil, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	return iface, changed, ok
}

// interfacesAdded unpacks an InterfacesAdded signal body
func interfacesAdded(sig *dbus.Signal) (dbus.ObjectPath, map[string]map[string]dbus.Variant, bool) {
	if len(sig.Body) < 2 {
		return "", nil, false
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return "", nil, false
	}
	ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	return path, ifaces, ok
}

func stringProp(props map[string]dbus.Variant, name string) string {
	v, ok := props[name]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

func boolProp(props map[string]dbus.Variant, name string) (bool, bool) {
	v, ok := props[name]
	if !ok {
		return false, false
	}
	b, ok := v.Value().(bool)
	return b, ok
}

func bytesProp(props map[string]dbus.Variant, name string) ([]byte, bool) {
	v, ok := props[name]
	if !ok {
		return nil, false
	}
	b, ok := v.Value().([]byte)
	return b, ok
}

func sortedPaths(objects managedObjects) []dbus.ObjectPath {
	paths := make([]dbus.ObjectPath, 0, len(objects))
	for p := range objects {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}
