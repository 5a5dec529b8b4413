package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"

	"tottag/controller/internal/faults"
	"tottag/controller/internal/session"
)

// Characteristic UUIDs by role.
var characteristicUUIDs = map[session.Channel]string{
	session.ChannelIdentity:      "00002a23-0000-1000-8000-00805f9b34fb",
	session.ChannelRanging:       "d68c3156-a23f-ee90-0c45-5231395e5d2e",
	session.ChannelFind:          "d68c3155-a23f-ee90-0c45-5231395e5d2e",
	session.ChannelTimestamp:     "d68c3154-a23f-ee90-0c45-5231395e5d2e",
	session.ChannelVoltage:       "d68c3153-a23f-ee90-0c45-5231395e5d2e",
	session.ChannelConfiguration: "d68c3161-a23f-ee90-0c45-5231395e5d2e",
	session.ChannelCommand:       "d68c3162-a23f-ee90-0c45-5231395e5d2e",
	session.ChannelData:          "d68c3163-a23f-ee90-0c45-5231395e5d2e",
}

// UUID returns the characteristic UUID for a channel.
func UUID(ch session.Channel) string {
	return characteristicUUIDs[ch]
}

const readBufferSize = 512

// Transport drives the host Bluetooth adapter.
type Transport struct {
	log     zerolog.Logger
	adapter *bluetooth.Adapter

	mu      sync.Mutex
	seen    map[string]bluetooth.Address
	onLost  map[string]func()
	enabled bool
}

func New(log zerolog.Logger) *Transport {
	return &Transport{
		log:     log,
		adapter: bluetooth.DefaultAdapter,
		seen:    map[string]bluetooth.Address{},
		onLost:  map[string]func(){},
	}
}

// Enable powers up the adapter and installs the disconnect handler. It is safe to call repeatedly.
func (t *Transport) Enable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled {
		return nil
	}
	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: enable bluetooth adapter: %v", faults.ErrCommunication, err)
	}
	t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		t.lost(strings.ToUpper(device.Address.String()))
	})
	t.enabled = true
	return nil
}

func (t *Transport) lost(address string) {
	t.mu.Lock()
	fn := t.onLost[address]
	delete(t.onLost, address)
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *Transport) Scan(ctx context.Context, timeout time.Duration, name string) ([]session.Device, error) {
	if err := t.Enable(); err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		found   []session.Device
		byAddr  = map[string]bluetooth.Address{}
		stopped = make(chan struct{})
	)

	timer := time.AfterFunc(timeout, func() { _ = t.adapter.StopScan() })
	defer timer.Stop()
	go func() {
		select {
		case <-ctx.Done():
			_ = t.adapter.StopScan()
		case <-stopped:
		}
	}()

	err := t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if result.LocalName() != name {
			return
		}
		addr := strings.ToUpper(result.Address.String())
		mu.Lock()
		defer mu.Unlock()
		if _, dup := byAddr[addr]; dup {
			return
		}
		byAddr[addr] = result.Address
		found = append(found, session.Device{Address: addr, Name: result.LocalName()})
	})
	close(stopped)
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %v", faults.ErrCommunication, err)
	}

	t.mu.Lock()
	t.seen = byAddr
	t.mu.Unlock()

	t.log.Debug().Int("found", len(found)).Msg("ble scan finished")
	return found, nil
}

func (t *Transport) Connect(ctx context.Context, address string, onLost func()) (session.Link, error) {
	address = strings.ToUpper(address)
	t.mu.Lock()
	addr, ok := t.seen[address]
	t.mu.Unlock()
	if !ok {
		return nil, faults.Validation("tag %s was not seen in the last scan", address)
	}

	device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", faults.ErrCommunication, address, err)
	}
	if ctx.Err() != nil {
		_ = device.Disconnect()
		return nil, ctx.Err()
	}

	chars, err := discover(device)
	if err != nil {
		_ = device.Disconnect()
		return nil, err
	}

	t.mu.Lock()
	t.onLost[address] = onLost
	t.mu.Unlock()

	return &link{transport: t, address: address, device: device, chars: chars}, nil
}

func discover(device bluetooth.Device) (map[session.Channel]bluetooth.DeviceCharacteristic, error) {
	services, err := device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: discover services: %v", faults.ErrCommunication, err)
	}

	byUUID := make(map[string]session.Channel, len(characteristicUUIDs))
	for ch, u := range characteristicUUIDs {
		byUUID[u] = ch
	}

	chars := make(map[session.Channel]bluetooth.DeviceCharacteristic, len(characteristicUUIDs))
	for _, svc := range services {
		found, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: discover characteristics: %v", faults.ErrCommunication, err)
		}
		for _, c := range found {
			if ch, ok := byUUID[strings.ToLower(c.UUID().String())]; ok {
				chars[ch] = c
			}
		}
	}
	return chars, nil
}

type link struct {
	transport *Transport
	address   string
	device    bluetooth.Device
	chars     map[session.Channel]bluetooth.DeviceCharacteristic
}

func (l *link) Address() string { return l.address }

func (l *link) characteristic(ch session.Channel) (bluetooth.DeviceCharacteristic, error) {
	c, ok := l.chars[ch]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("%w: tag %s does not expose %s", faults.ErrCommunication, l.address, ch)
	}
	return c, nil
}

func (l *link) Read(_ context.Context, ch session.Channel) ([]byte, error) {
	c, err := l.characteristic(ch)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, readBufferSize)
	n, err := c.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", faults.ErrCommunication, ch, err)
	}
	return buf[:n], nil
}

func (l *link) Write(_ context.Context, ch session.Channel, payload []byte) error {
	c, err := l.characteristic(ch)
	if err != nil {
		return err
	}
	if _, err := c.Write(payload); err != nil {
		return fmt.Errorf("%w: write %s: %v", faults.ErrCommunication, ch, err)
	}
	return nil
}

func (l *link) Subscribe(_ context.Context, ch session.Channel, sink func([]byte)) error {
	c, err := l.characteristic(ch)
	if err != nil {
		return err
	}
	err = c.EnableNotifications(func(data []byte) {
		// The adapter may reuse its buffer after the callback returns.
		sink(append([]byte(nil), data...))
	})
	if err != nil {
		return fmt.Errorf("%w: subscribe %s: %v", faults.ErrCommunication, ch, err)
	}
	return nil
}

func (l *link) Unsubscribe(_ context.Context, ch session.Channel) error {
	c, err := l.characteristic(ch)
	if err != nil {
		return err
	}
	if err := c.EnableNotifications(nil); err != nil {
		return fmt.Errorf("%w: unsubscribe %s: %v", faults.ErrCommunication, ch, err)
	}
	return nil
}

func (l *link) Disconnect(context.Context) error {
	l.transport.mu.Lock()
	delete(l.transport.onLost, l.address)
	l.transport.mu.Unlock()
	if err := l.device.Disconnect(); err != nil {
		return fmt.Errorf("%w: disconnect %s: %v", faults.ErrCommunication, l.address, err)
	}
	return nil
}
