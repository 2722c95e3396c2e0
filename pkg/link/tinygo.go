package link

import (
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// TinyGo is a Stack backed by tinygo.org/x/bluetooth.
//
// The library does not expose CCCD writes, connection recycling or link
// negotiation to peripherals. Notify characteristics are reported as
// subscribed on connect, Recycled follows every Disconnected, and the
// negotiation requests return ErrUnsupported.
type TinyGo struct {
	adapter     *bluetooth.Adapter
	name        string
	advInterval time.Duration

	mu       sync.Mutex
	handler  Handler
	chars    map[Handle]*bluetooth.Characteristic
	notify   []Handle
	services []bluetooth.UUID
	adv      *bluetooth.Advertisement
	conn     Conn
	next     Handle
}

var _ Stack = (*TinyGo)(nil)

// NewTinyGo creates a stack on the default adapter advertising as name.
func NewTinyGo(name string, advInterval time.Duration) *TinyGo {
	return &TinyGo{
		adapter:     bluetooth.DefaultAdapter,
		name:        name,
		advInterval: advInterval,
		chars:       make(map[Handle]*bluetooth.Characteristic),
	}
}

// Enable implements Stack.
func (t *TinyGo) Enable(h Handler) error {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()

	t.adapter.SetConnectHandler(t.onConnect)
	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	return nil
}

// Register implements Stack.
func (t *TinyGo) Register(svc *Service) error {
	uuid, err := bluetooth.ParseUUID(svc.UUID)
	if err != nil {
		return fmt.Errorf("service uuid %q: %w", svc.UUID, err)
	}

	chars := make([]bluetooth.Characteristic, len(svc.Characteristics))
	configs := make([]bluetooth.CharacteristicConfig, 0, len(svc.Characteristics))

	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range svc.Characteristics {
		c := &svc.Characteristics[i]
		cu, err := bluetooth.ParseUUID(c.UUID)
		if err != nil {
			return fmt.Errorf("characteristic %s uuid %q: %w", c.Name, c.UUID, err)
		}

		t.next++
		h := t.next
		cfg := bluetooth.CharacteristicConfig{
			Handle: &chars[i],
			UUID:   cu,
			Flags:  bluetooth.CharacteristicReadPermission,
		}
		if c.Notify {
			cfg.Flags |= bluetooth.CharacteristicNotifyPermission
			t.notify = append(t.notify, h)
		}
		if c.Write {
			cfg.Flags |= bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission
			cfg.WriteEvent = func(_ bluetooth.Connection, _ int, value []byte) {
				t.onWrite(h, value)
			}
		}
		configs = append(configs, cfg)
		t.chars[h] = &chars[i]
		c.Handle = h
	}

	err = t.adapter.AddService(&bluetooth.Service{
		UUID:            uuid,
		Characteristics: configs,
	})
	if err != nil {
		return fmt.Errorf("add service %s: %w", svc.UUID, err)
	}
	t.services = append(t.services, uuid)
	return nil
}

// StartAdvertising implements Stack.
func (t *TinyGo) StartAdvertising() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.adv == nil {
		adv := t.adapter.DefaultAdvertisement()
		err := adv.Configure(bluetooth.AdvertisementOptions{
			LocalName:    t.name,
			ServiceUUIDs: t.services,
			Interval:     bluetooth.NewDuration(t.advInterval),
		})
		if err != nil {
			return fmt.Errorf("configure advertisement: %w", err)
		}
		t.adv = adv
	} else {
		// Restarting a running advertisement fails on some platforms.
		_ = t.adv.Stop()
	}

	if err := t.adv.Start(); err != nil {
		return fmt.Errorf("start advertising: %w", err)
	}
	return nil
}

// Notify implements Stack.
func (t *TinyGo) Notify(conn Conn, h Handle, data []byte) error {
	t.mu.Lock()
	c, ok := t.chars[h]
	current := t.conn
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("notify %d: %w", h, ErrUnknownHandle)
	}
	if conn != current {
		return fmt.Errorf("notify %d: stale connection %d", h, conn)
	}
	if _, err := c.Write(data); err != nil {
		return fmt.Errorf("notify %d: %w", h, err)
	}
	return nil
}

// UpdatePHY implements Stack.
func (t *TinyGo) UpdatePHY(Conn) error {
	return ErrUnsupported
}

// UpdateDataLength implements Stack.
func (t *TinyGo) UpdateDataLength(Conn, int) error {
	return ErrUnsupported
}

// ExchangeMTU implements Stack.
func (t *TinyGo) ExchangeMTU(Conn) (int, error) {
	return 0, ErrUnsupported
}

func (t *TinyGo) onConnect(_ bluetooth.Device, connected bool) {
	t.mu.Lock()
	h := t.handler
	if connected {
		t.conn++
	}
	conn := t.conn
	notify := append([]Handle(nil), t.notify...)
	t.mu.Unlock()

	if h == nil {
		return
	}
	if !connected {
		h.Disconnected(conn, "peer disconnected")
		h.Recycled(conn)
		return
	}

	h.Connected(conn)
	for _, n := range notify {
		h.SubscriptionChanged(n, CCCDNotify)
	}
}

func (t *TinyGo) onWrite(handle Handle, value []byte) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()

	if h != nil {
		h.Written(handle, append([]byte(nil), value...))
	}
}
