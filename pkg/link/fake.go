package link

import (
	"fmt"
	"sync"
)

// Notification is one notification recorded by Fake.
type Notification struct {
	Conn   Conn
	Handle Handle
	Data   []byte
}

// Fake is an in-memory Stack for tests. Events are injected with Connect,
// Disconnect, Recycle, Subscribe, Write and UpdateParams, and are delivered
// synchronously on the caller's goroutine.
type Fake struct {
	// Errors returned by the corresponding Stack methods.
	EnableErr     error
	RegisterErr   error
	AdvertiseErr  error
	NotifyErr     error
	PHYErr        error
	DataLengthErr error
	MTUErr        error

	// MTU is the ATT MTU reported by ExchangeMTU.
	MTU int

	mu            sync.Mutex
	handler       Handler
	chars         map[Handle]Characteristic
	next          Handle
	conn          Conn
	advertising   int
	notifications []Notification
	negotiated    []string
}

var _ Stack = (*Fake)(nil)

// NewFake creates a Fake stack with a default 247 byte MTU.
func NewFake() *Fake {
	return &Fake{
		MTU:   247,
		chars: make(map[Handle]Characteristic),
	}
}

// Enable implements Stack.
func (f *Fake) Enable(h Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.EnableErr != nil {
		return f.EnableErr
	}
	f.handler = h
	return nil
}

// Register implements Stack.
func (f *Fake) Register(svc *Service) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RegisterErr != nil {
		return f.RegisterErr
	}
	for i := range svc.Characteristics {
		f.next++
		svc.Characteristics[i].Handle = f.next
		f.chars[f.next] = svc.Characteristics[i]
	}
	return nil
}

// StartAdvertising implements Stack.
func (f *Fake) StartAdvertising() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.handler == nil {
		return ErrNotEnabled
	}
	if f.AdvertiseErr != nil {
		return f.AdvertiseErr
	}
	f.advertising++
	return nil
}

// Notify implements Stack.
func (f *Fake) Notify(conn Conn, h Handle, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.chars[h]
	if !ok || !c.Notify {
		return fmt.Errorf("notify %d: %w", h, ErrUnknownHandle)
	}
	if f.NotifyErr != nil {
		return f.NotifyErr
	}
	f.notifications = append(f.notifications, Notification{
		Conn:   conn,
		Handle: h,
		Data:   append([]byte(nil), data...),
	})
	return nil
}

// UpdatePHY implements Stack.
func (f *Fake) UpdatePHY(Conn) error {
	return f.negotiate("phy", f.PHYErr)
}

// UpdateDataLength implements Stack.
func (f *Fake) UpdateDataLength(_ Conn, octets int) error {
	return f.negotiate(fmt.Sprintf("data_length=%d", octets), f.DataLengthErr)
}

// ExchangeMTU implements Stack.
func (f *Fake) ExchangeMTU(Conn) (int, error) {
	if err := f.negotiate("mtu", f.MTUErr); err != nil {
		return 0, err
	}
	return PayloadSize(f.MTU), nil
}

func (f *Fake) negotiate(step string, err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.negotiated = append(f.negotiated, step)
	return err
}

// Connect simulates an accepted connection and returns its id.
func (f *Fake) Connect() Conn {
	f.mu.Lock()
	f.conn++
	conn, h := f.conn, f.handler
	f.mu.Unlock()

	h.Connected(conn)
	return conn
}

// Disconnect simulates the loss of the current connection.
func (f *Fake) Disconnect(reason string) {
	f.mu.Lock()
	conn, h := f.conn, f.handler
	f.mu.Unlock()

	h.Disconnected(conn, reason)
}

// Recycle simulates the stack releasing the current connection.
func (f *Fake) Recycle() {
	f.mu.Lock()
	conn, h := f.conn, f.handler
	f.mu.Unlock()

	h.Recycled(conn)
}

// Subscribe simulates a CCCD write.
func (f *Fake) Subscribe(h Handle, value uint16) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()

	handler.SubscriptionChanged(h, value)
}

// Write simulates a client write.
func (f *Fake) Write(h Handle, data []byte) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()

	handler.Written(h, data)
}

// UpdateParams simulates a link parameter update on the current connection.
func (f *Fake) UpdateParams(desc string) {
	f.mu.Lock()
	conn, h := f.conn, f.handler
	f.mu.Unlock()

	h.ParamsUpdated(conn, desc)
}

// Advertising returns how many times advertising was started.
func (f *Fake) Advertising() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.advertising
}

// Notifications returns the recorded notifications.
func (f *Fake) Notifications() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.notifications...)
}

// Negotiated returns the negotiation requests received, in order.
func (f *Fake) Negotiated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.negotiated...)
}

// Reset clears recorded notifications.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = nil
}
