// Package link abstracts the BLE peripheral stack used to publish gauge
// readings: GATT registration, advertising, notifications and the
// connection events the stack reports.
package link

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupported   = fmt.Errorf("link: %w", errors.ErrUnsupported)
	ErrNotEnabled    = errors.New("link: stack not enabled")
	ErrUnknownHandle = errors.New("link: unknown characteristic handle")
)

// Conn identifies one connection. Each accepted connection gets a new value.
type Conn uint32

// Handle identifies a registered characteristic.
type Handle int

// InvalidHandle is the zero Handle; Register never returns it.
const InvalidHandle Handle = 0

// CCCD values written by clients to a notification-enable descriptor.
const (
	CCCDDisabled uint16 = 0x0000
	CCCDNotify   uint16 = 0x0001
)

// Characteristic describes one GATT characteristic. Handle is filled in by
// Stack.Register.
type Characteristic struct {
	Name   string
	UUID   string
	Notify bool
	Write  bool // write and write-without-response

	Handle Handle
}

// Service describes a primary GATT service.
type Service struct {
	UUID            string
	Characteristics []Characteristic
}

// Handler receives events from the stack. Methods are called from the
// stack's own goroutine and must not block for long.
type Handler interface {
	// Connected is called when a central connection was accepted.
	Connected(conn Conn)
	// Disconnected is called when the connection is lost, for any reason.
	Disconnected(conn Conn, reason string)
	// Recycled is called once the stack released the resources of a
	// disconnected connection and can accept a new one.
	Recycled(conn Conn)
	// SubscriptionChanged is called when a client writes the CCCD of a
	// notifiable characteristic.
	SubscriptionChanged(h Handle, value uint16)
	// Written is called when a client writes a writable characteristic.
	Written(h Handle, data []byte)
	// ParamsUpdated reports link parameter changes (interval, PHY, data length).
	ParamsUpdated(conn Conn, desc string)
}

// Stack is a BLE peripheral stack.
type Stack interface {
	// Enable powers the controller and starts delivering events to h.
	Enable(h Handler) error
	// Register adds svc to the GATT server and assigns characteristic handles.
	Register(svc *Service) error
	// StartAdvertising starts (or restarts) connectable advertising.
	StartAdvertising() error
	// Notify sends data as a notification of characteristic h.
	Notify(conn Conn, h Handle, data []byte) error

	// UpdatePHY requests the preferred physical layer mode.
	UpdatePHY(conn Conn) error
	// UpdateDataLength requests the maximum link-layer TX octets.
	UpdateDataLength(conn Conn, octets int) error
	// ExchangeMTU negotiates the ATT MTU and returns the usable
	// notification payload size (MTU minus the 3 byte ATT header).
	ExchangeMTU(conn Conn) (int, error)
}

// PayloadSize returns the notification payload available for an ATT MTU.
func PayloadSize(mtu int) int {
	const attHeader = 3
	if mtu <= attHeader {
		return 0
	}
	return mtu - attHeader
}
