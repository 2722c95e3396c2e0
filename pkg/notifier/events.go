package notifier

import (
	"context"
	"time"

	"github.com/itohio/gobfg/pkg/link"
	"github.com/itohio/gobfg/pkg/message"
)

var _ link.Handler = (*Notifier)(nil)

// Connected implements link.Handler.
func (n *Notifier) Connected(conn link.Conn) {
	n.mu.Lock()
	if n.state != StateAdvertising {
		state := n.state
		n.mu.Unlock()
		n.logger.Printf("ble: ignoring connection %d in state %s", conn, state)
		return
	}
	n.state = StateConnected
	n.conn = conn
	n.connected = true
	n.payload = 0
	n.resetSubscriptions()
	ctx := n.ctx
	n.mu.Unlock()

	n.logger.Printf("ble: connected (conn %d)", conn)
	n.setLED(true)
	go n.negotiate(ctx, conn)
}

// Disconnected implements link.Handler.
func (n *Notifier) Disconnected(conn link.Conn, reason string) {
	n.mu.Lock()
	if n.state != StateConnected || conn != n.conn {
		state := n.state
		n.mu.Unlock()
		n.logger.Printf("ble: ignoring disconnect of %d in state %s", conn, state)
		return
	}
	n.clearConnection()
	n.state = StateDisconnecting
	n.mu.Unlock()

	n.logger.Printf("ble: disconnected (reason %s)", reason)
	n.setLED(false)
}

// Recycled implements link.Handler.
func (n *Notifier) Recycled(conn link.Conn) {
	n.mu.Lock()
	var wasConnected bool
	switch n.state {
	case StateDisconnecting:
	case StateConnected:
		n.clearConnection()
		wasConnected = true
	default:
		state := n.state
		n.mu.Unlock()
		n.logger.Printf("ble: ignoring recycle of %d in state %s", conn, state)
		return
	}

	n.logger.Printf("ble: connection object available from previous conn, disconnect is complete")
	err := n.stack.StartAdvertising()
	if err != nil {
		n.state = StateIdle
	} else {
		n.state = StateAdvertising
	}
	n.mu.Unlock()

	if wasConnected {
		n.setLED(false)
	}
	if err != nil {
		n.logger.Printf("ble: advertising failed to start: %v", err)
		return
	}
	n.logger.Printf("ble: advertising successfully started")
}

// SubscriptionChanged implements link.Handler.
func (n *Notifier) SubscriptionChanged(h link.Handle, value uint16) {
	var on bool
	switch value {
	case link.CCCDNotify:
		on = true
	case link.CCCDDisabled:
	default:
		n.logger.Printf("ble: CCCD of handle %d set to an invalid value 0x%04X", h, value)
		return
	}

	if !n.notifiable(h) {
		n.logger.Printf("ble: CCCD write to unknown handle %d", h)
		return
	}

	n.subMu.Lock()
	n.subs[h] = on
	n.subMu.Unlock()
}

// Written implements link.Handler. It never blocks: a request that does not
// fit the setpoint queue is dropped.
func (n *Notifier) Written(h link.Handle, data []byte) {
	if hs := n.handles.Load(); hs == nil || h != hs.LDOSet {
		n.logger.Printf("ble: write to unexpected handle %d", h)
		return
	}
	n.logger.Printf("ble: received LDO set data: 0x%X", data)

	req, err := DecodeVoltage(data)
	if err != nil {
		n.logger.Printf("ble: LDO set request rejected: %v", err)
		return
	}
	n.logger.Printf("ble: requested LDO voltage (mV): %d", req.Millivolts)
	message.Offer(n.setpoints, req)
}

// ParamsUpdated implements link.Handler.
func (n *Notifier) ParamsUpdated(conn link.Conn, desc string) {
	n.logger.Printf("ble: conn %d: %s", conn, desc)
}

// Payload returns the negotiated notification payload size, 0 if none.
func (n *Notifier) Payload() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.payload
}

// clearConnection must be called with mu held.
func (n *Notifier) clearConnection() {
	n.conn = 0
	n.connected = false
	n.payload = 0
	n.resetSubscriptions()
}

// negotiate runs the best-effort link updates for a new connection.
// Failures are only logged.
func (n *Notifier) negotiate(ctx context.Context, conn link.Conn) {
	if err := n.stack.UpdatePHY(conn); err != nil {
		n.logger.Printf("ble: phy update: %v", err)
	}

	if n.negotiationDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(n.negotiationDelay):
		}
	}

	if err := n.stack.UpdateDataLength(conn, n.dataLength); err != nil {
		n.logger.Printf("ble: data length update: %v", err)
	}

	payload, err := n.stack.ExchangeMTU(conn)
	if err != nil {
		n.logger.Printf("ble: MTU exchange failed: %v", err)
		return
	}
	n.logger.Printf("ble: MTU exchange successful, new payload size: %d bytes", payload)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.connected && n.conn == conn {
		n.payload = payload
	}
}
