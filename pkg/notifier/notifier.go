// Package notifier publishes gauge readings over BLE and handles remote
// writes. It owns the connection state machine and the per-characteristic
// subscription flags.
package notifier

import (
	"context"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/gobfg/pkg/config"
	"github.com/itohio/gobfg/pkg/indicator"
	"github.com/itohio/gobfg/pkg/link"
	"github.com/itohio/gobfg/pkg/message"
)

// Mirror receives a copy of every sample/report pair. Offer must not block.
type Mirror interface {
	Offer(s message.VoltageSample, r message.FuelGaugeReport) bool
}

// Notifier pairs the Nth sample with the Nth report purely by arrival order;
// the two producers are not correlated by time.
type Notifier struct {
	stack     link.Stack
	led       indicator.LED
	samples   <-chan message.VoltageSample
	reports   <-chan message.FuelGaugeReport
	setpoints chan<- message.RegulatorSetRequest
	ready     <-chan struct{}
	mirror    Mirror
	logger    *log.Logger

	interval         time.Duration
	negotiationDelay time.Duration
	dataLength       int
	maxPayload       int

	// handles is set once the service is registered.
	handles atomic.Pointer[link.Handles]

	// mu guards the connection. Sends hold the read lock for the whole
	// pass, so clearing the connection waits for an in-flight pass.
	mu        sync.RWMutex
	ctx       context.Context
	state     State
	conn      link.Conn
	connected bool
	payload   int // negotiated notification payload, 0 if none

	subMu sync.Mutex
	subs  map[link.Handle]bool
}

// New creates a notifier. It does nothing until Run is called and ready is
// closed.
func New(stack link.Stack, led indicator.LED, q *message.Queues, ready <-chan struct{}, cfg *config.BLEConfig) *Notifier {
	if led == nil {
		led = indicator.Nop{}
	}
	interval := cfg.NotifyInterval
	if interval < config.MinNotifyInterval || interval > config.MaxNotifyInterval {
		interval = config.MaxNotifyInterval
	}

	return &Notifier{
		stack:            stack,
		led:              led,
		samples:          q.Samples,
		reports:          q.Reports,
		setpoints:        q.Setpoints,
		ready:            ready,
		logger:           log.Default(),
		interval:         interval,
		negotiationDelay: cfg.NegotiationDelay,
		dataLength:       cfg.DataLength,
		maxPayload:       cfg.MaxPayload,
		ctx:              context.Background(),
		subs:             make(map[link.Handle]bool),
	}
}

// SetLogger replaces the default logger.
func (n *Notifier) SetLogger(l *log.Logger) {
	n.logger = l
}

// SetMirror installs a mirror offered every sample/report pair.
func (n *Notifier) SetMirror(m Mirror) {
	n.mirror = m
}

// State returns the current connection state.
func (n *Notifier) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Subscribed reports whether notifications of h are enabled.
func (n *Notifier) Subscribed(h link.Handle) bool {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	return n.subs[h]
}

// Handles returns the registered characteristic handles.
func (n *Notifier) Handles() link.Handles {
	if h := n.handles.Load(); h != nil {
		return *h
	}
	return link.Handles{}
}

func (n *Notifier) notifiable(h link.Handle) bool {
	hs := n.handles.Load()
	return hs != nil && slices.Contains(hs.Notifiable(), h)
}

// Run waits for the hardware-ready signal, brings up the stack and then
// forwards readings until ctx is done. A stack that fails to start leaves
// the notifier Idle; readings are still consumed so producers never stall.
func (n *Notifier) Run(ctx context.Context) error {
	select {
	case <-n.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	n.mu.Lock()
	n.ctx = ctx
	n.mu.Unlock()

	if err := n.Start(); err != nil {
		n.logger.Printf("ble: unable to initialize: %v", err)
	}

	for {
		if err := n.Cycle(ctx); err != nil {
			return err
		}
	}
}

// Start enables the stack, registers the gauge service and starts
// advertising.
func (n *Notifier) Start() error {
	if err := n.stack.Enable(n); err != nil {
		return err
	}
	n.logger.Printf("ble: bluetooth initialized")

	handles, err := link.RegisterGaugeService(n.stack)
	if err != nil {
		return err
	}

	n.handles.Store(&handles)

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.stack.StartAdvertising(); err != nil {
		return err
	}
	n.state = StateAdvertising
	n.logger.Printf("ble: advertising successfully started")
	return nil
}

// Cycle waits for the next sample and the next report, notifies subscribed
// characteristics and then sleeps for the throttle interval.
func (n *Notifier) Cycle(ctx context.Context) error {
	sample, err := message.Take(ctx, n.samples)
	if err != nil {
		return err
	}
	n.logger.Printf("ble: rx sample: boost=%s ldo=%s", sample.Boost, sample.LDO)

	report, err := message.Take(ctx, n.reports)
	if err != nil {
		return err
	}
	n.logger.Printf("ble: rx report: V: %.2f T: %.2f SoC: %.2f", report.Voltage, report.Temperature, report.SoC)

	n.Send(sample, report)
	if n.mirror != nil && !n.mirror.Offer(sample, report) {
		n.logger.Printf("ble: telemetry buffer full, status dropped")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(n.interval):
		return nil
	}
}

// Send performs one notification pass. Outputs without a subscription are
// skipped silently; a status that does not fit the payload is logged and
// skipped.
func (n *Notifier) Send(s message.VoltageSample, r message.FuelGaugeReport) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if !n.connected {
		n.logger.Printf("ble: no active connection")
		return
	}

	hs := n.Handles()
	n.notify(hs.Boost, "boost", encodeMillivolts(s.Boost))
	n.notify(hs.LDO, "ldo", encodeMillivolts(s.LDO))
	n.notify(hs.SoC, "soc", encodeSoC(r.SoC))

	if !n.Subscribed(hs.Status) {
		return
	}
	limit := n.payload
	if limit <= 0 {
		limit = n.maxPayload
	}
	status, err := FormatStatus(limit, s, r)
	if err != nil {
		n.logger.Printf("ble: status report: %v", err)
		return
	}
	n.notify(hs.Status, "status", status)
}

// notify must be called with mu held.
func (n *Notifier) notify(h link.Handle, name string, data []byte) {
	if !n.Subscribed(h) {
		return
	}
	if err := n.stack.Notify(n.conn, h, data); err != nil {
		n.logger.Printf("ble: unable to send %s notification: %v", name, err)
	}
}

func (n *Notifier) resetSubscriptions() {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	clear(n.subs)
}

func (n *Notifier) setLED(on bool) {
	if err := n.led.Set(on); err != nil {
		n.logger.Printf("ble: connection indicator: %v", err)
	}
}
