package notifier

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gobfg/pkg/config"
	"github.com/itohio/gobfg/pkg/indicator"
	"github.com/itohio/gobfg/pkg/link"
	"github.com/itohio/gobfg/pkg/message"
)

// logBuffer is a bytes.Buffer safe for a logger writing from other goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	n     *Notifier
	stack *link.Fake
	led   *indicator.Fake
	q     *message.Queues
	ready chan struct{}
	log   *logBuffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default().BLE
	cfg.NegotiationDelay = 0

	f := &fixture{
		stack: link.NewFake(),
		led:   &indicator.Fake{},
		q:     message.NewQueues(message.DefaultQueueCapacity),
		ready: make(chan struct{}),
		log:   &logBuffer{},
	}
	f.n = New(f.stack, f.led, f.q, f.ready, &cfg)
	f.n.interval = time.Millisecond
	f.n.SetLogger(log.New(f.log, "", 0))
	return f
}

// started returns a fixture whose notifier is advertising.
func started(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	require.NoError(t, f.n.Start())
	require.Equal(t, StateAdvertising, f.n.State())
	return f
}

// connected returns a fixture with an accepted connection and finished negotiation.
func connected(t *testing.T) *fixture {
	t.Helper()
	f := started(t)
	f.stack.Connect()
	require.Eventually(t, func() bool { return len(f.stack.Negotiated()) == 3 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return f.n.Payload() > 0 }, time.Second, time.Millisecond)
	return f
}

func TestNew_ClampsNotifyInterval(t *testing.T) {
	cfg := config.Default().BLE
	cfg.NotifyInterval = 100 * time.Millisecond
	n := New(link.NewFake(), nil, message.NewQueues(1), nil, &cfg)
	assert.Equal(t, config.MaxNotifyInterval, n.interval)

	cfg.NotifyInterval = 600 * time.Millisecond
	n = New(link.NewFake(), nil, message.NewQueues(1), nil, &cfg)
	assert.Equal(t, 600*time.Millisecond, n.interval)
}

func TestStart(t *testing.T) {
	f := started(t)
	assert.Equal(t, 1, f.stack.Advertising())

	h := f.n.Handles()
	assert.NotEqual(t, link.InvalidHandle, h.Status)
	assert.NotEqual(t, link.InvalidHandle, h.LDOSet)
}

func TestStart_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*link.Fake)
	}{
		{"enable", func(s *link.Fake) { s.EnableErr = errors.New("no controller") }},
		{"register", func(s *link.Fake) { s.RegisterErr = errors.New("gatt full") }},
		{"advertise", func(s *link.Fake) { s.AdvertiseErr = errors.New("busy") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f.stack)
			assert.Error(t, f.n.Start())
			assert.Equal(t, StateIdle, f.n.State())
		})
	}
}

func TestStateMachine(t *testing.T) {
	f := started(t)

	conn := f.stack.Connect()
	assert.Equal(t, StateConnected, f.n.State())
	assert.True(t, f.led.On())
	assert.Equal(t, link.Conn(1), conn)

	f.stack.Disconnect("remote user terminated")
	assert.Equal(t, StateDisconnecting, f.n.State())
	assert.False(t, f.led.On())
	assert.Equal(t, 1, f.stack.Advertising())

	f.stack.Recycle()
	assert.Equal(t, StateAdvertising, f.n.State())
	assert.Equal(t, 2, f.stack.Advertising())

	// Recycle straight from Connected also restarts advertising.
	f.stack.Connect()
	assert.Equal(t, StateConnected, f.n.State())
	f.stack.Recycle()
	assert.Equal(t, StateAdvertising, f.n.State())
	assert.False(t, f.led.On())
	assert.Equal(t, 3, f.stack.Advertising())
}

// stateLED reads the notifier state from inside Set, which needs the
// notifier lock to be free.
type stateLED struct {
	n *Notifier

	mu   sync.Mutex
	seen []State
}

func (l *stateLED) Set(bool) error {
	s := l.n.State()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, s)
	return nil
}

func (l *stateLED) Close() error { return nil }

func (l *stateLED) Seen() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.seen...)
}

func TestStateMachine_LEDSetWithoutLock(t *testing.T) {
	f := started(t)
	led := &stateLED{n: f.n}
	f.n.led = led

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.stack.Connect()
		f.stack.Disconnect("timeout")
		f.stack.Recycle()
		f.stack.Connect()
		f.stack.Recycle()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("connection events blocked while setting the LED")
	}
	assert.Equal(t, []State{StateConnected, StateDisconnecting, StateConnected, StateAdvertising}, led.Seen())
}

func TestStateMachine_ConnectedOnlyFromAdvertising(t *testing.T) {
	f := newFixture(t)
	f.n.Connected(1)
	assert.Equal(t, StateIdle, f.n.State())
	assert.Empty(t, f.led.States())

	f = started(t)
	f.stack.Connect()
	f.stack.Disconnect("timeout")
	f.n.Connected(7)
	assert.Equal(t, StateDisconnecting, f.n.State())
}

func TestStateMachine_RepeatedDisconnectIsNoop(t *testing.T) {
	f := started(t)
	f.stack.Connect()
	f.stack.Disconnect("timeout")
	f.stack.Recycle()
	require.Equal(t, StateAdvertising, f.n.State())
	states := len(f.led.States())

	for i := 0; i < 3; i++ {
		f.stack.Disconnect("timeout")
		f.stack.Recycle()
	}
	assert.Equal(t, StateAdvertising, f.n.State())
	assert.Equal(t, 2, f.stack.Advertising())
	assert.Len(t, f.led.States(), states)

	f.n.Send(testSample, testReport)
	assert.Empty(t, f.stack.Notifications())
	assert.Contains(t, f.log.String(), "no active connection")
}

func TestStateMachine_RecycleInIdleIsNoop(t *testing.T) {
	f := newFixture(t)
	f.n.Recycled(1)
	f.n.Disconnected(1, "x")
	assert.Equal(t, StateIdle, f.n.State())
	assert.Equal(t, 0, f.stack.Advertising())
}

func TestStateMachine_StaleDisconnect(t *testing.T) {
	f := started(t)
	conn := f.stack.Connect()
	f.n.Disconnected(conn+1, "stale")
	assert.Equal(t, StateConnected, f.n.State())
}

func TestStateMachine_AdvertisingRestartFails(t *testing.T) {
	f := started(t)
	f.stack.Connect()
	f.stack.Disconnect("timeout")
	f.stack.AdvertiseErr = errors.New("no resources")
	f.stack.Recycle()
	assert.Equal(t, StateIdle, f.n.State())
	assert.Contains(t, f.log.String(), "advertising failed to start")
}

func TestNegotiation(t *testing.T) {
	f := connected(t)
	assert.Equal(t, []string{"phy", "data_length=251", "mtu"}, f.stack.Negotiated())
	assert.Equal(t, 244, f.n.Payload())
}

func TestNegotiation_FailuresAreLoggedOnly(t *testing.T) {
	f := started(t)
	f.stack.PHYErr = link.ErrUnsupported
	f.stack.DataLengthErr = link.ErrUnsupported
	f.stack.MTUErr = link.ErrUnsupported

	f.stack.Connect()
	require.Eventually(t, func() bool { return len(f.stack.Negotiated()) == 3 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return strings.Contains(f.log.String(), "MTU exchange failed") }, time.Second, time.Millisecond)

	assert.Equal(t, StateConnected, f.n.State())
	assert.Equal(t, 0, f.n.Payload())
}

func TestSubscriptions(t *testing.T) {
	f := connected(t)
	h := f.n.Handles()

	f.stack.Subscribe(h.Boost, link.CCCDNotify)
	f.stack.Subscribe(h.LDO, link.CCCDNotify)
	assert.True(t, f.n.Subscribed(h.Boost))
	assert.True(t, f.n.Subscribed(h.LDO))

	f.stack.Subscribe(h.LDO, link.CCCDDisabled)
	assert.True(t, f.n.Subscribed(h.Boost))
	assert.False(t, f.n.Subscribed(h.LDO))

	// Invalid CCCD values leave the flag unchanged.
	f.stack.Subscribe(h.Boost, 0x0002)
	assert.True(t, f.n.Subscribed(h.Boost))
	assert.Contains(t, f.log.String(), "invalid value 0x0002")

	// The write characteristic cannot be subscribed.
	f.stack.Subscribe(h.LDOSet, link.CCCDNotify)
	assert.False(t, f.n.Subscribed(h.LDOSet))
}

func TestSubscriptions_ResetOnConnectionChange(t *testing.T) {
	f := connected(t)
	h := f.n.Handles()

	f.stack.Subscribe(h.Boost, link.CCCDNotify)
	f.stack.Disconnect("timeout")
	assert.False(t, f.n.Subscribed(h.Boost))

	f.stack.Recycle()
	f.stack.Connect()
	assert.False(t, f.n.Subscribed(h.Boost))
}

func TestSend_OnlySubscribed(t *testing.T) {
	f := connected(t)
	h := f.n.Handles()

	f.stack.Subscribe(h.LDO, link.CCCDNotify)
	f.stack.Subscribe(h.SoC, link.CCCDNotify)
	f.n.Send(testSample, testReport)

	got := f.stack.Notifications()
	require.Len(t, got, 2)
	assert.Equal(t, h.LDO, got[0].Handle)
	assert.Equal(t, []byte{0x08, 0x07, 0x00, 0x00}, got[0].Data)
	assert.Equal(t, h.SoC, got[1].Handle)
	assert.Equal(t, []byte{87, 0, 0, 0}, got[1].Data)

	// Turning one flag off suppresses only that characteristic.
	f.stack.Reset()
	f.stack.Subscribe(h.SoC, link.CCCDDisabled)
	f.n.Send(testSample, testReport)
	got = f.stack.Notifications()
	require.Len(t, got, 1)
	assert.Equal(t, h.LDO, got[0].Handle)
}

func TestSend_AllSubscribed(t *testing.T) {
	f := connected(t)
	h := f.n.Handles()
	for _, x := range h.Notifiable() {
		f.stack.Subscribe(x, link.CCCDNotify)
	}

	f.n.Send(testSample, testReport)

	got := f.stack.Notifications()
	require.Len(t, got, 4)
	assert.Equal(t, []link.Handle{h.Boost, h.LDO, h.SoC, h.Status},
		[]link.Handle{got[0].Handle, got[1].Handle, got[2].Handle, got[3].Handle})
	assert.Equal(t, wantStatus, string(got[3].Data))
	for _, n := range got {
		assert.Equal(t, link.Conn(1), n.Conn)
	}
}

func TestSend_StatusTooLarge(t *testing.T) {
	f := started(t)
	f.stack.MTU = 23 // 20 byte payload
	f.stack.Connect()
	require.Eventually(t, func() bool { return f.n.Payload() == 20 }, time.Second, time.Millisecond)

	h := f.n.Handles()
	f.stack.Subscribe(h.Status, link.CCCDNotify)
	f.stack.Subscribe(h.Boost, link.CCCDNotify)
	f.n.Send(testSample, testReport)

	got := f.stack.Notifications()
	require.Len(t, got, 1)
	assert.Equal(t, h.Boost, got[0].Handle)
	assert.Contains(t, f.log.String(), "need 73 bytes, have 20")
}

func TestSend_UsesMaxPayloadWithoutMTU(t *testing.T) {
	f := started(t)
	f.stack.MTUErr = link.ErrUnsupported
	f.stack.Connect()
	require.Eventually(t, func() bool { return len(f.stack.Negotiated()) == 3 }, time.Second, time.Millisecond)

	f.stack.Subscribe(f.n.Handles().Status, link.CCCDNotify)
	f.n.Send(testSample, testReport)

	got := f.stack.Notifications()
	require.Len(t, got, 1)
	assert.Equal(t, wantStatus, string(got[0].Data))
}

func TestSend_NotifyErrorIsLogged(t *testing.T) {
	f := connected(t)
	f.stack.Subscribe(f.n.Handles().Boost, link.CCCDNotify)
	f.stack.NotifyErr = errors.New("tx queue full")

	f.n.Send(testSample, testReport)
	assert.Contains(t, f.log.String(), "unable to send boost notification: tx queue full")
	assert.Equal(t, StateConnected, f.n.State())
}

func TestWritten(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want []int32
	}{
		{"valid", []byte{0x18, 0x00}, []int32{1800}},
		{"lower bound", []byte{0x08, 0x00}, []int32{800}},
		{"upper bound", []byte{0x30, 0x00}, []int32{3000}},
		{"out of range", []byte{0x30, 0x10}, nil},
		{"below range", []byte{0x05, 0x00}, nil},
		{"malformed", []byte{0x1F, 0x00}, nil},
		{"short", []byte{0x18}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := connected(t)
			f.stack.Write(f.n.Handles().LDOSet, tt.data)

			var got []int32
			for len(f.q.Setpoints) > 0 {
				got = append(got, (<-f.q.Setpoints).Millivolts)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWritten_WrongHandle(t *testing.T) {
	f := connected(t)
	f.stack.Write(f.n.Handles().Boost, []byte{0x18, 0x00})
	assert.Empty(t, f.q.Setpoints)
}

func TestWritten_FullQueueDrops(t *testing.T) {
	f := connected(t)
	h := f.n.Handles().LDOSet

	for i := 0; i < message.DefaultQueueCapacity+3; i++ {
		f.stack.Write(h, []byte{0x12, 0x00})
	}
	assert.Len(t, f.q.Setpoints, message.DefaultQueueCapacity)
}

func TestParamsUpdated(t *testing.T) {
	f := connected(t)
	f.stack.UpdateParams("interval 30ms, latency 0, timeout 4s")
	assert.Contains(t, f.log.String(), "conn 1: interval 30ms, latency 0, timeout 4s")
}

type fakeMirror struct {
	mu    sync.Mutex
	count int
}

func (m *fakeMirror) Offer(message.VoltageSample, message.FuelGaugeReport) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count++
	return true
}

func (m *fakeMirror) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func runNotifier(t *testing.T, f *fixture) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.n.Run(ctx) }()
	return cancel, done
}

func waitStopped(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("notifier did not stop")
	}
}

func TestRun_WaitsForReady(t *testing.T) {
	f := newFixture(t)
	cancel, done := runNotifier(t, f)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateIdle, f.n.State())
	assert.Equal(t, 0, f.stack.Advertising())

	close(f.ready)
	require.Eventually(t, func() bool { return f.n.State() == StateAdvertising }, time.Second, time.Millisecond)

	cancel()
	waitStopped(t, done)
}

func TestRun_StartFailureKeepsDraining(t *testing.T) {
	f := newFixture(t)
	f.stack.EnableErr = errors.New("no controller")
	close(f.ready)
	cancel, done := runNotifier(t, f)

	for i := 0; i < 3; i++ {
		f.q.Samples <- testSample
		f.q.Reports <- testReport
	}
	require.Eventually(t, func() bool { return len(f.q.Samples) == 0 && len(f.q.Reports) == 0 }, time.Second, time.Millisecond)

	cancel()
	waitStopped(t, done)
	assert.Contains(t, f.log.String(), "unable to initialize")
	assert.Equal(t, StateIdle, f.n.State())
}

// TestScenario_NeverConnects checks that without a client every cycle only
// logs and nothing is sent.
func TestScenario_NeverConnects(t *testing.T) {
	f := newFixture(t)
	mirror := &fakeMirror{}
	f.n.SetMirror(mirror)
	close(f.ready)
	cancel, done := runNotifier(t, f)

	const cycles = 5
	for i := 0; i < cycles; i++ {
		f.q.Samples <- testSample
		f.q.Reports <- testReport
	}
	require.Eventually(t, func() bool { return mirror.Count() == cycles }, time.Second, time.Millisecond)

	cancel()
	waitStopped(t, done)

	assert.Equal(t, cycles, strings.Count(f.log.String(), "no active connection"))
	assert.Empty(t, f.stack.Notifications())
	assert.Equal(t, StateAdvertising, f.n.State())
}

// TestScenario_BoostOnly subscribes only the boost characteristic and checks
// that two cycles produce exactly two boost notifications.
func TestScenario_BoostOnly(t *testing.T) {
	f := newFixture(t)
	mirror := &fakeMirror{}
	f.n.SetMirror(mirror)
	close(f.ready)
	cancel, done := runNotifier(t, f)

	require.Eventually(t, func() bool { return f.n.State() == StateAdvertising }, time.Second, time.Millisecond)
	f.stack.Connect()
	f.stack.Subscribe(f.n.Handles().Boost, link.CCCDNotify)

	second := message.VoltageSample{Boost: message.Failed(), LDO: message.Millivolts(1700)}
	f.q.Samples <- testSample
	f.q.Reports <- testReport
	f.q.Samples <- second
	f.q.Reports <- testReport
	require.Eventually(t, func() bool { return mirror.Count() == 2 }, time.Second, time.Millisecond)

	cancel()
	waitStopped(t, done)

	got := f.stack.Notifications()
	require.Len(t, got, 2)
	boost := f.n.Handles().Boost
	assert.Equal(t, boost, got[0].Handle)
	assert.Equal(t, boost, got[1].Handle)
	assert.Equal(t, []byte{0xC4, 0x09, 0x00, 0x00}, got[0].Data)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, got[1].Data)
}
