package telemetry

import (
	"context"
	"log"
	"time"

	"github.com/itohio/gobfg/pkg/message"
)

type status struct {
	at     time.Time
	sample message.VoltageSample
	report message.FuelGaugeReport
}

// Mirror forwards notifier cycles to a Publisher from its own goroutine so a
// slow broker never delays wireless notifications.
type Mirror struct {
	pub    Publisher
	queue  chan status
	now    func() time.Time
	logger *log.Logger
}

// NewMirror creates a mirror buffering up to size statuses.
func NewMirror(pub Publisher, size int) *Mirror {
	if size <= 0 {
		size = message.DefaultQueueCapacity
	}
	return &Mirror{
		pub:    pub,
		queue:  make(chan status, size),
		now:    time.Now,
		logger: log.Default(),
	}
}

// SetLogger replaces the default logger.
func (m *Mirror) SetLogger(l *log.Logger) {
	m.logger = l
}

// Offer queues one status without waiting. It returns false and drops the
// status when the buffer is full.
func (m *Mirror) Offer(s message.VoltageSample, r message.FuelGaugeReport) bool {
	return message.Offer(m.queue, status{at: m.now(), sample: s, report: r})
}

// Run publishes queued statuses until ctx is done, then closes the publisher.
func (m *Mirror) Run(ctx context.Context) error {
	defer func() {
		if err := m.pub.Close(); err != nil {
			m.logger.Printf("telemetry: close: %v", err)
		}
	}()

	for {
		st, err := message.Take(ctx, m.queue)
		if err != nil {
			return err
		}

		payload, err := FormatPayload(st.at, st.sample, st.report)
		if err != nil {
			m.logger.Printf("telemetry: format payload: %v", err)
			continue
		}
		if err := m.pub.Publish(payload); err != nil {
			m.logger.Printf("telemetry: %v", err)
		}
	}
}
