// Package metrics accumulates the broker's runtime counters and exposes
// them two ways: as Prometheus collectors, and as periodic $SYS/* gauge
// publishes driven through the dispatcher.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimbusmq/broker/codec"
	"github.com/nimbusmq/broker/message"
	"github.com/nimbusmq/broker/session"
	"github.com/prometheus/client_golang/prometheus"
)

// Publisher is the dispatcher surface Collector needs to emit $SYS
// gauges. *dispatcher.Dispatcher satisfies this.
type Publisher interface {
	Publish(ctx context.Context, msg *message.Message, publisher session.SessionGid) error
}

// Collector accumulates broker counters and implements
// dispatcher.MetricsSink.
type Collector struct {
	packetsIn   atomic.Int64
	packetsOut  atomic.Int64
	bytesIn     atomic.Int64
	bytesOut    atomic.Int64
	subscribes  atomic.Int64
	drops       atomic.Int64
	dropReasons sync.Map // reason string -> *atomic.Int64

	mu                sync.RWMutex
	activeSessions    map[uint32]int64 // listenerID -> count
	retainedCount     atomic.Int64
	retainedBytes     atomic.Int64

	promPacketsIn  prometheus.Counter
	promPacketsOut prometheus.Counter
	promBytesIn    prometheus.Counter
	promBytesOut   prometheus.Counter
	promSessions   prometheus.Gauge
	promSubs       prometheus.Gauge
	promDrops      prometheus.Counter
	promRetained   prometheus.Gauge
}

// New creates a Collector with its Prometheus metrics unregistered.
// Call Register to attach them to a registry.
func New() *Collector {
	return &Collector{
		activeSessions: make(map[uint32]int64),
		promPacketsIn:  prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_packets_received_total", Help: "Total MQTT packets received"}),
		promPacketsOut: prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_packets_sent_total", Help: "Total MQTT packets sent"}),
		promBytesIn:    prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_bytes_received_total", Help: "Total MQTT bytes received"}),
		promBytesOut:   prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_bytes_sent_total", Help: "Total MQTT bytes sent"}),
		promSessions:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqtt_active_sessions", Help: "Active sessions across all listeners"}),
		promSubs:       prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqtt_subscriptions", Help: "Live subscriptions"}),
		promDrops:      prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_publish_drops_total", Help: "Publishes dropped during fan-out"}),
		promRetained:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqtt_retained_messages", Help: "Retained message count"}),
	}
}

// Register attaches every collector to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.promPacketsIn, c.promPacketsOut, c.promBytesIn, c.promBytesOut,
		c.promSessions, c.promSubs, c.promDrops, c.promRetained,
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// ObservePublish implements dispatcher.MetricsSink.
func (c *Collector) ObservePublish(topic string, qos codec.QoS, bytes int) {
	c.packetsOut.Add(1)
	c.bytesOut.Add(int64(bytes))
	c.promPacketsOut.Inc()
	c.promBytesOut.Add(float64(bytes))
}

// ObserveDrop implements dispatcher.MetricsSink.
func (c *Collector) ObserveDrop(reason string) {
	c.drops.Add(1)
	c.promDrops.Inc()
	counter, _ := c.dropReasons.LoadOrStore(reason, new(atomic.Int64))
	counter.(*atomic.Int64).Add(1)
}

// ObserveSubscribe implements dispatcher.MetricsSink.
func (c *Collector) ObserveSubscribe(count int) {
	c.subscribes.Add(int64(count))
	c.promSubs.Add(float64(count))
}

// ObserveUnsubscribe implements dispatcher.MetricsSink.
func (c *Collector) ObserveUnsubscribe(count int) {
	c.subscribes.Add(-int64(count))
	c.promSubs.Sub(float64(count))
}

// ObservePacketIn records an inbound packet of the given wire size.
func (c *Collector) ObservePacketIn(bytes int) {
	c.packetsIn.Add(1)
	c.bytesIn.Add(int64(bytes))
	c.promPacketsIn.Inc()
	c.promBytesIn.Add(float64(bytes))
}

// SetActiveSessions records the current session count for a listener.
func (c *Collector) SetActiveSessions(listenerID uint32, count int64) {
	c.mu.Lock()
	prev := c.activeSessions[listenerID]
	c.activeSessions[listenerID] = count
	c.mu.Unlock()
	c.promSessions.Add(float64(count - prev))
}

// SetRetained records the current retained-message count and total
// payload bytes.
func (c *Collector) SetRetained(count, bytes int64) {
	c.retainedCount.Store(count)
	c.retainedBytes.Store(bytes)
	c.promRetained.Set(float64(count))
}

func (c *Collector) totalActiveSessions() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total int64
	for _, n := range c.activeSessions {
		total += n
	}
	return total
}

// Snapshot is a point-in-time read of every counter.
type Snapshot struct {
	PacketsIn      int64
	PacketsOut     int64
	BytesIn        int64
	BytesOut       int64
	ActiveSessions int64
	Subscriptions  int64
	Drops          int64
	RetainedCount  int64
	RetainedBytes  int64
}

func (c *Collector) snapshot() Snapshot {
	return Snapshot{
		PacketsIn:      c.packetsIn.Load(),
		PacketsOut:     c.packetsOut.Load(),
		BytesIn:        c.bytesIn.Load(),
		BytesOut:       c.bytesOut.Load(),
		ActiveSessions: c.totalActiveSessions(),
		Subscriptions:  c.subscribes.Load(),
		Drops:          c.drops.Load(),
		RetainedCount:  c.retainedCount.Load(),
		RetainedBytes:  c.retainedBytes.Load(),
	}
}

// Reporter periodically publishes Collector's counters as $SYS/* retained
// gauges through a dispatcher. A zero interval disables it entirely.
type Reporter struct {
	collector *Collector
	publisher Publisher
	interval  time.Duration
	log       *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewReporter builds a Reporter. interval <= 0 means Start is a no-op.
func NewReporter(collector *Collector, publisher Publisher, interval time.Duration, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		collector: collector,
		publisher: publisher,
		interval:  interval,
		log:       logger,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the periodic $SYS publish loop until ctx is canceled or Stop
// is called. It returns immediately if the interval is non-positive.
func (r *Reporter) Start(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.publishOnce(ctx)
			}
		}
	}()
}

// Stop halts the reporter loop and waits for it to exit.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Reporter) publishOnce(ctx context.Context) {
	snap := r.collector.snapshot()
	gauges := map[string]string{
		"$SYS/broker/clients/active":           strconv.FormatInt(snap.ActiveSessions, 10),
		"$SYS/broker/subscriptions/count":      strconv.FormatInt(snap.Subscriptions, 10),
		"$SYS/broker/messages/received":        strconv.FormatInt(snap.PacketsIn, 10),
		"$SYS/broker/messages/sent":            strconv.FormatInt(snap.PacketsOut, 10),
		"$SYS/broker/bytes/received":           strconv.FormatInt(snap.BytesIn, 10),
		"$SYS/broker/bytes/sent":               strconv.FormatInt(snap.BytesOut, 10),
		"$SYS/broker/messages/dropped":         strconv.FormatInt(snap.Drops, 10),
		"$SYS/broker/retained/count":           strconv.FormatInt(snap.RetainedCount, 10),
		"$SYS/broker/retained/bytes":           strconv.FormatInt(snap.RetainedBytes, 10),
	}

	for topic, value := range gauges {
		msg := &message.Message{
			Topic:   topic,
			Payload: []byte(value),
			QoS:     codec.QoS0,
			Retain:  true,
		}
		if err := r.publisher.Publish(ctx, msg, session.SessionGid{}); err != nil {
			r.log.Warn("metrics: $SYS publish failed", "topic", topic, "error", err)
		}
	}
}

var _ fmt.Stringer = (*Snapshot)(nil)

func (s Snapshot) String() string {
	return fmt.Sprintf("packets_in=%d packets_out=%d active_sessions=%d subscriptions=%d drops=%d retained=%d",
		s.PacketsIn, s.PacketsOut, s.ActiveSessions, s.Subscriptions, s.Drops, s.RetainedCount)
}
