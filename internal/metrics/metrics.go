// Package metrics 网关的 Prometheus 指标；nil *Metrics 的所有方法都是空操作
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chat_gateway"

type Metrics struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	disconnects       *prometheus.CounterVec
	framesReceived    *prometheus.CounterVec
	framesSent        prometheus.Counter
	decodeErrors      prometheus.Counter
	deniedFrames      *prometheus.CounterVec
	published         prometheus.Counter
	deliveries        prometheus.Counter
	lookupMisses      prometheus.Counter
	queueOverflows    *prometheus.CounterVec
	fanoutSize        prometheus.Histogram
	activeChannels    prometheus.GaugeFunc
}

// New 在 registry 上注册全部指标；channelCount 为 nil 时不注册频道数指标
func New(registry prometheus.Registerer, channelCount func() int) *Metrics {
	factory := promauto.With(registry)
	m := &Metrics{
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of registered gateway connections",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted gateway connections",
		}),
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Connections torn down, by reason",
		}, []string{"reason"}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames decoded, by op",
		}, []string{"op"}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Outbound frames written to transports",
		}),
		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound frames dropped because they could not be decoded",
		}),
		deniedFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "denied_frames_total",
			Help:      "Inbound frames dropped because the session state does not allow them",
		}, []string{"op"}),
		published: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "MessageCreate events published",
		}),
		deliveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_deliveries_total",
			Help:      "Dispatch frames enqueued onto subscriber queues",
		}),
		lookupMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_lookup_misses_total",
			Help:      "Subscribers that disconnected between snapshot and enqueue",
		}),
		queueOverflows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_overflows_total",
			Help:      "Outbound queue overflow events, by policy",
		}, []string{"policy"}),
		fanoutSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fanout_size",
			Help:      "Subscribers resolved per publish",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
	if channelCount != nil {
		m.activeChannels = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_channels",
			Help:      "Channels with at least one subscriber",
		}, func() float64 { return float64(channelCount()) })
	}
	return m
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.activeConnections.Inc()
}

func (m *Metrics) ConnectionClosed(reason string) {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
	m.disconnects.WithLabelValues(reason).Inc()
}

func (m *Metrics) FrameReceived(op string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(op).Inc()
}

func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.framesSent.Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) FrameDenied(op string) {
	if m == nil {
		return
	}
	m.deniedFrames.WithLabelValues(op).Inc()
}

func (m *Metrics) Published(subscribers, delivered, misses int) {
	if m == nil {
		return
	}
	m.published.Inc()
	m.fanoutSize.Observe(float64(subscribers))
	m.deliveries.Add(float64(delivered))
	m.lookupMisses.Add(float64(misses))
}

func (m *Metrics) QueueOverflow(policy string) {
	if m == nil {
		return
	}
	m.queueOverflows.WithLabelValues(policy).Inc()
}
