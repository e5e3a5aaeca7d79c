// Package metrics contains the metrics provider.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bluenviron/livefmp4/internal/logger"
	"github.com/bluenviron/livefmp4/internal/protocols/httpp"
	"github.com/bluenviron/livefmp4/internal/segmenter"
)

type metricsPresentation interface {
	Snapshot() *segmenter.Snapshot
}

// Metrics is a metrics provider.
type Metrics struct {
	Address      string
	AllowOrigins []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Parent       logger.Writer

	registry       *prometheus.Registry
	deliveries     *prometheus.CounterVec
	deliveredBytes *prometheus.CounterVec
	deliveryErrors prometheus.Counter
	inputErrors    *prometheus.CounterVec
	server         *httpp.Server

	mutex        sync.Mutex
	presentation metricsPresentation
}

// Initialize initializes metrics.
func (m *Metrics) Initialize() error {
	m.registry = prometheus.NewRegistry()

	m.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livefmp4_deliveries_total",
		Help: "Total number of deliveries handed to the sink",
	}, []string{"kind"})
	m.deliveredBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livefmp4_delivered_bytes_total",
		Help: "Total number of bytes handed to the sink",
	}, []string{"kind"})
	m.deliveryErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livefmp4_delivery_errors_total",
		Help: "Total number of deliveries rejected by the sink",
	})
	m.inputErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livefmp4_input_errors_total",
		Help: "Total number of samples that could not be ingested",
	}, []string{"reason"})

	m.registry.MustRegister(
		m.deliveries,
		m.deliveredBytes,
		m.deliveryErrors,
		m.inputErrors,
		&presentationCollector{m: m},
	)

	if m.Address != "" {
		router := gin.New()
		router.SetTrustedProxies(nil) //nolint:errcheck
		router.Use(m.middlewareOrigin)
		router.GET("/metrics", gin.WrapH(m.Handler()))

		m.server = &httpp.Server{
			Address:      m.Address,
			ReadTimeout:  m.ReadTimeout,
			WriteTimeout: m.WriteTimeout,
			Handler:      router,
			Parent:       m,
		}
		err := m.server.Initialize()
		if err != nil {
			return err
		}

		m.Log(logger.Info, "listener opened on %s", m.Address)
	}

	return nil
}

func (m *Metrics) middlewareOrigin(ctx *gin.Context) {
	origin, ok := httpp.AllowedOrigin(ctx.Request.Header.Get("Origin"), m.AllowOrigins)
	if ok {
		ctx.Header("Access-Control-Allow-Origin", origin)
		ctx.Header("Access-Control-Allow-Credentials", "true")
	}
}

// Close closes Metrics.
func (m *Metrics) Close() {
	if m.server != nil {
		m.Log(logger.Info, "listener is closing")
		m.server.Close()
	}
}

// Log implements logger.Writer.
func (m *Metrics) Log(level logger.Level, format string, args ...interface{}) {
	m.Parent.Log(level, "[metrics] "+format, args...)
}

// Handler returns a http.Handler that serves metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetPresentation sets the presentation whose state is exported.
func (m *Metrics) SetPresentation(p metricsPresentation) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.presentation = p
}

func (m *Metrics) getPresentation() metricsPresentation {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.presentation
}

// WrapSink returns a Sink that counts deliveries before forwarding them.
func (m *Metrics) WrapSink(s segmenter.Sink) segmenter.Sink {
	return segmenter.SinkFunc(func(d *segmenter.Delivery) error {
		err := s.OnFragment(d)
		if err != nil {
			m.deliveryErrors.Inc()
			return err
		}

		kind := d.Kind.String()
		m.deliveries.WithLabelValues(kind).Inc()
		m.deliveredBytes.WithLabelValues(kind).Add(float64(len(d.Payload)))
		return nil
	})
}

// OnInputError counts a sample that could not be ingested.
func (m *Metrics) OnInputError(err error) {
	var reason string

	switch {
	case errors.Is(err, segmenter.ErrCapacityExceeded):
		reason = "capacity_exceeded"
	case errors.Is(err, segmenter.ErrUnknownTrack):
		reason = "unknown_track"
	case errors.Is(err, segmenter.ErrClosed):
		reason = "closed"
	case errors.Is(err, segmenter.ErrKeyframeRequired):
		reason = "keyframe_required"
	default:
		var derr *segmenter.DeliveryError
		if errors.As(err, &derr) {
			reason = "delivery"
		} else {
			reason = "other"
		}
	}

	m.inputErrors.WithLabelValues(reason).Inc()
}

var (
	trackBitrateDesc = prometheus.NewDesc(
		"livefmp4_track_bitrate",
		"Peak bitrate of a track, in bits per second",
		[]string{"track", "prefix"}, nil)
	trackFragmentsDesc = prometheus.NewDesc(
		"livefmp4_track_fragments",
		"Number of fragment records of a track",
		[]string{"track", "prefix"}, nil)
	advertisedFragmentsDesc = prometheus.NewDesc(
		"livefmp4_advertised_fragments",
		"Number of fragments listed in manifests",
		nil, nil)
	publishedSecondsDesc = prometheus.NewDesc(
		"livefmp4_published_seconds",
		"Total duration of published fragments",
		nil, nil)
)

// presentationCollector reads the state of the presentation at scrape time.
type presentationCollector struct {
	m *Metrics
}

func (c *presentationCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- trackBitrateDesc
	ch <- trackFragmentsDesc
	ch <- advertisedFragmentsDesc
	ch <- publishedSecondsDesc
}

func (c *presentationCollector) Collect(ch chan<- prometheus.Metric) {
	p := c.m.getPresentation()
	if p == nil {
		return
	}

	snap := p.Snapshot()

	for _, t := range snap.Tracks {
		id := strconv.Itoa(t.ID)
		ch <- prometheus.MustNewConstMetric(trackBitrateDesc,
			prometheus.GaugeValue, float64(t.Bitrate), id, t.Prefix)
		ch <- prometheus.MustNewConstMetric(trackFragmentsDesc,
			prometheus.GaugeValue, float64(len(t.Records)), id, t.Prefix)
	}

	ch <- prometheus.MustNewConstMetric(advertisedFragmentsDesc,
		prometheus.GaugeValue, float64(len(snap.Fragments)))
	ch <- prometheus.MustNewConstMetric(publishedSecondsDesc,
		prometheus.CounterValue, snap.PublishedDuration.Seconds())
}
