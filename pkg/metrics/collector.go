package metrics

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gometrics "github.com/hashicorp/go-metrics"
	"github.com/hashicorp/go-metrics/prometheus"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pzhenzhou/respcmd/pkg/common"
)

type ExposeMetricSink string

const (
	InMemorySink    ExposeMetricSink = "in-memory"
	PrometheusSink  ExposeMetricSink = "prometheus"
	AllMetricsSink  ExposeMetricSink = "all"
	ExposeMetricURL                  = "/metrics"
)

var (
	logger = common.InitLogger().WithName("client-metrics")
)

// Collector records what the dispatcher and the transport observe per command.
type Collector interface {
	// RecordCommandLatency records build, send and transform of one call.
	RecordCommandLatency(command string, duration time.Duration)
	// RecordSendLatency records only the transport round trip of one call.
	RecordSendLatency(command string, duration time.Duration)
	RecordOverallLatency(duration time.Duration)
	IncrementCommandCounter(command string)
	IncrementErrorCounter(command, errorType string)
	SetGauge(name string, value float32)
	Shutdown()
	// Handler serves the configured sink over http.
	Handler() gin.HandlerFunc
}

type Config struct {
	ServiceName         string
	AggregationInterval time.Duration
	RetentionPeriod     time.Duration
	ExposeSink          ExposeMetricSink
	MetricsEndpoint     string
}

func DefaultConfig() *Config {
	return &Config{
		ServiceName:         "respcmd",
		AggregationInterval: 5 * time.Second,
		RetentionPeriod:     10 * time.Minute,
		MetricsEndpoint:     ExposeMetricURL,
		ExposeSink:          InMemorySink,
	}
}

// NewConfig maps the command line metrics flags onto a collector config.
func NewConfig(serviceName string, cfg *common.MetricsConfig) *Config {
	config := DefaultConfig()
	if serviceName != "" {
		config.ServiceName = serviceName
	}
	if cfg == nil {
		return config
	}
	if cfg.MetricsPath != "" {
		config.MetricsEndpoint = cfg.MetricsPath
	}
	if cfg.MetricsSinkType != "" {
		config.ExposeSink = ExposeMetricSink(strings.ToLower(cfg.MetricsSinkType))
	}
	return config
}

// NewCollector builds a collector whose prometheus sink, if any, lives in
// its own registry, so several clients can coexist in one process.
func NewCollector(config *Config) (Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	metricsConf := gometrics.DefaultConfig(config.ServiceName)
	metricsConf.EnableHostname = false
	metricsConf.EnableRuntimeMetrics = false

	var (
		sinks    gometrics.FanoutSink
		inm      *gometrics.InmemSink
		promSink *prometheus.PrometheusSink
		registry *promclient.Registry
		err      error
	)
	switch config.ExposeSink {
	case InMemorySink:
		inm = gometrics.NewInmemSink(config.AggregationInterval, config.RetentionPeriod)
		sinks = append(sinks, inm)
	case PrometheusSink, AllMetricsSink:
		registry = promclient.NewRegistry()
		promSink, err = prometheus.NewPrometheusSinkFrom(prometheus.PrometheusOpts{
			Expiration: config.RetentionPeriod,
			Registerer: registry,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, promSink)
		if config.ExposeSink == AllMetricsSink {
			inm = gometrics.NewInmemSink(config.AggregationInterval, config.RetentionPeriod)
			sinks = append(sinks, inm)
		}
	default:
		inm = gometrics.NewInmemSink(config.AggregationInterval, config.RetentionPeriod)
		sinks = append(sinks, inm)
	}

	metricsImpl, err := gometrics.New(metricsConf, sinks)
	if err != nil {
		return nil, err
	}
	logger.Info("Metrics collector initialized",
		"serviceName", config.ServiceName,
		"sink", config.ExposeSink,
		"endpoint", config.MetricsEndpoint)
	return &hashicorpMetricsCollector{
		metrics:      metricsImpl,
		inm:          inm,
		promSink:     promSink,
		registry:     registry,
		exposeSink:   config.ExposeSink,
		serviceLabel: gometrics.Label{Name: "service", Value: config.ServiceName},
	}, nil
}

type hashicorpMetricsCollector struct {
	metrics      *gometrics.Metrics
	inm          *gometrics.InmemSink
	promSink     *prometheus.PrometheusSink
	registry     *promclient.Registry
	exposeSink   ExposeMetricSink
	serviceLabel gometrics.Label
}

// labels returns a fresh slice on every call: the in-memory sink keeps a
// reference to the slice it is given.
func (h *hashicorpMetricsCollector) labels(extra ...gometrics.Label) []gometrics.Label {
	labels := make([]gometrics.Label, 0, 1+len(extra))
	labels = append(labels, h.serviceLabel)
	return append(labels, extra...)
}

func (h *hashicorpMetricsCollector) sample(key []string, command string, duration time.Duration) {
	labels := h.labels()
	if command != "" {
		labels = append(labels, gometrics.Label{Name: "command", Value: command})
	}
	h.metrics.AddSampleWithLabels(key, float32(duration.Microseconds()), labels)
}

func (h *hashicorpMetricsCollector) RecordCommandLatency(command string, duration time.Duration) {
	h.sample([]string{"command", "latency"}, command, duration)
}

func (h *hashicorpMetricsCollector) RecordSendLatency(command string, duration time.Duration) {
	h.sample([]string{"command", "send_latency"}, command, duration)
}

func (h *hashicorpMetricsCollector) RecordOverallLatency(duration time.Duration) {
	h.sample([]string{"overall", "latency"}, "", duration)
}

func (h *hashicorpMetricsCollector) IncrementCommandCounter(command string) {
	h.metrics.IncrCounterWithLabels([]string{"command", "count"}, 1,
		h.labels(gometrics.Label{Name: "command", Value: command}))
}

func (h *hashicorpMetricsCollector) IncrementErrorCounter(command, errorType string) {
	h.metrics.IncrCounterWithLabels([]string{"errors"}, 1, h.labels(
		gometrics.Label{Name: "command", Value: command},
		gometrics.Label{Name: "type", Value: errorType}))
}

func (h *hashicorpMetricsCollector) SetGauge(name string, value float32) {
	h.metrics.SetGaugeWithLabels(strings.Split(name, "."), value, h.labels())
}

func (h *hashicorpMetricsCollector) collectorHandler() http.Handler {
	switch h.exposeSink {
	case PrometheusSink, AllMetricsSink:
		return promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})
	default:
		return h.inMemoryHandler()
	}
}

func (h *hashicorpMetricsCollector) inMemoryHandler() http.Handler {
	if h.inm == nil {
		logger.Error(nil, "In-memory sink is nil, cannot serve metrics")
		return http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		data, err := h.inm.DisplayMetrics(w, r)
		if err != nil {
			logger.Error(err, "Failed to display metrics")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if data == nil {
			_, _ = w.Write([]byte("{}"))
			return
		}
		jsonData, err := json.Marshal(data)
		if err != nil {
			logger.Error(err, "Failed to marshal metrics data to JSON")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(jsonData)
	})
}

func (h *hashicorpMetricsCollector) Shutdown() {
	h.metrics.Shutdown()
	if h.registry != nil && h.promSink != nil {
		h.registry.Unregister(h.promSink)
	}
}

func (h *hashicorpMetricsCollector) Handler() gin.HandlerFunc {
	handler := h.collectorHandler()
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}
