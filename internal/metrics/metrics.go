// Package metrics registers the node's Prometheus collectors. All helpers are
// no-ops until Init has run, so packages can be tested without a registry.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "irrigation_node_"

	ResultSuccess = "success"
	ResultError   = "error"
	ResultTimeout = "timeout"
	ResultSkipped = "skipped"
)

var (
	registerOnce sync.Once

	busExchanges  *prometheus.CounterVec
	tickDuration  prometheus.Histogram
	flowRate      prometheus.Gauge
	waterUsed     prometheus.Gauge
	zoneActive    *prometheus.GaugeVec
	forcedStops   *prometheus.CounterVec
	commands      *prometheus.CounterVec
	syncRequests  *prometheus.CounterVec
	syncLatency   *prometheus.HistogramVec
	errorFlags    prometheus.Gauge
	eventsWritten *prometheus.CounterVec
)

// Init registers the collectors on the given registerer (prometheus.DefaultRegisterer when nil).
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		busExchanges = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bus_exchanges_total",
				Help: "Sensor bus exchanges by field and result",
			},
			[]string{"field", "result"},
		)
		tickDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "tick_duration_seconds",
				Help:    "Duration of one control tick",
				Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1},
			},
		)
		flowRate = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "flow_rate_lpm",
			Help: "Last computed flow rate in liters per minute",
		})
		waterUsed = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "water_used_liters",
			Help: "Cumulative water used since process start",
		})
		zoneActive = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "zone_active",
				Help: "1 when the zone valve is open",
			},
			[]string{"zone"},
		)
		forcedStops = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "forced_stops_total",
				Help: "Safety forced stops by reason",
			},
			[]string{"reason"},
		)
		commands = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_total",
				Help: "Applied commands by origin and status",
			},
			[]string{"origin", "status"},
		)
		syncRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sync_requests_total",
				Help: "Coordinator requests by activity and result",
			},
			[]string{"activity", "result"},
		)
		syncLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "sync_latency_seconds",
				Help:    "Coordinator request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"activity"},
		)
		errorFlags = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "error_flags",
			Help: "Current error bitmask",
		})
		eventsWritten = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_total",
				Help: "Events emitted by type",
			},
			[]string{"event_type"},
		)

		reg.MustRegister(
			busExchanges, tickDuration, flowRate, waterUsed, zoneActive, forcedStops,
			commands, syncRequests, syncLatency, errorFlags, eventsWritten,
		)
	})
}

func ObserveBusExchange(field, result string) {
	if busExchanges == nil {
		return
	}
	busExchanges.WithLabelValues(field, result).Inc()
}

func ObserveTick(d time.Duration) {
	if tickDuration == nil {
		return
	}
	tickDuration.Observe(d.Seconds())
}

func SetFlow(rateLpm, usedLiters float64) {
	if flowRate == nil {
		return
	}
	flowRate.Set(rateLpm)
	waterUsed.Set(usedLiters)
}

// SetZoneActive takes the 1-based zone id.
func SetZoneActive(zone int, active bool) {
	if zoneActive == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	zoneActive.WithLabelValues(strconv.Itoa(zone)).Set(v)
}

func ObserveForcedStop(reason string) {
	if forcedStops == nil {
		return
	}
	forcedStops.WithLabelValues(reason).Inc()
}

func ObserveCommand(origin, status string) {
	if commands == nil {
		return
	}
	commands.WithLabelValues(origin, status).Inc()
}

func ObserveSync(activity, result string, latency time.Duration) {
	if syncRequests == nil {
		return
	}
	syncRequests.WithLabelValues(activity, result).Inc()
	if latency > 0 {
		syncLatency.WithLabelValues(activity).Observe(latency.Seconds())
	}
}

func SetErrorFlags(flags uint8) {
	if errorFlags == nil {
		return
	}
	errorFlags.Set(float64(flags))
}

func ObserveEvent(eventType string) {
	if eventsWritten == nil {
		return
	}
	eventsWritten.WithLabelValues(eventType).Inc()
}
