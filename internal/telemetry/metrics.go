package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestsTotal CVE-Search请求计数，outcome取值 ok/empty/server_fault/transport_error/decode_error/not_configured/canceled
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qiankunjing",
			Subsystem: "cvesearch",
			Name:      "requests_total",
			Help:      "Total number of CVE-Search API requests by outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	// RequestDuration CVE-Search请求耗时
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qiankunjing",
			Subsystem: "cvesearch",
			Name:      "request_duration_seconds",
			Help:      "Duration of CVE-Search API requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	once sync.Once
)

// InitMetrics 注册到默认registry，可重复调用
func InitMetrics() {
	once.Do(func() {
		prometheus.DefaultRegisterer.Register(RequestsTotal)
		prometheus.DefaultRegisterer.Register(RequestDuration)
	})
}

// RequestCounts 从默认registry读取请求计数，键为 "endpoint/outcome"
func RequestCounts() (map[string]float64, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, err
	}

	counts := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != "qiankunjing_cvesearch_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			var endpoint, outcome string
			for _, lp := range m.GetLabel() {
				switch lp.GetName() {
				case "endpoint":
					endpoint = lp.GetValue()
				case "outcome":
					outcome = lp.GetValue()
				}
			}
			counts[endpoint+"/"+outcome] = m.GetCounter().GetValue()
		}
	}
	return counts, nil
}
