// Package exporter exposes objects registered in a managed-object registry
// as Prometheus metric families.
//
// Objects are registered under names such as "app:type=Pool,name=db".
// Collector factories turn matching objects into metric families, which
// are served over HTTP in the Prometheus text format, JSON or HTML and can
// also be pushed to a remote-write endpoint.
//
// Basic usage:
//
//	cfg := exporter.DefaultConfig()
//	cfg.Namespace = "myapp"
//	cfg.RemoteWrite.URL = "http://prometheus:9090/api/v1/write"
//
//	if err := exporter.Init(cfg, logger); err != nil {
//	  log.Fatal(err)
//	}
//	defer exporter.Shutdown()
//
//	requests, _ := exporter.NewCounter("requests_total", "handler", "api")
//	requests.Inc()
//
//	latency, _ := exporter.NewHistogramWithBuckets("response_time", nil)
//	latency.Observe(123)
package exporter
