// Package metrics centralizes the otel tracer/meter construction every
// codec package in this module uses, following the per-package
// tracer/meter singleton pattern in pkg/tarfs/metrics.go.
package metrics

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Named returns the tracer and meter a package should use, keyed by its
// import path, matching the teacher's `otel.Tracer(pkgname)` /
// `otel.Meter(pkgname)` convention.
func Named(pkgname string) (trace.Tracer, metric.Meter) {
	return otel.Tracer(pkgname), otel.Meter(pkgname)
}
