// Package sinks implements progress consumers: Prometheus collectors and
// structured logging.
package sinks
