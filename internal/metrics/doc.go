/*
Package metrics provides Prometheus metrics for the wildfs DFS frontend.

# Overview

Collector owns a private Prometheus registry and implements the recorder the
frontend reports into. Every public DFS operation is counted and timed, every
replica attempt of the dispatcher is counted by backend type and result, and
every diagnostic event is counted by cause.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9100,
		Path:      "/metrics",
		Namespace: "wildfs",
	}, logger)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(ctx)

	fs := dfs.New(table, backends, dfs.WithMetrics(collector))

# Exposed Series

	dfs_operations_total{operation,status}     status is "ok" or the error code
	dfs_operation_duration_seconds{operation}
	dfs_bytes_total{direction}                 "read" or "write"
	backend_attempts_total{backend_type,result}
	events_total{cause}
	open_handles

All series carry the configured namespace and subsystem prefixes and the
configured constant labels.

# Endpoints

Start serves the registry on Config.Path and a JSON summary of the
per-operation tracking on /debug/operations. Handler returns the exposition
handler alone, for hosts that mount it on their own mux.

# Disabled Collector

A collector built with Enabled set to false has no registry and ignores every
record call, so callers never need to check whether metrics are on.
*/
package metrics
