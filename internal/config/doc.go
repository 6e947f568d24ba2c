/*
Package config provides configuration management for wildfs.

Configuration is assembled from three sources, each overriding the previous:

	defaults (NewDefault)
	    │
	YAML file (LoadFromFile)
	    │
	environment (LoadFromEnv, WILDFS_*)

# Sections

	global:
	  log_level: INFO          # DEBUG, INFO, WARN, ERROR
	  log_format: text         # text or json
	  log_file: ""             # empty logs to stderr
	dispatch:
	  circuit_breaker:
	    enabled: true
	    failure_threshold: 5
	    timeout: 30s
	  event_buffer: 100        # diagnostic events kept before the oldest are dropped
	monitoring:
	  metrics:
	    enabled: true
	    port: 9100
	    path: /metrics
	    namespace: wildfs
	api:
	  address: 127.0.0.1:8420
	catalog:
	  path: ~/.config/wildfs/catalog.db
	containers:
	  - name: home
	    paths: [/home]
	    storages:
	      - backend_type: InMemory
	      - backend_type: S3
	        config: {bucket: home-replica, region: us-west-2}

Containers declared in the file are mounted in addition to those stored in
the catalog. A container or storage without an id gets one derived from its
name and position, so restarts see the same ids. The per-storage config map is
passed to the backend constructor as JSON.

# Environment

	WILDFS_LOG_LEVEL        global.log_level
	WILDFS_LOG_FORMAT       global.log_format
	WILDFS_METRICS_PORT     monitoring.metrics.port
	WILDFS_API_ADDRESS      api.address
	WILDFS_CATALOG_PATH     catalog.path
	WILDFS_BREAKER_ENABLED  dispatch.circuit_breaker.enabled

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile(path); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	containers, err := cfg.ContainerList()
*/
package config
