/*
Package adapter wires the components of a wildfs process together.

	        config.Configuration
	                 │
	┌────────────────┴────────────────┐
	│             ADAPTER             │ ← This Package
	│  catalog.Store ──► catalog.Arena │
	│          │ mount                 │
	│  resolver.MountTable             │
	│  storage.Registry / Cache        │
	│  circuit.Set  metrics.Collector  │
	│              dfs.DFS             │
	└────────────────┬────────────────┘
	                 │
	        CLI commands, HTTP API

New validates the configuration, opens the SQLite catalog, loads its containers
and those declared in the configuration file into the arena, and mounts each
of them. Backend constructors for InMemory, LocalFilesystem and S3 storages are
registered once and never change afterwards.

Containers added through AddContainer are stored in the catalog and mounted
immediately; RemoveContainer reverses both steps and evicts the cached
backends of the container's storages.

The adapter does not serialize access to the frontend. Hosts that call DFS
from several goroutines hold their own lock.

# Storage URIs

ParseStorageURI builds a storage from a compact URI, used by the CLI:

	s3://bucket/prefix?region=us-west-2&endpoint=http://minio:9000&path_style=true
	mem://volume/base/dir
	file:///srv/wildfs
*/
package adapter
