/*
Package catalog persists container definitions and holds the ones known to a
running process.

Store keeps containers in SQLite through the pure-Go modernc.org/sqlite driver:

	containers(id, name, paths)                           paths as a JSON array
	storages(id, container_id, position, backend_type, config)

Storages are ordered by position, which is the replica order the dispatcher
tries. Saving a container rewrites all of its storages in one transaction.

Arena is the in-memory view: the CLI loads it from the store and the
configuration file, then mounts each container. Reads hand out copies.
*/
package catalog
