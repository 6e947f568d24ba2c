/*
Package types provides the core interfaces and data structures shared by every wildfs component.

# Architecture Overview

wildfs composes one directory tree out of many containers. Each container claims a path
prefix and persists data through one or more storage replicas:

	┌─────────────────────────────────────────────┐
	│          CLI / HTTP API (cmd, pkg/api)      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│            DFS frontend (internal/dfs)      │
	└─────────────────────────────────────────────┘
	      │              │               │
	┌─────┴─────┐ ┌──────┴─────┐ ┌───────┴──────┐
	│ Resolver  │ │ Translator │ │  Dispatcher  │
	│ (mounts)  │ │ (uuid dir) │ │ (replicas)   │
	└───────────┘ └────────────┘ └──────────────┘
	                                     │
	                     ┌───────────────┴────────────┐
	                     │  Backend (local, memory, s3)│
	                     └────────────────────────────┘

# Core Interfaces

Backend:
One storage instance. Expected conditions (missing path, non-empty directory,
existing target) are reported as an Outcome; a non-nil error means the backend itself
failed and the dispatcher should try the next replica.

Descriptor:
An opened file pinned to the backend instance that opened it. Descriptors report
external modification as a CONCURRENT_ISSUE error.

# Data Structures

Container and Storage describe what is mounted where. Stat, FsStat, Permissions and
UnixTimestamp are the values returned to callers.
*/
package types
