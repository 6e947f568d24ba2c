package types

import (
	"time"

	"github.com/google/uuid"
)

// Storage is one concrete backend endpoint belonging to a container.
type Storage struct {
	ID          uuid.UUID `json:"id" yaml:"id"`
	BackendType string    `json:"backend_type" yaml:"backend_type"`
	Config      []byte    `json:"config,omitempty" yaml:"-"`
}

// Container claims path prefixes and owns an ordered list of storage replicas.
type Container struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Paths    []string  `json:"paths"`
	Storages []Storage `json:"storages"`
}

// PrimaryPath returns the claim that participates in resolution.
func (c Container) PrimaryPath() string {
	if len(c.Paths) == 0 {
		return ""
	}
	return c.Paths[0]
}

// NodeType classifies a filesystem node.
type NodeType int

const (
	NodeTypeFile NodeType = iota
	NodeTypeDir
	NodeTypeSymlink
	NodeTypeOther
)

// String returns the string representation of the node type
func (t NodeType) String() string {
	switch t {
	case NodeTypeFile:
		return "file"
	case NodeTypeDir:
		return "dir"
	case NodeTypeSymlink:
		return "symlink"
	default:
		return "other"
	}
}

// MarshalText encodes the node type by name.
func (t NodeType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a node type name. Unknown names decode as NodeTypeOther.
func (t *NodeType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "file":
		*t = NodeTypeFile
	case "dir":
		*t = NodeTypeDir
	case "symlink":
		*t = NodeTypeSymlink
	default:
		*t = NodeTypeOther
	}
	return nil
}

// UnixTimestamp is a point in time split into seconds and nanoseconds.
type UnixTimestamp struct {
	Sec     uint64 `json:"sec"`
	NanoSec uint32 `json:"nano_sec"`
}

// TimestampFrom converts t, returning nil for the zero time or times before the epoch.
func TimestampFrom(t time.Time) *UnixTimestamp {
	if t.IsZero() || t.Before(time.Unix(0, 0)) {
		return nil
	}
	return &UnixTimestamp{Sec: uint64(t.Unix()), NanoSec: uint32(t.Nanosecond())}
}

// Time converts the timestamp back to a time.Time.
func (ts UnixTimestamp) Time() time.Time {
	return time.Unix(int64(ts.Sec), int64(ts.NanoSec))
}

// Permissions is the portable permission model: a file is either writable or not.
type Permissions struct {
	Readonly bool `json:"readonly"`
}

// ReadonlyPermissions returns permissions that forbid writes.
func ReadonlyPermissions() Permissions {
	return Permissions{Readonly: true}
}

// Stat describes a node.
type Stat struct {
	NodeType         NodeType       `json:"node_type"`
	Size             uint64         `json:"size"`
	AccessTime       *UnixTimestamp `json:"access_time,omitempty"`
	ModificationTime *UnixTimestamp `json:"modification_time,omitempty"`
	ChangeTime       *UnixTimestamp `json:"change_time,omitempty"`
	Permissions      Permissions    `json:"permissions"`
}

// DirStat is the stat reported for nodes without physical backing.
func DirStat() Stat {
	return Stat{
		NodeType:    NodeTypeDir,
		Permissions: ReadonlyPermissions(),
	}
}

// FsStat describes the filesystem a node lives on.
type FsStat struct {
	BlockSize       uint64 `json:"block_size"`
	IOSize          uint64 `json:"io_size,omitempty"`
	Blocks          uint64 `json:"blocks"`
	FreeBlocks      uint64 `json:"free_blocks"`
	AvailableBlocks uint64 `json:"available_blocks"`
	Nodes           uint64 `json:"nodes"`
	FreeNodes       uint64 `json:"free_nodes"`
	NameLength      uint64 `json:"name_length"`
}
