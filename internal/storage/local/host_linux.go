//go:build linux

package local

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/wildfs/wildfs/pkg/types"
)

func hostStatFS(path string) (types.FsStat, bool, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return types.FsStat{}, true, fmt.Errorf("statfs %s: %w", path, err)
	}
	return types.FsStat{
		BlockSize:       uint64(st.Bsize),
		IOSize:          uint64(st.Frsize),
		Blocks:          st.Blocks,
		FreeBlocks:      st.Bfree,
		AvailableBlocks: st.Bavail,
		Nodes:           st.Files,
		FreeNodes:       st.Ffree,
		NameLength:      uint64(st.Namelen),
	}, true, nil
}

func fillHostTimes(st *types.Stat, fi os.FileInfo) {
	sys, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	st.AccessTime = types.TimestampFrom(time.Unix(int64(sys.Atim.Sec), int64(sys.Atim.Nsec)))
	st.ChangeTime = types.TimestampFrom(time.Unix(int64(sys.Ctim.Sec), int64(sys.Ctim.Nsec)))
}
