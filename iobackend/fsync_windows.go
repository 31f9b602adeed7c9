//go:build windows

package iobackend

import (
	"os"

	"golang.org/x/sys/windows"
)

// fsyncFile durably flushes f's data and metadata using FlushFileBuffers,
// mirroring the teacher corpus's flush_windows.go fdatasync equivalent.
func fsyncFile(f *os.File) error {
	return windows.FlushFileBuffers(windows.Handle(f.Fd()))
}
