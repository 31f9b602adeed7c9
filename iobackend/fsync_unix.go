//go:build linux || freebsd

package iobackend

import (
	"os"

	"golang.org/x/sys/unix"
)

// fsyncFile durably flushes f's data and the metadata needed to read it back.
//
// On Linux/FreeBSD, fdatasync() gives sufficient guarantees for page data;
// mirrors the teacher corpus's flush_unix.go fdatasync helper.
func fsyncFile(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
