// SPDX-License-Identifier: MIT

// Package logging provides log sinks, packet log formatters and logger
// factory helpers for the demo clients.
package logging

import (
	"bufio"
	"io"
	"os"
)

// GetLogFile opens a log sink for the given name. An empty name discards all
// writes, "stdout" writes to standard output and anything else is created as
// a buffered file.
func GetLogFile(file string) (io.WriteCloser, error) {
	if len(file) == 0 {
		return nopCloser{io.Discard}, nil
	}
	if file == "stdout" {
		return nopCloser{os.Stdout}, nil
	}
	fd, err := os.Create(file) // #nosec G304 -- file name comes from a CLI flag
	if err != nil {
		return nil, err
	}

	return &fileCloser{
		f:   fd,
		buf: bufio.NewWriterSize(fd, 4096),
	}, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

type fileCloser struct {
	f   *os.File
	buf *bufio.Writer
}

func (f *fileCloser) Write(buf []byte) (int, error) {
	return f.buf.Write(buf)
}

func (f *fileCloser) Close() error {
	if err := f.buf.Flush(); err != nil {
		return err
	}

	return f.f.Close()
}
