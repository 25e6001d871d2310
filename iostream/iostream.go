// Package iostream provides convenient wrappers around things like stdout, stderr
// and enables reprovm's executor to capture each task command's output
// without hard-coding os.Stdout/os.Stderr everywhere.
package iostream

import (
	"bytes"
	"io"
	"os"
)

// IOStream is a pair of io.Writers a task's command output is multiplexed
// into alongside the capture buffers the shell runner keeps per command.
type IOStream struct {
	Stdout io.Writer
	Stderr io.Writer
}

// OS returns an IOStream configured to talk to the OS streams.
func OS() IOStream {
	return IOStream{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Test returns an IOStream configured to talk to temporary buffers
// that can then be read from to verify output.
func Test() IOStream {
	return IOStream{
		Stdout: &bytes.Buffer{},
		Stderr: &bytes.Buffer{},
	}
}

// Null returns an IOStream configured to discard all output.
func Null() IOStream {
	return IOStream{
		Stdout: io.Discard,
		Stderr: io.Discard,
	}
}
