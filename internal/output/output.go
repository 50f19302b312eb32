// Package output writes a rendered mirrorlist to its destination.
package output

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Stdout is the path that selects standard output.
const Stdout = "-"

// Writer delivers mirrorlist lines to a file path or to stdout.
type Writer struct {
	stdout io.Writer
	mode   os.FileMode
}

// NewWriter returns a Writer that sends "-" to stdout. A nil stdout means
// whatever os.Stdout is at write time.
func NewWriter(stdout io.Writer) *Writer {
	return &Writer{stdout: stdout, mode: 0o644}
}

// Write emits lines, each newline-terminated. Files are replaced atomically:
// the content goes to a temporary file in the same directory which is then
// renamed over path, so a failed run leaves any previous file untouched.
func (w *Writer) Write(path string, lines []string) error {
	if path == "" || path == Stdout {
		out := w.stdout
		if out == nil {
			out = os.Stdout
		}
		return writeLines(out, lines)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := writeLines(tmp, lines); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err := tmp.Chmod(w.mode); err != nil {
		return fmt.Errorf("setting mode on %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	committed = true
	return nil
}

func writeLines(w io.Writer, lines []string) error {
	bw := bufio.NewWriter(w)
	for _, line := range lines {
		if _, err := bw.WriteString(line); err != nil {
			return fmt.Errorf("writing mirrorlist: %w", err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("writing mirrorlist: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing mirrorlist: %w", err)
	}
	return nil
}
