package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
)

// Output is an image file being written. A file that is not committed is
// removed by Discard, so a failed or cancelled scan leaves nothing behind.
type Output struct {
	fsys      FileSystem
	name      string
	w         io.WriteCloser
	committed bool
	closed    bool
}

// CreateOutput creates name on fsys.
func CreateOutput(fsys FileSystem, name string) (*Output, error) {
	w, err := fsys.Create(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create output %s: %w", name, err)
	}
	return &Output{fsys: fsys, name: name, w: w}, nil
}

// Name returns the file name.
func (o *Output) Name() string { return o.name }

func (o *Output) Write(p []byte) (int, error) { return o.w.Write(p) }

// Commit closes the file and keeps it.
func (o *Output) Commit() error {
	if o.closed {
		return fmt.Errorf("output %s already closed", o.name)
	}
	o.closed = true
	if err := o.w.Close(); err != nil {
		_ = o.fsys.Remove(o.name)
		return fmt.Errorf("failed to close output %s: %w", o.name, err)
	}
	o.committed = true
	return nil
}

// Discard closes and removes an uncommitted file. It does nothing after
// Commit.
func (o *Output) Discard() error {
	if o.committed {
		return nil
	}
	if !o.closed {
		o.closed = true
		_ = o.w.Close()
	}
	if err := o.fsys.Remove(o.name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove output %s: %w", o.name, err)
	}
	return nil
}
