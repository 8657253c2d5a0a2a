package logmon

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// tailer follows one path across appends, truncation and rotation.
// Not safe for concurrent use; owned by the Monitor goroutine.
type tailer struct {
	path    string
	file    *os.File
	info    os.FileInfo // identity of the open file
	reader  *bufio.Reader
	offset  int64
	partial []byte // bytes of a line whose newline has not arrived yet

	openFile func(name string) (*os.File, error)
}

func newTailer(path string) *tailer {
	return &tailer{path: path, openFile: os.Open}
}

// poll reads every complete line currently available and passes it to emit.
// A missing file is not an error: the tailer keeps waiting for it to appear.
func (t *tailer) poll(emit func(string)) error {
	if t.file == nil {
		opened, err := t.open()
		if err != nil || !opened {
			return err
		}
		return t.drain(emit)
	}

	cur, err := os.Stat(t.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Rotated away and not recreated yet: finish the old file, keep the handle.
		return t.drain(emit)
	case err != nil:
		return fmt.Errorf("stat %s: %w", t.path, err)
	case !os.SameFile(t.info, cur):
		if err := t.drain(emit); err != nil {
			return err
		}
		t.flushPartial(emit)
		t.close()
		// The replacement may vanish between stat and open; wait for the next one.
		if opened, err := t.open(); err != nil || !opened {
			return err
		}
	case cur.Size() < t.offset:
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewinding truncated %s: %w", t.path, err)
		}
		t.reader.Reset(t.file)
		t.offset = 0
		t.partial = t.partial[:0]
	}
	return t.drain(emit)
}

func (t *tailer) open() (bool, error) {
	f, err := t.openFile(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", t.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return false, fmt.Errorf("stat %s: %w", t.path, err)
	}
	t.file, t.info, t.offset = f, info, 0
	t.reader = bufio.NewReader(f)
	t.partial = t.partial[:0]
	return true, nil
}

func (t *tailer) drain(emit func(string)) error {
	for {
		chunk, err := t.reader.ReadBytes('\n')
		t.offset += int64(len(chunk))
		if n := len(chunk); n > 0 {
			if chunk[n-1] == '\n' {
				line := append(t.partial, chunk[:n-1]...)
				emit(string(bytes.TrimSuffix(line, []byte{'\r'})))
				t.partial = t.partial[:0]
			} else {
				t.partial = append(t.partial, chunk...)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", t.path, err)
		}
	}
}

// flushPartial emits an unterminated last line of a file that will never grow again.
func (t *tailer) flushPartial(emit func(string)) {
	if len(t.partial) > 0 {
		emit(string(t.partial))
		t.partial = t.partial[:0]
	}
}

func (t *tailer) close() {
	if t.file != nil {
		_ = t.file.Close()
	}
	t.file, t.info, t.reader = nil, nil, nil
	t.offset = 0
}
