package fleet

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
)

const tailChunk = 8 << 10

// ReadTail returns the whole file when n <= 0, otherwise its last n lines.
// A missing file is not an error.
func ReadTail(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	defer func() { _ = f.Close() }()
	if n <= 0 {
		b, err := io.ReadAll(f)
		return string(b), err
	}
	fi, err := f.Stat()
	if err != nil {
		return "", err
	}
	size := fi.Size()
	var buf []byte
	off := size
	for off > 0 {
		step := min(int64(tailChunk), off)
		off -= step
		chunk := make([]byte, step)
		if _, err := f.ReadAt(chunk, off); err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		buf = append(chunk, buf...)
		// a trailing newline does not start another line
		if bytes.Count(bytes.TrimSuffix(buf, []byte("\n")), []byte("\n")) >= n {
			break
		}
	}
	body := bytes.TrimSuffix(buf, []byte("\n"))
	for i := len(body) - 1; i >= 0; i-- {
		if body[i] == '\n' {
			n--
			if n == 0 {
				return string(buf[i+1:]), nil
			}
		}
	}
	return string(buf), nil
}
