package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const maxLineBytes = 1024 * 1024

// Last returns up to n final lines of path and the offset just past them.
// A missing file yields no lines and offset 0.
func Last(path string, n int) ([]string, int64, error) {
	file, err := open(path)
	if file == nil || err != nil {
		return nil, 0, err
	}
	defer file.Close()

	scanner := newScanner(file)
	var ring []string
	if n > 0 {
		ring = make([]string, 0, n)
	}
	for scanner.Scan() {
		if n <= 0 {
			continue
		}
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}
	offset, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, fmt.Errorf("determine log offset: %w", err)
	}
	return ring, offset, nil
}

// Since returns the lines written after offset. An offset past the end of
// the file (it was truncated or replaced) restarts from the beginning.
func Since(path string, offset int64) ([]string, int64, error) {
	lines, next, info, err := readFrom(path, offset, nil)
	if info == nil {
		return lines, 0, err
	}
	return lines, next, err
}

// readFrom reads complete lines after offset. When prev names a different
// file than the one path now opens, reading starts at zero. The opened
// file's info is returned for the next call.
func readFrom(path string, offset int64, prev os.FileInfo) ([]string, int64, os.FileInfo, error) {
	file, err := open(path)
	if file == nil || err != nil {
		return nil, offset, prev, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, prev, fmt.Errorf("stat log file: %w", err)
	}
	if prev != nil && !os.SameFile(prev, info) {
		offset = 0
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, info, fmt.Errorf("seek log file: %w", err)
	}

	// A partial trailing line stays unread until its newline arrives.
	reader := bufio.NewReaderSize(file, 64*1024)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, info, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		lines = append(lines, trimNewline(line))
	}
	return lines, offset, info, nil
}

// Follow emits every line appended to path after offset until ctx ends.
// When path starts resolving to a different file, reading restarts at the
// top of the new file.
func Follow(ctx context.Context, path string, offset int64, poll time.Duration, emit func(string)) error {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	current, _ := os.Stat(path)
	for {
		lines, next, info, err := readFrom(path, offset, current)
		if err != nil {
			return err
		}
		offset, current = next, info
		for _, line := range lines {
			emit(line)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func open(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("log path %q is a directory", path)
	}
	return file, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return scanner
}

func trimNewline(line string) string {
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}
