package repository

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"bplog/internal/filelock"
	"bplog/internal/modules/pressure/readings"
	"bplog/internal/modules/pressure/types"
)

const backupStampLayout = "20060102T150405.000"

// maxLineBytes bounds one stored line; longer lines are skipped.
const maxLineBytes = 1 << 20

type fileRepository struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewFileRepository stores readings as NDJSON in path, creating the file and
// its directory if needed.
func NewFileRepository(path string, logger *slog.Logger) (ReadingRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return &fileRepository{path: path, logger: logger, now: time.Now}, nil
}

func (r *fileRepository) ReadAll(ctx context.Context) ([]types.Reading, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			r.logger.Error("close data file", "path", r.path, "error", err)
		}
	}()

	var out []types.Reading
	br := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, tooLong, err := nextLine(br, maxLineBytes)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read %s: %w", r.path, err)
		}
		if tooLong {
			r.logger.Debug("skipping oversized line", "path", r.path, "line", lineNo, "limit", maxLineBytes)
		} else if rec, ok := r.decode(line, lineNo); ok {
			out = append(out, rec)
		}
		if err != nil {
			break
		}
	}
	sortByInstant(out)
	return out, ctx.Err()
}

// decode turns one stored line into a reading. Blank lines, malformed JSON
// and rows that fail readings.Check are skipped.
func (r *fileRepository) decode(line []byte, lineNo int) (types.Reading, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return types.Reading{}, false
	}
	rec, err := types.DecodeLine(line)
	if err == nil {
		err = readings.Check(rec)
	}
	if err != nil {
		r.logger.Debug("skipping malformed line", "path", r.path, "line", lineNo, "error", err)
		return types.Reading{}, false
	}
	return rec, true
}

// nextLine reads up to and including the next newline. A line longer than
// limit is consumed and reported as tooLong without being buffered.
func nextLine(br *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, rerr := br.ReadSlice('\n')
		if !tooLong && len(line)+len(chunk) <= limit {
			line = append(line, chunk...)
		} else {
			tooLong, line = true, nil
		}
		if errors.Is(rerr, bufio.ErrBufferFull) {
			continue
		}
		return line, tooLong, rerr
	}
}

func (r *fileRepository) Append(ctx context.Context, rec types.Reading) error {
	line, err := types.EncodeLine(rec)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", r.path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			r.logger.Error("close data file", "path", r.path, "error", err)
		}
	}()

	return filelock.With(ctx, f, func() error {
		if _, err := f.Write(line); err != nil {
			return fmt.Errorf("append %s: %w", r.path, err)
		}
		return nil
	})
}

func (r *fileRepository) Dump(ctx context.Context, w io.Writer) error {
	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			r.logger.Error("close data file", "path", r.path, "error", err)
		}
	}()
	_, err = io.Copy(w, f)
	return err
}

// Replace copies the current file aside and rewrites it in place while holding
// the same lock appenders take, so no append lands in between.
func (r *fileRepository) Replace(ctx context.Context, rs []types.Reading) (string, error) {
	var body bytes.Buffer
	for _, rec := range rs {
		line, err := types.EncodeLine(rec)
		if err != nil {
			return "", fmt.Errorf("encode reading: %w", err)
		}
		body.Write(line)
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", r.path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			r.logger.Error("close data file", "path", r.path, "error", err)
		}
	}()

	backup := r.path + ".bak." + r.now().Format(backupStampLayout)
	err = filelock.With(ctx, f, func() error {
		if err := copyToFile(f, backup); err != nil {
			return fmt.Errorf("backup %s: %w", backup, err)
		}
		if err := f.Truncate(0); err != nil {
			return fmt.Errorf("truncate %s: %w", r.path, err)
		}
		if _, err := f.WriteAt(body.Bytes(), 0); err != nil {
			return fmt.Errorf("rewrite %s: %w", r.path, err)
		}
		return f.Sync()
	})
	if err != nil {
		return "", err
	}
	r.logger.Info("data file replaced", "path", r.path, "backup", backup, "readings", len(rs))
	return backup, nil
}

func (r *fileRepository) Ping(ctx context.Context) error {
	st, err := os.Stat(r.path)
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("%s is a directory", r.path)
	}
	return nil
}

func copyToFile(src *os.File, dst string) error {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
