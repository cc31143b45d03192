package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Replaced in tests to simulate EXDEV.
var renameFunc = os.Rename

// EnsureDir creates dir when missing. Any other stat or mkdir failure, or a
// non-directory at dir, is a StorageUnavailableError.
func EnsureDir(dir string) error {
	fi, err := os.Stat(dir)
	switch {
	case err == nil:
		if !fi.IsDir() {
			return &StorageUnavailableError{
				Dir: dir,
				Err: &PathTypeConflictError{Path: dir, Want: "dir", Got: fi.Mode().Type().String()},
			}
		}
		return nil
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &StorageUnavailableError{Dir: dir, Err: err}
		}
		return nil
	default:
		return &StorageUnavailableError{Dir: dir, Err: err}
	}
}

func isEXDEV(err error) bool {
	if errors.Is(err, unix.EXDEV) {
		return true
	}
	var le *os.LinkError
	return errors.As(err, &le) && errors.Is(le.Err, unix.EXDEV)
}

// moveFile renames src to dst. Across file systems it copies into a temp file
// next to dst, fsyncs, renames it into place and removes src.
func moveFile(ctx context.Context, src, dst string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Lstat(dst); err == nil {
			return ErrDestinationExists
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := renameFunc(src, dst)
	if err == nil || !isEXDEV(err) {
		return err
	}
	return copyAcross(ctx, src, dst)
}

func copyAcross(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: in}); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Chmod(fi.Mode().Perm()); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return err
	}
	committed = true
	_ = syncDir(filepath.Dir(dst))

	if err := os.Remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("copied but could not remove source: %w", err)
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
