package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/home-monitor/video-svr/pkg/schema"
)

const (
	OpMove   = "move"
	OpDelete = "delete"
)

// BatchResult reports per-file outcomes. Succeeded keeps input order.
type BatchResult struct {
	Succeeded []string
	Failed    []FileOperationError
}

// Err combines every per-file failure, or returns nil.
func (r BatchResult) Err() error {
	var err error
	for i := range r.Failed {
		err = multierr.Append(err, &r.Failed[i])
	}
	return err
}

// FailedPaths maps each failed path to its error message.
func (r BatchResult) FailedPaths() map[string]string {
	out := make(map[string]string, len(r.Failed))
	for _, f := range r.Failed {
		out[f.Path] = f.Err.Error()
	}
	return out
}

// ExecutorOptions bound the worker pool and per-move time and set the overwrite policy.
type ExecutorOptions struct {
	Workers     int
	MoveTimeout time.Duration
	Overwrite   bool
}

// Executor moves and deletes video files. Failures are isolated per file.
type Executor struct {
	logger *zap.Logger
	opts   ExecutorOptions
}

// NewExecutor returns an Executor with at least one worker.
func NewExecutor(logger *zap.Logger, opts ExecutorOptions) *Executor {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Executor{logger: logger, opts: opts}
}

// Move relocates files into destDir, keeping base names. A destDir that
// cannot be created or used fails the whole batch with StorageUnavailableError
// before any file is touched.
func (e *Executor) Move(ctx context.Context, files []schema.VideoFile, destDir string) (BatchResult, error) {
	if len(files) == 0 {
		return BatchResult{}, nil
	}
	if err := EnsureDir(destDir); err != nil {
		e.logger.Error("Movement storage unavailable", zap.String("dir", destDir), zap.Error(err))
		return BatchResult{}, err
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}

	res := e.run(ctx, OpMove, paths, func(ctx context.Context, src string) error {
		if e.opts.MoveTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.opts.MoveTimeout)
			defer cancel()
		}
		return moveFile(ctx, src, filepath.Join(destDir, filepath.Base(src)), e.opts.Overwrite)
	})
	return res, nil
}

// Delete unlinks files. A file that is already gone counts as deleted.
func (e *Executor) Delete(ctx context.Context, files []schema.VideoFile) BatchResult {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return e.run(ctx, OpDelete, paths, removeFile)
}

// DeletePaths deletes caller-supplied paths. Paths must be absolute and, when
// allowedRoots is non-empty, strictly inside one of them. Rejected paths fail
// with ErrPathNotAllowed without touching the file system.
func (e *Executor) DeletePaths(ctx context.Context, paths []string, allowedRoots []string) BatchResult {
	var rejected []FileOperationError
	accepted := make([]string, 0, len(paths))
	for _, p := range paths {
		if err := checkDeletable(p, allowedRoots); err != nil {
			rejected = append(rejected, FileOperationError{Op: OpDelete, Path: p, Err: err})
			continue
		}
		accepted = append(accepted, filepath.Clean(p))
	}

	res := e.run(ctx, OpDelete, accepted, func(ctx context.Context, p string) error {
		fi, err := os.Lstat(p)
		if err == nil && fi.IsDir() {
			return &PathTypeConflictError{Path: p, Want: "file", Got: "dir"}
		}
		return removeFile(ctx, p)
	})
	res.Failed = append(rejected, res.Failed...)
	return res
}

func checkDeletable(p string, allowedRoots []string) error {
	if !filepath.IsAbs(p) {
		return fmt.Errorf("%w: not absolute", ErrPathNotAllowed)
	}
	if len(allowedRoots) == 0 {
		return nil
	}
	clean := filepath.Clean(p)
	for _, root := range allowedRoots {
		rel, err := filepath.Rel(filepath.Clean(root), clean)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return nil
	}
	return ErrPathNotAllowed
}

func removeFile(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// run applies op to every path on a bounded worker pool. Per-file errors are
// collected, never returned to the group, so one failure does not cancel the rest.
func (e *Executor) run(ctx context.Context, op string, paths []string, fn func(context.Context, string) error) BatchResult {
	errs := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			errs[i] = fn(gctx, p)
			return nil
		})
	}
	_ = g.Wait()

	var res BatchResult
	for i, p := range paths {
		if errs[i] != nil {
			e.logger.Warn("File operation failed",
				zap.String("op", op),
				zap.String("path", p),
				zap.Error(errs[i]))
			res.Failed = append(res.Failed, FileOperationError{Op: op, Path: p, Err: errs[i]})
			continue
		}
		e.logger.Debug("File operation done", zap.String("op", op), zap.String("path", p))
		res.Succeeded = append(res.Succeeded, p)
	}
	return res
}
