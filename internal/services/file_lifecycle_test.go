package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/home-monitor/video-svr/internal/correlate"
	"github.com/home-monitor/video-svr/pkg/schema"
)

func touch(t *testing.T, dir, name, body string) schema.VideoFile {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return schema.VideoFile{Path: p, Name: name}
}

func newTestExecutor(overwrite bool) *Executor {
	return NewExecutor(zap.NewNop(), ExecutorOptions{Workers: 2, MoveTimeout: time.Minute, Overwrite: overwrite})
}

func TestMove_CreatesDestinationAndRelocates(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "movement")
	a := touch(t, src, "a.mp4", "A")
	b := touch(t, src, "b.mp4", "B")

	res, err := newTestExecutor(true).Move(context.Background(), []schema.VideoFile{a, b}, dst)
	require.NoError(t, err)
	assert.Equal(t, []string{a.Path, b.Path}, res.Succeeded)
	assert.Empty(t, res.Failed)
	assert.NoError(t, res.Err())

	got, err := os.ReadFile(filepath.Join(dst, "b.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "B", string(got))
	assert.NoFileExists(t, a.Path)
}

func TestMove_DestinationIsFile(t *testing.T) {
	src := t.TempDir()
	blocker := filepath.Join(t.TempDir(), "movement")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	a := touch(t, src, "a.mp4", "A")

	_, err := newTestExecutor(true).Move(context.Background(), []schema.VideoFile{a}, blocker)
	var su *StorageUnavailableError
	require.True(t, errors.As(err, &su))
	assert.Equal(t, blocker, su.Dir)
	assert.FileExists(t, a.Path)
}

func TestMove_IsolatesPerFileFailures(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	a := touch(t, src, "a.mp4", "A")
	missing := schema.VideoFile{Path: filepath.Join(src, "gone.mp4"), Name: "gone.mp4"}
	c := touch(t, src, "c.mp4", "C")

	res, err := newTestExecutor(true).Move(context.Background(), []schema.VideoFile{a, missing, c}, dst)
	require.NoError(t, err)
	assert.Equal(t, []string{a.Path, c.Path}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, missing.Path, res.Failed[0].Path)
	assert.Equal(t, OpMove, res.Failed[0].Op)
	assert.Error(t, res.Err())
	assert.Contains(t, res.FailedPaths(), missing.Path)
}

func TestMove_OverwriteFlag(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	touch(t, dst, "a.mp4", "old")

	a := touch(t, src, "a.mp4", "new")
	res, err := newTestExecutor(false).Move(context.Background(), []schema.VideoFile{a}, dst)
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, ErrDestinationExists)
	assert.FileExists(t, a.Path)

	res, err = newTestExecutor(true).Move(context.Background(), []schema.VideoFile{a}, dst)
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	got, _ := os.ReadFile(filepath.Join(dst, "a.mp4"))
	assert.Equal(t, "new", string(got))
}

func TestMove_CrossDeviceFallsBackToCopy(t *testing.T) {
	old := renameFunc
	renameFunc = func(oldpath, newpath string) error {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: unix.EXDEV}
	}
	defer func() { renameFunc = old }()

	src := t.TempDir()
	dst := t.TempDir()
	a := touch(t, src, "a.mp4", "payload")

	res, err := newTestExecutor(true).Move(context.Background(), []schema.VideoFile{a}, dst)
	require.NoError(t, err)
	assert.Equal(t, []string{a.Path}, res.Succeeded)
	assert.NoFileExists(t, a.Path)

	got, err := os.ReadFile(filepath.Join(dst, "a.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	leftovers, _ := filepath.Glob(filepath.Join(dst, ".*tmp-*"))
	assert.Empty(t, leftovers)
}

func TestMove_CancelledContextLeavesSource(t *testing.T) {
	src := t.TempDir()
	a := touch(t, src, "a.mp4", "A")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newTestExecutor(true).Move(ctx, []schema.VideoFile{a}, t.TempDir())
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, context.Canceled)
	assert.FileExists(t, a.Path)
}

func TestDelete_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	a := touch(t, dir, "a.mp4", "A")
	exec := newTestExecutor(true)

	first := exec.Delete(context.Background(), []schema.VideoFile{a})
	second := exec.Delete(context.Background(), []schema.VideoFile{a})

	assert.Equal(t, []string{a.Path}, first.Succeeded)
	assert.Equal(t, []string{a.Path}, second.Succeeded)
	assert.Empty(t, second.Failed)
	assert.NoFileExists(t, a.Path)
}

func TestDeletePaths_RestrictsToRoots(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	in := touch(t, root, "a.mp4", "A")
	out := touch(t, outside, "b.mp4", "B")
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	res := newTestExecutor(true).DeletePaths(context.Background(), []string{
		in.Path,
		out.Path,
		"relative.mp4",
		filepath.Join(root, "..", filepath.Base(outside), "b.mp4"),
		root,
		filepath.Join(root, "sub"),
	}, []string{root})

	assert.Equal(t, []string{in.Path}, res.Succeeded)
	require.Len(t, res.Failed, 5)
	for _, f := range res.Failed[:4] {
		assert.ErrorIs(t, f.Err, ErrPathNotAllowed, f.Path)
	}
	var conflict *PathTypeConflictError
	assert.True(t, errors.As(res.Failed[4].Err, &conflict))
	assert.FileExists(t, out.Path)
	assert.DirExists(t, filepath.Join(root, "sub"))
}

func TestDeletePaths_Unrestricted(t *testing.T) {
	dir := t.TempDir()
	a := touch(t, dir, "a.mp4", "A")

	res := newTestExecutor(true).DeletePaths(context.Background(), []string{a.Path, filepath.Join(dir, "missing")}, nil)
	assert.Len(t, res.Succeeded, 2)
	assert.Empty(t, res.Failed)
}

func TestScanVideoFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "cam-2024-05-01-10:20:00.mp4", "B")
	touch(t, dir, "cam-2024-05-01-10:00:00.mp4", "A")
	touch(t, dir, ".partial", "")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	scanner := NewFileScanner(zap.NewNop(), time.UTC)
	files, err := scanner.ScanVideoFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		assert.False(t, f.StartTime.IsZero())
		assert.Equal(t, int64(1), f.Size)
	}

	touch(t, dir, "README", "x")
	_, err = scanner.ScanVideoFiles(dir)
	var pe *correlate.TimestampParseError
	assert.True(t, errors.As(err, &pe))

	listed, err := scanner.ListFiles(dir)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "README", listed[0].Name)
	assert.Equal(t, "cam-2024-05-01-10:00:00.mp4", listed[1].Name)
}

func TestScanVideoFiles_MissingDir(t *testing.T) {
	_, err := NewFileScanner(zap.NewNop(), nil).ScanVideoFiles(filepath.Join(t.TempDir(), "absent"))
	var su *StorageUnavailableError
	assert.True(t, errors.As(err, &su))
}
