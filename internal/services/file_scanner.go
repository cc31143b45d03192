package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/home-monitor/video-svr/internal/correlate"
	"github.com/home-monitor/video-svr/pkg/schema"
)

// FileScanner lists recorded segments in a storage directory.
type FileScanner struct {
	logger *zap.Logger
	loc    *time.Location
}

func NewFileScanner(logger *zap.Logger, loc *time.Location) *FileScanner {
	if loc == nil {
		loc = time.Local
	}
	return &FileScanner{
		logger: logger,
		loc:    loc,
	}
}

// ScanVideoFiles returns every regular, non-hidden file in dir with its start
// time parsed from the name. A name without a valid stamp aborts the scan.
func (fs *FileScanner) ScanVideoFiles(dir string) ([]schema.VideoFile, error) {
	entries, err := fs.regularFiles(dir)
	if err != nil {
		return nil, err
	}

	files := make([]schema.VideoFile, 0, len(entries))
	for _, f := range entries {
		start, err := correlate.ParseStartTime(f.Name, fs.loc)
		if err != nil {
			return nil, err
		}
		f.StartTime = start
		files = append(files, f)
	}

	fs.logger.Debug("Scanned video storage",
		zap.String("dir", dir),
		zap.Int("files", len(files)))

	return files, nil
}

// ListFiles is the lenient listing used by the API: names without a stamp are
// returned with a zero StartTime.
func (fs *FileScanner) ListFiles(dir string) ([]schema.VideoFile, error) {
	entries, err := fs.regularFiles(dir)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if start, err := correlate.ParseStartTime(entries[i].Name, fs.loc); err == nil {
			entries[i].StartTime = start
		}
	}
	correlate.SortByStart(entries)
	return entries, nil
}

func (fs *FileScanner) regularFiles(dir string) ([]schema.VideoFile, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &StorageUnavailableError{Dir: dir, Err: err}
	}

	var files []schema.VideoFile
	for _, de := range dirEntries {
		name := de.Name()
		if strings.HasPrefix(name, ".") || !de.Type().IsRegular() {
			continue
		}

		info, err := de.Info()
		if err != nil {
			// removed between readdir and stat
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}

		files = append(files, schema.VideoFile{
			Path:         filepath.Join(dir, name),
			Name:         name,
			ModifiedTime: info.ModTime(),
			Size:         info.Size(),
		})
	}
	return files, nil
}
