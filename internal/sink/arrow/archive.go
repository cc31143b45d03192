package arrow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"go.uber.org/zap"
)

// Outcome of a single file inside a commit pass.
const (
	OutcomeMoved        = "moved"
	OutcomeDeleted      = "deleted"
	OutcomeMoveFailed   = "move_failed"
	OutcomeDeleteFailed = "delete_failed"
	OutcomeSkipped      = "skipped"
)

const manifestName = "manifest.jsonl"

// DispositionRow is one windowed file of a pass.
type DispositionRow struct {
	File        string    `json:"file"`
	Start       time.Time `json:"start"`
	Stop        time.Time `json:"stop"`
	Disposition string    `json:"disposition"`
	Outcome     string    `json:"outcome"`
	EventIDs    []string  `json:"event_ids"`
	Error       string    `json:"error,omitempty"`
}

// ManifestEntry is one line of manifest.jsonl.
type ManifestEntry struct {
	Timestamp time.Time `json:"ts"`
	PassID    string    `json:"pass_id"`
	FilePath  string    `json:"file"`
	Rows      int       `json:"rows"`
	Moved     int       `json:"moved"`
	Deleted   int       `json:"deleted"`
	Failed    int       `json:"failed"`
	SizeBytes int64     `json:"size_bytes"`
	Format    string    `json:"format"`
}

// Archive writes one Arrow IPC file per commit pass under
// <dir>/date=YYYY-MM-DD/ and appends a manifest entry for it.
type Archive struct {
	logger *zap.Logger
	mem    memory.Allocator
	dir    string

	manifestMu sync.Mutex
}

func NewArchive(logger *zap.Logger, dir string) *Archive {
	return &Archive{
		logger: logger,
		mem:    memory.NewGoAllocator(),
		dir:    dir,
	}
}

func (a *Archive) Dir() string { return a.dir }

// WritePass stores rows for passID and returns the written path.
func (a *Archive) WritePass(passID string, at time.Time, rows []DispositionRow) (string, error) {
	at = at.UTC()
	dateDir := filepath.Join(a.dir, "date="+at.Format("2006-01-02"))
	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	short := passID
	if len(short) > 8 {
		short = short[:8]
	}
	filePath := filepath.Join(dateDir, fmt.Sprintf("pass-%s-%s.arrow", at.Format("20060102T150405Z"), short))

	record := a.buildRecord(passID, at, rows)
	defer record.Release()

	if err := writeRecordFile(filePath, record); err != nil {
		return "", fmt.Errorf("failed to write Arrow file: %w", err)
	}

	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to get file info: %w", err)
	}

	entry := ManifestEntry{
		Timestamp: at,
		PassID:    passID,
		FilePath:  filePath,
		Rows:      len(rows),
		SizeBytes: fileInfo.Size(),
		Format:    "arrow_ipc",
	}
	for _, r := range rows {
		switch r.Outcome {
		case OutcomeMoved:
			entry.Moved++
		case OutcomeDeleted:
			entry.Deleted++
		case OutcomeMoveFailed, OutcomeDeleteFailed:
			entry.Failed++
		}
	}
	if err := a.appendManifest(entry); err != nil {
		a.logger.Warn("Failed to update manifest", zap.Error(err))
	}

	a.logger.Info("Archived pass dispositions",
		zap.String("pass_id", passID),
		zap.String("file", filePath),
		zap.Int("rows", len(rows)),
		zap.Int64("size_bytes", fileInfo.Size()))

	return filePath, nil
}

func (a *Archive) buildRecord(passID string, at time.Time, rows []DispositionRow) arrow.Record {
	md := arrow.NewMetadata(
		[]string{"pass_id", "archived_at"},
		[]string{passID, at.Format(time.RFC3339Nano)},
	)
	sc := dispositionSchema(&md)

	builder := array.NewRecordBuilder(a.mem, sc)
	defer builder.Release()

	fileB := builder.Field(0).(*array.StringBuilder)
	startB := builder.Field(1).(*array.TimestampBuilder)
	stopB := builder.Field(2).(*array.TimestampBuilder)
	dispB := builder.Field(3).(*array.StringBuilder)
	outB := builder.Field(4).(*array.StringBuilder)
	idsB := builder.Field(5).(*array.StringBuilder)
	errB := builder.Field(6).(*array.StringBuilder)

	for _, r := range rows {
		fileB.Append(r.File)
		startB.Append(arrow.Timestamp(r.Start.UnixMicro()))
		stopB.Append(arrow.Timestamp(r.Stop.UnixMicro()))
		dispB.Append(r.Disposition)
		outB.Append(r.Outcome)
		idsB.Append(strings.Join(r.EventIDs, ","))
		if r.Error == "" {
			errB.AppendNull()
		} else {
			errB.Append(r.Error)
		}
	}

	return builder.NewRecord()
}

func dispositionSchema(md *arrow.Metadata) *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "file", Type: arrow.BinaryTypes.String},
			{Name: "start", Type: arrow.FixedWidthTypes.Timestamp_us},
			{Name: "stop", Type: arrow.FixedWidthTypes.Timestamp_us},
			{Name: "disposition", Type: arrow.BinaryTypes.String},
			{Name: "outcome", Type: arrow.BinaryTypes.String},
			{Name: "event_ids", Type: arrow.BinaryTypes.String},
			{Name: "error", Type: arrow.BinaryTypes.String, Nullable: true},
		},
		md,
	)
}

// writeRecordFile writes through a temp file and renames it into place.
func writeRecordFile(filePath string, record arrow.Record) error {
	tempPath := filePath + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	writer := ipc.NewWriter(file, ipc.WithSchema(record.Schema()))
	if err := writer.Write(record); err != nil {
		writer.Close()
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := writer.Close(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to close writer: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}

	return os.Rename(tempPath, filePath)
}

func (a *Archive) appendManifest(entry ManifestEntry) error {
	a.manifestMu.Lock()
	defer a.manifestMu.Unlock()

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest entry: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(a.dir, manifestName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open manifest file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("failed to write to manifest: %w", err)
	}
	return nil
}
