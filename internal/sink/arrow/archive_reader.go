package arrow

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
)

// ReadPass loads every row of an archived pass file.
func ReadPass(filePath string) ([]DispositionRow, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader, err := ipc.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}
	defer reader.Release()

	if !sameFields(reader.Schema(), dispositionSchema(nil)) {
		return nil, fmt.Errorf("%s: not a disposition archive", filePath)
	}

	var rows []DispositionRow
	for reader.Next() {
		rows = append(rows, recordRows(reader.Record())...)
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return rows, nil
}

func sameFields(got, want *arrow.Schema) bool {
	if got.NumFields() != want.NumFields() {
		return false
	}
	for i := 0; i < want.NumFields(); i++ {
		if !got.Field(i).Equal(want.Field(i)) {
			return false
		}
	}
	return true
}

func recordRows(rec arrow.Record) []DispositionRow {
	fileCol := rec.Column(0).(*array.String)
	startCol := rec.Column(1).(*array.Timestamp)
	stopCol := rec.Column(2).(*array.Timestamp)
	dispCol := rec.Column(3).(*array.String)
	outCol := rec.Column(4).(*array.String)
	idsCol := rec.Column(5).(*array.String)
	errCol := rec.Column(6).(*array.String)

	rows := make([]DispositionRow, 0, rec.NumRows())
	for i := 0; i < int(rec.NumRows()); i++ {
		r := DispositionRow{
			File:        fileCol.Value(i),
			Start:       time.UnixMicro(int64(startCol.Value(i))).UTC(),
			Stop:        time.UnixMicro(int64(stopCol.Value(i))).UTC(),
			Disposition: dispCol.Value(i),
			Outcome:     outCol.Value(i),
			EventIDs:    []string{},
		}
		if ids := idsCol.Value(i); ids != "" {
			r.EventIDs = strings.Split(ids, ",")
		}
		if !errCol.IsNull(i) {
			r.Error = errCol.Value(i)
		}
		rows = append(rows, r)
	}
	return rows
}

// Manifest returns the manifest entries, oldest first. A missing manifest is empty.
func (a *Archive) Manifest() ([]ManifestEntry, error) {
	a.manifestMu.Lock()
	defer a.manifestMu.Unlock()

	file, err := os.Open(filepath.Join(a.dir, manifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return []ManifestEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	entries := []ManifestEntry{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e ManifestEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("manifest line: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// FindPass returns the archived file for passID.
func (a *Archive) FindPass(passID string) (string, error) {
	entries, err := a.Manifest()
	if err != nil {
		return "", err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].PassID == passID {
			return entries[i].FilePath, nil
		}
	}
	return "", fs.ErrNotExist
}
