package correlate

import (
	"regexp"
	"sort"
	"time"

	"github.com/home-monitor/video-svr/pkg/schema"
)

var startStampRE = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})-(\d{2}:\d{2}:\d{2})`)

const startStampLayout = "2006-01-02 15:04:05"

// ParseStartTime extracts the recording start embedded in a segment name.
// The first YYYY-MM-DD-HH:MM:SS occurrence wins and is read in loc.
func ParseStartTime(name string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}

	m := startStampRE.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, &TimestampParseError{Name: name}
	}

	t, err := time.ParseInLocation(startStampLayout, m[1]+" "+m[2], loc)
	if err != nil {
		return time.Time{}, &TimestampParseError{Name: name, Err: err}
	}
	return t, nil
}

// SortByStart orders segments chronologically; directory enumeration order is
// not trusted. Equal start times fall back to the file name.
func SortByStart(files []schema.VideoFile) {
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].StartTime.Equal(files[j].StartTime) {
			return files[i].Name < files[j].Name
		}
		return files[i].StartTime.Before(files[j].StartTime)
	})
}

// BuildWindows turns segments into intervals [start, modified). The newest
// segment is excluded because it is still being recorded.
//
// The input slice is not modified.
func BuildWindows(files []schema.VideoFile) ([]schema.VideoInterval, error) {
	if len(files) < MinVideoFiles {
		return nil, &InsufficientFilesError{Found: len(files)}
	}

	sorted := append([]schema.VideoFile(nil), files...)
	SortByStart(sorted)

	complete := sorted[:len(sorted)-1]
	intervals := make([]schema.VideoInterval, 0, len(complete))
	for _, f := range complete {
		iv := schema.VideoInterval{
			File:          f,
			Start:         f.StartTime,
			Stop:          f.ModifiedTime,
			MatchedEvents: []schema.MotionEvent{},
		}
		if iv.Stop.Before(iv.Start) {
			iv.Stop = iv.Start
			iv.Clamped = true
		}
		intervals = append(intervals, iv)
	}
	return intervals, nil
}
