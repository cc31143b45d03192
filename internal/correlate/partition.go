package correlate

import "github.com/home-monitor/video-svr/pkg/schema"

// Plan is the outcome of partitioning a pass.
type Plan struct {
	ToMove   []schema.VideoFile
	ToDelete []schema.VideoFile
	ToReport []schema.MotionEvent

	// reportsByFile lets the executor report only events whose file moved.
	reportsByFile map[string][]schema.MotionEvent
}

// Partition splits intervals into files to keep and files to discard.
// ToReport is flattened in interval order; an event attached to several
// intervals appears once.
func Partition(intervals []schema.VideoInterval) Plan {
	p := Plan{
		ToMove:        make([]schema.VideoFile, 0),
		ToDelete:      make([]schema.VideoFile, 0),
		ToReport:      make([]schema.MotionEvent, 0),
		reportsByFile: make(map[string][]schema.MotionEvent),
	}

	for _, iv := range intervals {
		if !iv.HasMotion() {
			p.ToDelete = append(p.ToDelete, iv.File)
			continue
		}
		p.ToMove = append(p.ToMove, iv.File)
		p.ToReport = append(p.ToReport, iv.MatchedEvents...)
		p.reportsByFile[iv.File.Path] = append(p.reportsByFile[iv.File.Path], iv.MatchedEvents...)
	}

	p.ToReport = dedupeEvents(p.ToReport)
	return p
}

// ReportableFor returns the events to report given the set of files that were
// actually moved. Events of files that failed to move are held back.
func (p Plan) ReportableFor(moved []string) []schema.MotionEvent {
	var events []schema.MotionEvent
	for _, path := range moved {
		events = append(events, p.reportsByFile[path]...)
	}

	// keep ToReport order
	keep := make(map[schema.EventID]struct{}, len(events))
	for _, e := range events {
		keep[e.ID] = struct{}{}
	}
	out := make([]schema.MotionEvent, 0, len(keep))
	for _, e := range p.ToReport {
		if _, ok := keep[e.ID]; ok {
			out = append(out, e)
		}
	}
	return out
}

func dedupeEvents(events []schema.MotionEvent) []schema.MotionEvent {
	seen := make(map[schema.EventID]struct{}, len(events))
	out := make([]schema.MotionEvent, 0, len(events))
	for _, e := range events {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}
