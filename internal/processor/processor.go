package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/home-monitor/video-svr/internal/correlate"
	"github.com/home-monitor/video-svr/internal/services"
	"github.com/home-monitor/video-svr/internal/sink/arrow"
	"github.com/home-monitor/video-svr/internal/storage"
	"github.com/home-monitor/video-svr/pkg/schema"
)

// EventStore is the remote motion data store.
type EventStore interface {
	FetchUnprocessed(ctx context.Context) ([]schema.MotionEvent, error)
	ReportProcessed(ctx context.Context, events []schema.MotionEvent) error
}

// VideoScanner lists segments in a storage directory.
type VideoScanner interface {
	ScanVideoFiles(dir string) ([]schema.VideoFile, error)
	ListFiles(dir string) ([]schema.VideoFile, error)
}

// FileExecutor moves and deletes files with per-file failure isolation.
type FileExecutor interface {
	Move(ctx context.Context, files []schema.VideoFile, destDir string) (services.BatchResult, error)
	Delete(ctx context.Context, files []schema.VideoFile) services.BatchResult
	DeletePaths(ctx context.Context, paths []string, allowedRoots []string) services.BatchResult
}

// StateStore keeps pending reports and pass history across restarts.
type StateStore interface {
	AddPendingReports(ctx context.Context, passID string, events []schema.MotionEvent) error
	PendingReports(ctx context.Context) ([]schema.MotionEvent, error)
	ClearPendingReports(ctx context.Context, ids []schema.EventID) (int64, error)
	CountPendingReports(ctx context.Context) (int, error)
	RecordPass(ctx context.Context, rec storage.PassRecord) error
	ListPasses(ctx context.Context, limit int) ([]storage.PassRecord, error)
}

// Archiver records the per-file dispositions of a commit pass.
type Archiver interface {
	WritePass(passID string, at time.Time, rows []arrow.DispositionRow) (string, error)
}

// Options are the directories and limits a Processor works with.
type Options struct {
	VideoDir            string
	MovementDir         string
	RestrictDeletePaths bool
	PassTimeout         time.Duration
}

// Deps are the collaborators of a Processor. State and Archive may be nil.
type Deps struct {
	Remote   EventStore
	Scanner  VideoScanner
	Executor FileExecutor
	State    StateStore
	Archive  Archiver
	Lock     *PassLock
}

// FileFailure is a per-file failure in a commit result.
type FileFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// PreviewResult lists the annotated intervals of a read-only pass.
type PreviewResult struct {
	PassID    string                 `json:"pass_id"`
	Intervals []schema.VideoInterval `json:"intervals"`
}

// CommitResult is the per-file outcome of a commit pass.
type CommitResult struct {
	PassID           string           `json:"pass_id"`
	Intervals        int              `json:"intervals"`
	Moved            []string         `json:"moved"`
	MoveFailed       []FileFailure    `json:"move_failed"`
	Deleted          []string         `json:"deleted"`
	DeleteFailed     []FileFailure    `json:"delete_failed"`
	ReportedEventIDs []schema.EventID `json:"reported_event_ids"`
	ReportError      string           `json:"report_error,omitempty"`
	PendingReports   int              `json:"pending_reports"`
	ArchivePath      string           `json:"archive_path,omitempty"`
}

// ReplayResult counts pending reports sent and still outstanding.
type ReplayResult struct {
	Replayed  int `json:"replayed"`
	Remaining int `json:"remaining"`
}

const stateWriteTimeout = 5 * time.Second

// Processor runs correlation passes over the video storage directory.
type Processor struct {
	logger *zap.Logger
	opts   Options
	deps   Deps
	now    func() time.Time

	obsMu     sync.RWMutex
	observers []Observer
}

// New builds a Processor. A nil Deps.Lock gets an in-process-only lock.
func New(logger *zap.Logger, opts Options, deps Deps) *Processor {
	if deps.Lock == nil {
		deps.Lock = NewPassLock("")
	}
	return &Processor{
		logger: logger,
		opts:   opts,
		deps:   deps,
		now:    time.Now,
	}
}

// AddObserver registers o for every subsequent pass event.
func (p *Processor) AddObserver(o Observer) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.observers = append(p.observers, o)
}

func (p *Processor) emit(ev PassEvent) {
	ev.Time = p.now()
	p.obsMu.RLock()
	defer p.obsMu.RUnlock()
	for _, o := range p.observers {
		o.OnPassEvent(ev)
	}
}

// Lock exposes the pass lock, mainly so callers can report its holder.
func (p *Processor) Lock() *PassLock { return p.deps.Lock }

// Preview correlates current files and events without changing anything.
func (p *Processor) Preview(ctx context.Context) (*PreviewResult, error) {
	passID := uuid.NewString()
	log := p.logger.With(zap.String("pass_id", passID), zap.String("mode", string(schema.PassModePreview)))
	ctx, cancel := p.passContext(ctx)
	defer cancel()

	rec := storage.PassRecord{ID: passID, Mode: string(schema.PassModePreview), StartedAt: p.now()}
	p.emit(PassEvent{Type: EventStarted, PassID: passID, Mode: rec.Mode})

	intervals, err := p.correlate(ctx, log)
	if err != nil {
		p.finish(ctx, log, &rec, err)
		return nil, err
	}
	rec.Intervals = len(intervals)
	p.emit(PassEvent{Type: EventWindowsBuilt, PassID: passID, Mode: rec.Mode, Count: len(intervals)})
	p.finish(ctx, log, &rec, nil)

	return &PreviewResult{PassID: passID, Intervals: intervals}, nil
}

// Commit moves files with motion, deletes the rest and reports the matched
// events of moved files. Once file operations have started the returned
// result is non-nil even when err is set.
func (p *Processor) Commit(ctx context.Context) (*CommitResult, error) {
	passID := uuid.NewString()
	mode := string(schema.PassModeCommit)
	if err := p.deps.Lock.TryLock(passID, mode); err != nil {
		return nil, err
	}
	defer func() {
		if err := p.deps.Lock.Unlock(); err != nil {
			p.logger.Warn("Failed to release pass lock", zap.Error(err))
		}
	}()

	log := p.logger.With(zap.String("pass_id", passID), zap.String("mode", mode))
	ctx, cancel := p.passContext(ctx)
	defer cancel()

	rec := storage.PassRecord{ID: passID, Mode: mode, StartedAt: p.now()}
	p.emit(PassEvent{Type: EventStarted, PassID: passID, Mode: mode})
	log.Info("Commit pass started")

	intervals, err := p.correlate(ctx, log)
	if err != nil {
		p.finish(ctx, log, &rec, err)
		return nil, err
	}
	rec.Intervals = len(intervals)
	p.emit(PassEvent{Type: EventWindowsBuilt, PassID: passID, Mode: mode, Count: len(intervals)})

	// pending reports go out only once the pass is known to proceed
	if _, err := p.replay(ctx, log); err != nil {
		log.Warn("Pending report replay failed, continuing", zap.Error(err))
	}

	plan := correlate.Partition(intervals)
	log.Info("Partitioned video files",
		zap.Int("to_move", len(plan.ToMove)),
		zap.Int("to_delete", len(plan.ToDelete)),
		zap.Int("to_report", len(plan.ToReport)))

	var (
		moved   services.BatchResult
		deleted services.BatchResult
		moveErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		deleted = p.deps.Executor.Delete(gctx, plan.ToDelete)
		return nil
	})
	g.Go(func() error {
		moved, moveErr = p.deps.Executor.Move(gctx, plan.ToMove, p.opts.MovementDir)
		return nil
	})
	_ = g.Wait()

	res := &CommitResult{
		PassID:           passID,
		Intervals:        len(intervals),
		Moved:            nonNil(moved.Succeeded),
		MoveFailed:       failures(moved.Failed),
		Deleted:          nonNil(deleted.Succeeded),
		DeleteFailed:     failures(deleted.Failed),
		ReportedEventIDs: []schema.EventID{},
	}
	p.publishBatch(passID, mode, EventFileMoved, moved)
	p.publishBatch(passID, mode, EventFileDeleted, deleted)
	if err := deleted.Err(); err != nil {
		log.Warn("Some deletions failed", zap.Error(err))
	}
	if err := moved.Err(); err != nil {
		log.Warn("Some moves failed; their events stay unprocessed", zap.Error(err))
	}

	passErr := moveErr
	if moveErr == nil {
		passErr = p.report(ctx, log, passID, plan.ReportableFor(moved.Succeeded), res)
	} else {
		log.Error("Movement storage unavailable; nothing reported", zap.Error(moveErr))
	}

	if p.deps.State != nil {
		sctx, cancel := detached(ctx)
		if n, err := p.deps.State.CountPendingReports(sctx); err == nil {
			res.PendingReports = n
		}
		cancel()
	}
	res.ArchivePath = p.archive(log, passID, intervals, res, moveErr)

	rec.Moved, rec.MoveFailed = len(res.Moved), len(res.MoveFailed)
	rec.Deleted, rec.DeleteFailed = len(res.Deleted), len(res.DeleteFailed)
	rec.Reported = len(res.ReportedEventIDs)
	p.finish(ctx, log, &rec, passErr)

	return res, passErr
}

func (p *Processor) report(ctx context.Context, log *zap.Logger, passID string, events []schema.MotionEvent, res *CommitResult) error {
	if len(events) == 0 {
		return nil
	}
	if err := p.deps.Remote.ReportProcessed(ctx, events); err != nil {
		res.ReportError = err.Error()
		log.Error("Report failed after move; events kept for retry",
			zap.Int("events", len(events)), zap.Error(err))
		if p.deps.State != nil {
			// the pass context may be what failed the report
			sctx, cancel := detached(ctx)
			defer cancel()
			if perr := p.deps.State.AddPendingReports(sctx, passID, events); perr != nil {
				log.Error("Failed to persist pending reports", zap.Error(perr))
			}
		}
		return fmt.Errorf("report processed events: %w", err)
	}
	res.ReportedEventIDs = schema.EventIDs(events)
	p.emit(PassEvent{Type: EventReported, PassID: passID, Mode: string(schema.PassModeCommit), Count: len(events)})
	return nil
}

// ReplayPending resends reports that failed in earlier passes.
func (p *Processor) ReplayPending(ctx context.Context) (*ReplayResult, error) {
	passID := uuid.NewString()
	if err := p.deps.Lock.TryLock(passID, "replay"); err != nil {
		return nil, err
	}
	defer p.deps.Lock.Unlock() //nolint:errcheck

	ctx, cancel := p.passContext(ctx)
	defer cancel()
	return p.replay(ctx, p.logger.With(zap.String("pass_id", passID), zap.String("mode", "replay")))
}

func (p *Processor) replay(ctx context.Context, log *zap.Logger) (*ReplayResult, error) {
	res := &ReplayResult{}
	if p.deps.State == nil {
		return res, nil
	}
	pending, err := p.deps.State.PendingReports(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pending reports: %w", err)
	}
	if len(pending) == 0 {
		return res, nil
	}

	if err := p.deps.Remote.ReportProcessed(ctx, pending); err != nil {
		res.Remaining = len(pending)
		return res, fmt.Errorf("replay pending reports: %w", err)
	}
	n, err := p.deps.State.ClearPendingReports(ctx, schema.EventIDs(pending))
	if err != nil {
		return nil, fmt.Errorf("clear pending reports: %w", err)
	}
	res.Replayed = int(n)
	if remaining, err := p.deps.State.CountPendingReports(ctx); err == nil {
		res.Remaining = remaining
	}
	log.Info("Replayed pending reports", zap.Int("replayed", res.Replayed))
	return res, nil
}

// ListVideoFiles lists the video storage directory.
func (p *Processor) ListVideoFiles(_ context.Context) ([]schema.VideoFile, error) {
	files, err := p.deps.Scanner.ListFiles(p.opts.VideoDir)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []schema.VideoFile{}
	}
	return files, nil
}

// DeleteFiles deletes caller-supplied paths, restricted to the storage
// directories when configured.
func (p *Processor) DeleteFiles(ctx context.Context, paths []string) services.BatchResult {
	var roots []string
	if p.opts.RestrictDeletePaths {
		roots = []string{p.opts.VideoDir, p.opts.MovementDir}
	}
	res := p.deps.Executor.DeletePaths(ctx, paths, roots)
	p.logger.Info("Deleted files on request",
		zap.Int("requested", len(paths)),
		zap.Int("deleted", len(res.Succeeded)),
		zap.Int("failed", len(res.Failed)))
	return res
}

// ListPasses returns recent pass history, newest first.
func (p *Processor) ListPasses(ctx context.Context, limit int) ([]storage.PassRecord, error) {
	if p.deps.State == nil {
		return []storage.PassRecord{}, nil
	}
	return p.deps.State.ListPasses(ctx, limit)
}

func (p *Processor) correlate(ctx context.Context, log *zap.Logger) ([]schema.VideoInterval, error) {
	events, err := p.deps.Remote.FetchUnprocessed(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch unprocessed events: %w", err)
	}

	files, err := p.deps.Scanner.ScanVideoFiles(p.opts.VideoDir)
	if err != nil {
		return nil, fmt.Errorf("scan video storage: %w", err)
	}

	windows, err := correlate.BuildWindows(files)
	if err != nil {
		return nil, err
	}

	intervals := correlate.MapAll(windows, events)
	log.Debug("Correlated events with video files",
		zap.Int("events", len(events)),
		zap.Int("files", len(files)),
		zap.Int("intervals", len(intervals)))
	return intervals, nil
}

func (p *Processor) passContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.PassTimeout > 0 {
		return context.WithTimeout(ctx, p.opts.PassTimeout)
	}
	return context.WithCancel(ctx)
}

func (p *Processor) finish(ctx context.Context, log *zap.Logger, rec *storage.PassRecord, err error) {
	rec.FinishedAt = p.now()
	ev := PassEvent{Type: EventFinished, PassID: rec.ID, Mode: rec.Mode, Count: rec.Intervals}
	if err != nil {
		rec.Error = err.Error()
		ev.Type = EventFailed
		ev.Error = rec.Error
		logPassError(log, err)
	} else {
		log.Info("Pass finished",
			zap.Int("intervals", rec.Intervals),
			zap.Int("moved", rec.Moved),
			zap.Int("deleted", rec.Deleted),
			zap.Int("reported", rec.Reported),
			zap.Duration("elapsed", rec.FinishedAt.Sub(rec.StartedAt)))
	}

	if p.deps.State != nil {
		// history must land even when the pass context has expired
		hctx, cancel := detached(ctx)
		defer cancel()
		if herr := p.deps.State.RecordPass(hctx, *rec); herr != nil {
			log.Warn("Failed to record pass history", zap.Error(herr))
		}
	}
	p.emit(ev)
}

// detached returns a short-lived context that survives cancellation of ctx,
// for bookkeeping writes that must land after the pass context is gone.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), stateWriteTimeout)
}

func logPassError(log *zap.Logger, err error) {
	var insufficient *correlate.InsufficientFilesError
	if errors.As(err, &insufficient) {
		log.Warn("Pass skipped", zap.Error(err))
		return
	}
	log.Error("Pass failed", zap.Error(err))
}

func (p *Processor) publishBatch(passID, mode, okType string, res services.BatchResult) {
	for _, path := range res.Succeeded {
		p.emit(PassEvent{Type: okType, PassID: passID, Mode: mode, Path: path})
	}
	for _, f := range res.Failed {
		p.emit(PassEvent{Type: EventFileFailed, PassID: passID, Mode: mode, Path: f.Path, Error: f.Err.Error()})
	}
}

func (p *Processor) archive(log *zap.Logger, passID string, intervals []schema.VideoInterval, res *CommitResult, moveErr error) string {
	if p.deps.Archive == nil {
		return ""
	}

	outcome := make(map[string]string, len(intervals))
	errText := make(map[string]string)
	for _, path := range res.Moved {
		outcome[path] = arrow.OutcomeMoved
	}
	for _, path := range res.Deleted {
		outcome[path] = arrow.OutcomeDeleted
	}
	for _, f := range res.MoveFailed {
		outcome[f.Path] = arrow.OutcomeMoveFailed
		errText[f.Path] = f.Error
	}
	for _, f := range res.DeleteFailed {
		outcome[f.Path] = arrow.OutcomeDeleteFailed
		errText[f.Path] = f.Error
	}

	rows := make([]arrow.DispositionRow, 0, len(intervals))
	for _, iv := range intervals {
		ids := make([]string, 0, len(iv.MatchedEvents))
		for _, e := range iv.MatchedEvents {
			ids = append(ids, string(e.ID))
		}
		row := arrow.DispositionRow{
			File:        iv.File.Path,
			Start:       iv.Start,
			Stop:        iv.Stop,
			Disposition: string(iv.Disposition()),
			Outcome:     outcome[iv.File.Path],
			EventIDs:    ids,
			Error:       errText[iv.File.Path],
		}
		if row.Outcome == "" {
			row.Outcome = arrow.OutcomeSkipped
			if moveErr != nil {
				row.Error = moveErr.Error()
			}
		}
		rows = append(rows, row)
	}

	path, err := p.deps.Archive.WritePass(passID, p.now(), rows)
	if err != nil {
		log.Warn("Failed to archive pass dispositions", zap.Error(err))
		return ""
	}
	return path
}

func failures(in []services.FileOperationError) []FileFailure {
	out := make([]FileFailure, 0, len(in))
	for _, f := range in {
		out = append(out, FileFailure{Path: f.Path, Error: f.Err.Error()})
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
