// Package processor drives a sync run: members, then their recording
// sessions, then each session's files, one at a time in enumeration order
package processor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/curtbushko/zoom-mirror/internal/directory"
	"github.com/curtbushko/zoom-mirror/internal/download"
	"github.com/curtbushko/zoom-mirror/internal/logging"
	"github.com/curtbushko/zoom-mirror/internal/tracking"
	"github.com/curtbushko/zoom-mirror/internal/users"
	"github.com/curtbushko/zoom-mirror/internal/zoom"
)

// MemberLister enumerates account members
type MemberLister interface {
	ListAllMembers(ctx context.Context) ([]zoom.User, error)
}

// RecordingLister enumerates one member's recording sessions in a date range
type RecordingLister interface {
	ListRecordings(ctx context.Context, memberID string, from, to time.Time) ([]zoom.Recording, error)
}

// MetricsObserver receives run measurements
type MetricsObserver interface {
	ObserveFile(status string)
	ObservePruned(n int)
	ObserveEnumerationError(scope string)
	ObserveRun(duration time.Duration, finished time.Time)
}

// OrchestratorConfig holds configuration for a sync run
type OrchestratorConfig struct {
	Lookback          time.Duration // Trailing window re-scanned on every run
	CaptionExtensions []string      // Extensions whose declared size is not checked
}

// RunSummary represents the outcome of one run
type RunSummary struct {
	RunID            string
	From             time.Time
	To               time.Time
	TotalMembers     int
	ProcessedMembers int
	FailedMembers    int
	TotalDownloaded  int
	TotalArchived    int
	TotalErrors      int
	SkippedMeetings  int
	PrunedDirs       int
	Records          []tracking.DownloadRecord
	MemberResults    []*MemberResult
	Duration         time.Duration
}

// MemberResult represents the outcome for one member
type MemberResult struct {
	Email           string
	MemberID        string
	Sessions        int
	Downloaded      int
	Archived        int
	Errors          int
	SkippedMeetings int
	PrunedDirs      int
	Records         []tracking.DownloadRecord
	Err             error
	Duration        time.Duration
}

// SessionResult represents the outcome for one recording session
type SessionResult struct {
	SessionID  string
	Topic      string
	Path       directory.SessionPath
	Records    []tracking.DownloadRecord
	Downloaded int
	Archived   int
	Errors     int
	PrunedDirs int
	Skipped    bool // The session listed no files
}

// MemberListing pairs a member with the sessions found for them
type MemberListing struct {
	Member     zoom.User
	Recordings []zoom.Recording
	Err        error
}

// Orchestrator reconciles the local tree against the remote recording set
type Orchestrator struct {
	members    MemberLister
	recordings RecordingLister
	downloads  download.DownloadManager
	planner    *directory.PathPlanner
	config     OrchestratorConfig
	captions   map[string]bool

	filter  users.ActiveUserManager
	tracker tracking.CSVTracker
	metrics MetricsObserver
	logger  logging.Logger
	now     func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithUserFilter restricts the run to active members
func WithUserFilter(filter users.ActiveUserManager) Option {
	return func(o *Orchestrator) {
		o.filter = filter
	}
}

// WithTracker appends every record to a CSV report as it is produced
func WithTracker(tracker tracking.CSVTracker) Option {
	return func(o *Orchestrator) {
		o.tracker = tracker
	}
}

// WithMetrics registers a metrics observer
func WithMetrics(metrics MetricsObserver) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock replaces the clock used for the date window
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(
	members MemberLister,
	recordings RecordingLister,
	downloads download.DownloadManager,
	planner *directory.PathPlanner,
	cfg OrchestratorConfig,
	opts ...Option,
) *Orchestrator {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 32 * 24 * time.Hour
	}

	captions := make(map[string]bool, len(cfg.CaptionExtensions))
	for _, ext := range cfg.CaptionExtensions {
		captions[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}

	o := &Orchestrator{
		members:    members,
		recordings: recordings,
		downloads:  downloads,
		planner:    planner,
		config:     cfg,
		captions:   captions,
		logger:     logging.NewNopLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Window returns the date range of a run started now
func (o *Orchestrator) Window() (time.Time, time.Time) {
	to := o.now()
	return to.Add(-o.config.Lookback), to
}

// Run performs one full sync. It fails only on errors that make the rest of
// the run pointless: a token exchange failure, a failed member listing, or
// cancellation. Per-file and per-member failures are recorded and the run
// continues.
func (o *Orchestrator) Run(ctx context.Context) (*RunSummary, error) {
	startTime := time.Now()
	runID := logging.GenerateRequestID()
	ctx = logging.WithRequestID(ctx, runID)

	from, to := o.Window()
	summary := &RunSummary{
		RunID: runID,
		From:  from,
		To:    to,
	}
	defer func() {
		summary.Duration = time.Since(startTime)
		if o.metrics != nil {
			o.metrics.ObserveRun(summary.Duration, time.Now())
		}
	}()

	o.logger.InfoWithContext(ctx, "Starting sync run %s for %s to %s",
		runID, from.Format(zoom.DateFormat), to.Format(zoom.DateFormat))

	members, err := o.members.ListAllMembers(ctx)
	if err != nil {
		if o.metrics != nil {
			o.metrics.ObserveEnumerationError("members")
		}
		return summary, fmt.Errorf("failed to list members: %w", err)
	}

	if o.filter != nil && o.filter.Enabled() {
		active := o.filter.FilterMembers(members)
		o.logger.InfoWithContext(ctx, "Allow-list kept %d of %d members", len(active), len(members))
		members = active
	}
	summary.TotalMembers = len(members)

	for _, member := range members {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		memberResult, err := o.SyncMember(ctx, member, from, to)
		summary.MemberResults = append(summary.MemberResults, memberResult)
		summary.TotalDownloaded += memberResult.Downloaded
		summary.TotalArchived += memberResult.Archived
		summary.TotalErrors += memberResult.Errors
		summary.SkippedMeetings += memberResult.SkippedMeetings
		summary.PrunedDirs += memberResult.PrunedDirs
		summary.Records = append(summary.Records, memberResult.Records...)

		if err != nil {
			if isFatal(ctx, err) {
				return summary, err
			}
			summary.FailedMembers++
			o.logger.ErrorWithContext(ctx, "Failed to sync member %s: %v", member.Email, err)
			continue
		}
		summary.ProcessedMembers++
	}

	o.logger.InfoWithContext(ctx, "Completed sync run %s: %d members, %d downloaded, %d archived, %d errors, %d skipped meetings",
		runID, summary.TotalMembers, summary.TotalDownloaded, summary.TotalArchived, summary.TotalErrors, summary.SkippedMeetings)

	return summary, nil
}

// Counts returns the number of files per terminal status
func (s *RunSummary) Counts() map[tracking.Status]int {
	return map[tracking.Status]int{
		tracking.StatusDownloaded: s.TotalDownloaded,
		tracking.StatusArchived:   s.TotalArchived,
		tracking.StatusError:      s.TotalErrors,
	}
}

// SyncMember syncs every session of one member in the window [from, to]
func (o *Orchestrator) SyncMember(ctx context.Context, member zoom.User, from, to time.Time) (*MemberResult, error) {
	startTime := time.Now()
	result := &MemberResult{
		Email:    member.Email,
		MemberID: member.ID,
	}
	defer func() {
		result.Duration = time.Since(startTime)
	}()

	o.logger.InfoWithContext(ctx, "Fetching recordings for member %s", member.Email)

	sessions, err := o.recordings.ListRecordings(ctx, member.ID, from, to)
	if err != nil {
		if o.metrics != nil {
			o.metrics.ObserveEnumerationError("recordings")
		}
		result.Err = fmt.Errorf("failed to list recordings for %s: %w", member.Email, err)
		return result, result.Err
	}

	if len(sessions) == 0 {
		o.logger.InfoWithContext(ctx, "No recordings found for member %s in the window", member.Email)
		return result, nil
	}

	for i := range sessions {
		sessionResult, err := o.SyncSession(ctx, member, sessions[i])
		result.Sessions++
		if sessionResult != nil {
			result.Downloaded += sessionResult.Downloaded
			result.Archived += sessionResult.Archived
			result.Errors += sessionResult.Errors
			result.PrunedDirs += sessionResult.PrunedDirs
			result.Records = append(result.Records, sessionResult.Records...)
			if sessionResult.Skipped {
				result.SkippedMeetings++
			}
		}
		if err != nil {
			result.Err = err
			return result, err
		}
	}

	o.logger.InfoWithContext(ctx, "Completed member %s: %d downloaded, %d archived, %d errors in %v",
		member.Email, result.Downloaded, result.Archived, result.Errors, time.Since(startTime))

	return result, nil
}

// SyncSession applies the per-file decision rule to every file of a session,
// then prunes the session's folders when nothing was downloaded and they are
// empty
func (o *Orchestrator) SyncSession(ctx context.Context, member zoom.User, session zoom.Recording) (*SessionResult, error) {
	result := &SessionResult{
		SessionID: session.UUID,
		Topic:     session.Topic,
	}

	o.logger.DebugWithContext(ctx, "Processing meeting: ID %d, Topic: %s, Start: %s",
		session.ID, session.Topic, session.StartTime.Format(time.RFC3339))

	sp, err := o.planner.SessionDirectory(member.Email, session.StartTime)
	if err != nil {
		return result, fmt.Errorf("failed to plan folders for meeting %d: %w", session.ID, err)
	}
	result.Path = sp

	if len(session.RecordingFiles) == 0 {
		result.Skipped = true
		o.logger.InfoWithContext(ctx, "Meeting %d (%s) has no recording files, skipping", session.ID, session.Topic)
		return result, nil
	}

	if err := o.planner.EnsureDirectory(sp); err != nil {
		return result, err
	}

	var fatal error
	for _, file := range session.RecordingFiles {
		record, err := o.syncFile(ctx, member, session, sp, file)
		result.Records = append(result.Records, record)

		switch record.Status {
		case tracking.StatusDownloaded:
			result.Downloaded++
		case tracking.StatusArchived:
			result.Archived++
		default:
			result.Errors++
		}

		if err != nil && isFatal(ctx, err) {
			fatal = err
			break
		}
	}

	o.removeStalePartials(ctx, sp.DayDirectory)

	if result.Downloaded == 0 {
		pruned, err := o.planner.PruneEmptyMeeting(sp)
		if err != nil {
			o.logger.WarnWithContext(ctx, "Failed to prune folders of meeting %d: %v", session.ID, err)
		}
		if pruned > 0 {
			result.PrunedDirs = pruned
			if o.metrics != nil {
				o.metrics.ObservePruned(pruned)
			}
			o.logger.DebugWithContext(ctx, "Removed %d empty folders for meeting %d", pruned, session.ID)
		}
	}

	return result, fatal
}

// syncFile resolves one file to archived, downloaded or error
func (o *Orchestrator) syncFile(ctx context.Context, member zoom.User, session zoom.Recording, sp directory.SessionPath, file zoom.RecordingFile) (tracking.DownloadRecord, error) {
	name := o.planner.FileName(session, file)
	target := sp.FilePath(name)
	caption := o.isCaption(file.Extension())

	record := tracking.DownloadRecord{
		User:        member.Email,
		FileName:    name,
		RecordingID: file.ID,
		DateTime:    file.RecordingStart,
		Size:        file.FileSize,
	}
	if record.DateTime.IsZero() {
		record.DateTime = session.StartTime
	}

	status, err := o.resolve(ctx, target, file, caption)
	record.Status = status
	record.Err = err

	switch status {
	case tracking.StatusArchived:
		o.logger.DebugWithContext(ctx, "  Already archived: %s", name)
	case tracking.StatusDownloaded:
		o.logger.InfoWithContext(ctx, "  Downloaded: %s", target)
	default:
		o.logger.ErrorWithContext(ctx, "  Failed: %s: %v", name, err)
	}

	o.emit(ctx, record)
	return record, err
}

func (o *Orchestrator) resolve(ctx context.Context, target string, file zoom.RecordingFile, caption bool) (tracking.Status, error) {
	info, err := os.Stat(target)
	switch {
	case err == nil && info.Mode().IsRegular():
		if caption || info.Size() == file.FileSize {
			return tracking.StatusArchived, nil
		}
		o.logger.WarnWithContext(ctx, "  Size mismatch for %s: local %d bytes, declared %d; replacing",
			target, info.Size(), file.FileSize)
		if err := os.Remove(target); err != nil {
			return tracking.StatusError, fmt.Errorf("failed to remove mismatched file: %w", err)
		}
	case err == nil:
		return tracking.StatusError, fmt.Errorf("target %s exists and is not a regular file", target)
	case !errors.Is(err, fs.ErrNotExist):
		return tracking.StatusError, fmt.Errorf("failed to stat target: %w", err)
	}

	_, err = o.downloads.Download(ctx, download.DownloadRequest{
		ID:           file.ID,
		URL:          file.DownloadURL,
		Destination:  target,
		ExpectedSize: file.FileSize,
		ValidateSize: !caption,
	})
	if err != nil {
		return tracking.StatusError, err
	}
	return tracking.StatusDownloaded, nil
}

// removeStalePartials deletes leftovers of interrupted downloads in dir.
// Files are fetched one at a time, so none of them is still being written.
func (o *Orchestrator) removeStalePartials(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			o.logger.WarnWithContext(ctx, "Failed to scan %s for partial downloads: %v", dir, err)
		}
		return
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), download.PartialSuffix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			o.logger.WarnWithContext(ctx, "Failed to remove partial download %s: %v", path, err)
			continue
		}
		o.logger.DebugWithContext(ctx, "Removed stale partial download %s", path)
	}
}

func (o *Orchestrator) emit(ctx context.Context, record tracking.DownloadRecord) {
	if o.metrics != nil {
		o.metrics.ObserveFile(string(record.Status))
	}
	if o.tracker != nil {
		if err := o.tracker.TrackRecord(record); err != nil {
			o.logger.WarnWithContext(ctx, "Failed to write report row for %s: %v", record.FileName, err)
		}
	}
}

func (o *Orchestrator) isCaption(ext string) bool {
	return o.captions[strings.ToLower(ext)]
}

// List enumerates members and their sessions in the run window without
// touching the local tree. A failed member listing stops the inventory;
// per-member failures are reported on the listing.
func (o *Orchestrator) List(ctx context.Context) ([]MemberListing, error) {
	from, to := o.Window()

	members, err := o.members.ListAllMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	if o.filter != nil && o.filter.Enabled() {
		members = o.filter.FilterMembers(members)
	}

	listings := make([]MemberListing, 0, len(members))
	for _, member := range members {
		recordings, err := o.recordings.ListRecordings(ctx, member.ID, from, to)
		if err != nil && isFatal(ctx, err) {
			return listings, err
		}
		listings = append(listings, MemberListing{Member: member, Recordings: recordings, Err: err})
	}
	return listings, nil
}

// isFatal reports whether err must end the run
func isFatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return zoom.IsAuthError(err)
}
