package processor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/curtbushko/zoom-mirror/internal/directory"
	"github.com/curtbushko/zoom-mirror/internal/download"
	"github.com/curtbushko/zoom-mirror/internal/tracking"
	"github.com/curtbushko/zoom-mirror/internal/users"
	"github.com/curtbushko/zoom-mirror/internal/zoom"
)

var testNow = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	members       []zoom.User
	membersErr    error
	recordings    map[string][]zoom.Recording
	recordingErrs map[string]error

	calls    []string
	lastFrom time.Time
	lastTo   time.Time
}

func (f *fakeSource) ListAllMembers(ctx context.Context) ([]zoom.User, error) {
	if f.membersErr != nil {
		return nil, f.membersErr
	}
	return f.members, nil
}

func (f *fakeSource) ListRecordings(ctx context.Context, memberID string, from, to time.Time) ([]zoom.Recording, error) {
	f.calls = append(f.calls, memberID)
	f.lastFrom, f.lastTo = from, to
	if err := f.recordingErrs[memberID]; err != nil {
		return nil, err
	}
	return f.recordings[memberID], nil
}

// fileServer serves fixed bodies by path and counts requests
type fileServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies map[string]string
	status map[string]int
	hits   map[string]int
}

func newFileServer(t *testing.T) *fileServer {
	fs := &fileServer{
		bodies: make(map[string]string),
		status: make(map[string]int),
		hits:   make(map[string]int),
	}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.hits[r.URL.Path]++
		body, status := fs.bodies[r.URL.Path], fs.status[r.URL.Path]
		fs.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fileServer) totalHits() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	total := 0
	for _, n := range fs.hits {
		total += n
	}
	return total
}

type fakeMetrics struct {
	files      map[string]int
	pruned     int
	enumErrors map[string]int
	runs       int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{files: make(map[string]int), enumErrors: make(map[string]int)}
}

func (m *fakeMetrics) ObserveFile(status string)               { m.files[status]++ }
func (m *fakeMetrics) ObservePruned(n int)                     { m.pruned += n }
func (m *fakeMetrics) ObserveEnumerationError(scope string)    { m.enumErrors[scope]++ }
func (m *fakeMetrics) ObserveRun(d time.Duration, f time.Time) { m.runs++ }

type fakeAuth struct {
	err error
}

func (f *fakeAuth) GetAccessToken(ctx context.Context) (*zoom.AccessToken, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &zoom.AccessToken{AccessToken: "tok"}, nil
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newTestOrchestrator(t *testing.T, root string, source *fakeSource, auth zoom.Authenticator, opts ...Option) *Orchestrator {
	t.Helper()
	planner, err := directory.NewPathPlanner(directory.PlannerConfig{BaseDirectory: root}, nil)
	if err != nil {
		t.Fatalf("NewPathPlanner() error = %v", err)
	}
	downloads := download.NewDownloadManager(download.DownloadConfig{RetryAttempts: 2}, auth, download.WithSleep(noSleep))

	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewOrchestrator(source, source, downloads, planner, OrchestratorConfig{
		Lookback:          32 * 24 * time.Hour,
		CaptionExtensions: []string{"vtt"},
	}, opts...)
}

func weeklySync(serverURL string) zoom.Recording {
	start := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	return zoom.Recording{
		UUID:      "sess-1",
		ID:        111,
		Topic:     "Weekly Sync #1",
		StartTime: start,
		RecordingFiles: []zoom.RecordingFile{
			{
				ID:             "abc123",
				RecordingStart: start,
				RecordingType:  "shared_screen",
				FileType:       "MP4",
				FileExtension:  "MP4",
				FileSize:       1000000,
				DownloadURL:    serverURL + "/abc123",
			},
			{
				ID:             "abc124",
				RecordingStart: start,
				RecordingType:  "closed_caption",
				FileType:       "CC",
				FileExtension:  "VTT",
				FileSize:       4096,
				DownloadURL:    serverURL + "/abc124",
			},
		},
	}
}

func dayDir(root string) string {
	return filepath.Join(root, "alice@example.com", "2024_03_Marzo", "05-03-2024_Martes")
}

func statusesByID(records []tracking.DownloadRecord) map[string]tracking.Status {
	statuses := make(map[string]tracking.Status, len(records))
	for _, record := range records {
		statuses[record.RecordingID] = record.Status
	}
	return statuses
}

func TestRunDownloadsThenArchives(t *testing.T) {
	server := newFileServer(t)
	server.bodies["/abc123"] = strings.Repeat("v", 1000000)
	server.bodies["/abc124"] = "WEBVTT\n\n00:00.000 --> 00:01.000\nhola\n"

	source := &fakeSource{
		members:    []zoom.User{{ID: "u1", Email: "alice@example.com"}},
		recordings: map[string][]zoom.Recording{"u1": {weeklySync(server.URL)}},
	}
	root := t.TempDir()
	metrics := newFakeMetrics()
	orchestrator := newTestOrchestrator(t, root, source, &fakeAuth{}, WithMetrics(metrics))

	first, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if first.TotalDownloaded != 2 || first.TotalArchived != 0 || first.TotalErrors != 0 {
		t.Errorf("first run counts = %v", first.Counts())
	}
	if first.RunID == "" {
		t.Error("Expected a run id")
	}

	videoPath := filepath.Join(dayDir(root), "Weekly Sync 1 shared_screen abc123.mp4")
	captionPath := filepath.Join(dayDir(root), "Weekly Sync 1 closed_caption abc124.vtt")
	if info, err := os.Stat(videoPath); err != nil || info.Size() != 1000000 {
		t.Errorf("Expected video at %s with 1000000 bytes, stat error %v", videoPath, err)
	}
	if _, err := os.Stat(captionPath); err != nil {
		t.Errorf("Expected caption at %s: %v", captionPath, err)
	}

	second, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if second.TotalDownloaded != 0 || second.TotalArchived != 2 {
		t.Errorf("second run counts = %v", second.Counts())
	}
	if got := server.totalHits(); got != 2 {
		t.Errorf("server hits = %d, want 2 across both runs", got)
	}

	statuses := statusesByID(second.Records)
	if statuses["abc123"] != tracking.StatusArchived || statuses["abc124"] != tracking.StatusArchived {
		t.Errorf("second run statuses = %v", statuses)
	}
	if metrics.files["downloaded"] != 2 || metrics.files["archived"] != 2 || metrics.runs != 2 {
		t.Errorf("Unexpected metrics: %+v", metrics)
	}
}

func TestRunUsesLookbackWindow(t *testing.T) {
	source := &fakeSource{members: []zoom.User{{ID: "u1", Email: "alice@example.com"}}}
	orchestrator := newTestOrchestrator(t, t.TempDir(), source, &fakeAuth{})

	summary, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !source.lastTo.Equal(testNow) {
		t.Errorf("to = %v, want %v", source.lastTo, testNow)
	}
	if want := testNow.AddDate(0, 0, -32); !source.lastFrom.Equal(want) {
		t.Errorf("from = %v, want %v", source.lastFrom, want)
	}
	if !summary.From.Equal(source.lastFrom) || !summary.To.Equal(source.lastTo) {
		t.Error("Summary window does not match the requested window")
	}
}

func TestSizeMismatchIsReplaced(t *testing.T) {
	server := newFileServer(t)
	server.bodies["/abc123"] = strings.Repeat("v", 1000000)
	server.bodies["/abc124"] = "WEBVTT\n"

	root := t.TempDir()
	videoPath := filepath.Join(dayDir(root), "Weekly Sync 1 shared_screen abc123.mp4")
	captionPath := filepath.Join(dayDir(root), "Weekly Sync 1 closed_caption abc124.vtt")
	if err := os.MkdirAll(dayDir(root), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(videoPath, []byte("truncated"), 0644); err != nil {
		t.Fatal(err)
	}
	// Caption sizes are unreliable, so presence alone archives it
	if err := os.WriteFile(captionPath, []byte("short"), 0644); err != nil {
		t.Fatal(err)
	}

	source := &fakeSource{
		members:    []zoom.User{{ID: "u1", Email: "alice@example.com"}},
		recordings: map[string][]zoom.Recording{"u1": {weeklySync(server.URL)}},
	}
	orchestrator := newTestOrchestrator(t, root, source, &fakeAuth{})

	summary, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	statuses := statusesByID(summary.Records)
	if statuses["abc123"] != tracking.StatusDownloaded {
		t.Errorf("video status = %s, want downloaded", statuses["abc123"])
	}
	if statuses["abc124"] != tracking.StatusArchived {
		t.Errorf("caption status = %s, want archived", statuses["abc124"])
	}
	if info, err := os.Stat(videoPath); err != nil || info.Size() != 1000000 {
		t.Errorf("Expected replaced video with 1000000 bytes, stat error %v", err)
	}
	if server.hits["/abc124"] != 0 {
		t.Error("Caption must not be fetched again")
	}
}

func TestSizeMismatchExhaustedLeavesNoFile(t *testing.T) {
	server := newFileServer(t)
	server.bodies["/abc123"] = "still too short"

	root := t.TempDir()
	videoPath := filepath.Join(dayDir(root), "Weekly Sync 1 shared_screen abc123.mp4")
	if err := os.MkdirAll(dayDir(root), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(videoPath, []byte("truncated"), 0644); err != nil {
		t.Fatal(err)
	}

	session := weeklySync(server.URL)
	session.RecordingFiles = session.RecordingFiles[:1]
	source := &fakeSource{
		members:    []zoom.User{{ID: "u1", Email: "alice@example.com"}},
		recordings: map[string][]zoom.Recording{"u1": {session}},
	}
	orchestrator := newTestOrchestrator(t, root, source, &fakeAuth{})

	summary, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.TotalErrors != 1 {
		t.Errorf("TotalErrors = %d, want 1", summary.TotalErrors)
	}
	if !download.IsSizeMismatch(summary.Records[0].Err) {
		t.Errorf("Expected size mismatch error, got %v", summary.Records[0].Err)
	}
	if _, err := os.Stat(videoPath); !os.IsNotExist(err) {
		t.Error("Expected no file left after exhausted retries")
	}
	if server.hits["/abc123"] != 2 {
		t.Errorf("attempts = %d, want 2", server.hits["/abc123"])
	}
}

func TestFailedMeetingIsPruned(t *testing.T) {
	server := newFileServer(t)
	server.status["/abc123"] = http.StatusInternalServerError
	server.status["/abc124"] = http.StatusInternalServerError

	source := &fakeSource{
		members:    []zoom.User{{ID: "u1", Email: "alice@example.com"}},
		recordings: map[string][]zoom.Recording{"u1": {weeklySync(server.URL)}},
	}
	root := t.TempDir()
	metrics := newFakeMetrics()
	orchestrator := newTestOrchestrator(t, root, source, &fakeAuth{}, WithMetrics(metrics))

	summary, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.TotalErrors != 2 {
		t.Errorf("TotalErrors = %d, want 2", summary.TotalErrors)
	}
	if summary.PrunedDirs != 2 || metrics.pruned != 2 {
		t.Errorf("PrunedDirs = %d, metrics pruned = %d, want 2", summary.PrunedDirs, metrics.pruned)
	}
	if _, err := os.Stat(dayDir(root)); !os.IsNotExist(err) {
		t.Error("Expected empty day folder to be removed")
	}
	if _, err := os.Stat(filepath.Dir(dayDir(root))); !os.IsNotExist(err) {
		t.Error("Expected empty month folder to be removed")
	}
	if summary.ProcessedMembers != 1 {
		t.Error("File errors must not fail the member")
	}
}

func TestPartialMeetingKeepsFolder(t *testing.T) {
	server := newFileServer(t)
	server.bodies["/abc123"] = strings.Repeat("v", 1000000)
	server.status["/abc124"] = http.StatusNotFound

	source := &fakeSource{
		members:    []zoom.User{{ID: "u1", Email: "alice@example.com"}},
		recordings: map[string][]zoom.Recording{"u1": {weeklySync(server.URL)}},
	}
	root := t.TempDir()
	orchestrator := newTestOrchestrator(t, root, source, &fakeAuth{})

	summary, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	statuses := statusesByID(summary.Records)
	if statuses["abc123"] != tracking.StatusDownloaded || statuses["abc124"] != tracking.StatusError {
		t.Errorf("statuses = %v", statuses)
	}
	if summary.PrunedDirs != 0 {
		t.Errorf("PrunedDirs = %d, want 0", summary.PrunedDirs)
	}
	if _, err := os.Stat(dayDir(root)); err != nil {
		t.Errorf("Expected day folder to remain: %v", err)
	}
}

func TestEmptySessionIsSkipped(t *testing.T) {
	source := &fakeSource{
		members: []zoom.User{{ID: "u1", Email: "alice@example.com"}},
		recordings: map[string][]zoom.Recording{"u1": {{
			UUID:      "empty",
			Topic:     "Nothing recorded",
			StartTime: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
		}}},
	}
	root := t.TempDir()
	orchestrator := newTestOrchestrator(t, root, source, &fakeAuth{})

	summary, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.SkippedMeetings != 1 {
		t.Errorf("SkippedMeetings = %d, want 1", summary.SkippedMeetings)
	}
	if _, err := os.Stat(filepath.Join(root, "alice@example.com")); !os.IsNotExist(err) {
		t.Error("No folders should be created for an empty session")
	}
}

func TestMissingDownloadURL(t *testing.T) {
	server := newFileServer(t)
	session := weeklySync(server.URL)
	session.RecordingFiles = session.RecordingFiles[:1]
	session.RecordingFiles[0].DownloadURL = ""

	source := &fakeSource{
		members:    []zoom.User{{ID: "u1", Email: "alice@example.com"}},
		recordings: map[string][]zoom.Recording{"u1": {session}},
	}
	orchestrator := newTestOrchestrator(t, t.TempDir(), source, &fakeAuth{})

	summary, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.TotalErrors != 1 || !errors.Is(summary.Records[0].Err, download.ErrMissingURL) {
		t.Errorf("Expected one missing URL error, got %+v", summary.Records)
	}
	if server.totalHits() != 0 {
		t.Error("No request expected for a file without URL")
	}
}

func TestAuthErrorIsFatal(t *testing.T) {
	server := newFileServer(t)
	server.bodies["/abc123"] = "x"

	source := &fakeSource{
		members: []zoom.User{
			{ID: "u1", Email: "alice@example.com"},
			{ID: "u2", Email: "bob@example.com"},
		},
		recordings: map[string][]zoom.Recording{
			"u1": {weeklySync(server.URL)},
			"u2": {weeklySync(server.URL)},
		},
	}
	auth := &fakeAuth{err: &zoom.AuthError{Type: "http_error", Reason: "invalid_client"}}
	orchestrator := newTestOrchestrator(t, t.TempDir(), source, auth)

	summary, err := orchestrator.Run(context.Background())
	if !zoom.IsAuthError(err) {
		t.Fatalf("Expected AuthError, got %v", err)
	}
	if len(source.calls) != 1 {
		t.Errorf("Expected the run to stop at the first member, listed %v", source.calls)
	}
	if len(summary.Records) != 1 {
		t.Errorf("Expected processing to stop after the first file, got %d records", len(summary.Records))
	}
	if server.totalHits() != 0 {
		t.Error("No download expected without a token")
	}
}

func TestMemberRecordingErrorContinues(t *testing.T) {
	server := newFileServer(t)
	server.bodies["/abc123"] = strings.Repeat("v", 1000000)
	server.bodies["/abc124"] = "WEBVTT\n"

	bobSession := weeklySync(server.URL)
	source := &fakeSource{
		members: []zoom.User{
			{ID: "u1", Email: "alice@example.com"},
			{ID: "u2", Email: "bob@example.com"},
		},
		recordings:    map[string][]zoom.Recording{"u2": {bobSession}},
		recordingErrs: map[string]error{"u1": &zoom.EnumerationError{Scope: "u1", Page: 1, Err: &zoom.APIError{StatusCode: 404}}},
	}
	metrics := newFakeMetrics()
	root := t.TempDir()
	orchestrator := newTestOrchestrator(t, root, source, &fakeAuth{}, WithMetrics(metrics))

	summary, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.FailedMembers != 1 || summary.ProcessedMembers != 1 {
		t.Errorf("FailedMembers = %d, ProcessedMembers = %d", summary.FailedMembers, summary.ProcessedMembers)
	}
	if summary.TotalDownloaded != 2 {
		t.Errorf("TotalDownloaded = %d, want 2", summary.TotalDownloaded)
	}
	if metrics.enumErrors["recordings"] != 1 {
		t.Errorf("enumeration errors = %v", metrics.enumErrors)
	}

	var enumErr *zoom.EnumerationError
	if !errors.As(summary.MemberResults[0].Err, &enumErr) {
		t.Errorf("Expected EnumerationError on the first member, got %v", summary.MemberResults[0].Err)
	}
	if _, err := os.Stat(filepath.Join(root, "bob@example.com", "2024_03_Marzo", "05-03-2024_Martes")); err != nil {
		t.Errorf("Expected bob's folder: %v", err)
	}
}

func TestMemberListingErrorIsFatal(t *testing.T) {
	source := &fakeSource{membersErr: &zoom.EnumerationError{Scope: "members", Page: 2, Err: &zoom.APIError{StatusCode: 500}}}
	metrics := newFakeMetrics()
	orchestrator := newTestOrchestrator(t, t.TempDir(), source, &fakeAuth{}, WithMetrics(metrics))

	_, err := orchestrator.Run(context.Background())
	var enumErr *zoom.EnumerationError
	if !errors.As(err, &enumErr) || enumErr.Scope != "members" {
		t.Fatalf("Expected members EnumerationError, got %v", err)
	}
	if metrics.enumErrors["members"] != 1 {
		t.Errorf("enumeration errors = %v", metrics.enumErrors)
	}
}

func TestRunRespectsAllowList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active.txt")
	if err := os.WriteFile(path, []byte("Bob@Example.com\n"), 0644); err != nil {
		t.Fatal(err)
	}
	filter, err := users.NewActiveUserManager(users.ActiveUserConfig{FilePath: path})
	if err != nil {
		t.Fatalf("NewActiveUserManager() error = %v", err)
	}
	defer filter.Close()

	source := &fakeSource{members: []zoom.User{
		{ID: "u1", Email: "alice@example.com"},
		{ID: "u2", Email: "bob@example.com"},
	}}
	orchestrator := newTestOrchestrator(t, t.TempDir(), source, &fakeAuth{}, WithUserFilter(filter))

	summary, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.TotalMembers != 1 || len(source.calls) != 1 || source.calls[0] != "u2" {
		t.Errorf("Expected only bob, listed %v", source.calls)
	}
}

func TestRunWritesReport(t *testing.T) {
	server := newFileServer(t)
	server.bodies["/abc123"] = strings.Repeat("v", 1000000)
	server.bodies["/abc124"] = "WEBVTT\n"

	reportPath := filepath.Join(t.TempDir(), "report.csv")
	reporter, err := tracking.NewCSVReporter(reportPath)
	if err != nil {
		t.Fatalf("NewCSVReporter() error = %v", err)
	}

	source := &fakeSource{
		members:    []zoom.User{{ID: "u1", Email: "alice@example.com"}},
		recordings: map[string][]zoom.Recording{"u1": {weeklySync(server.URL)}},
	}
	orchestrator := newTestOrchestrator(t, t.TempDir(), source, &fakeAuth{}, WithTracker(reporter))

	if _, err := orchestrator.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header and 2 rows, got %q", data)
	}
	if lines[1] != "alice@example.com,Weekly Sync 1 shared_screen abc123.mp4,abc123,2024-03-05T10:00:00Z,downloaded" {
		t.Errorf("Unexpected row %q", lines[1])
	}
}

func TestRunCanceled(t *testing.T) {
	source := &fakeSource{members: []zoom.User{{ID: "u1", Email: "alice@example.com"}}}
	orchestrator := newTestOrchestrator(t, t.TempDir(), source, &fakeAuth{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := orchestrator.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(source.calls) != 0 {
		t.Error("No member should be processed after cancellation")
	}
}

func TestList(t *testing.T) {
	source := &fakeSource{
		members: []zoom.User{
			{ID: "u1", Email: "alice@example.com"},
			{ID: "u2", Email: "bob@example.com"},
		},
		recordings:    map[string][]zoom.Recording{"u1": {weeklySync("http://unused")}},
		recordingErrs: map[string]error{"u2": &zoom.EnumerationError{Scope: "u2", Page: 1, Err: errors.New("boom")}},
	}
	root := t.TempDir()
	orchestrator := newTestOrchestrator(t, root, source, &fakeAuth{})

	listings, err := orchestrator.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("Expected 2 listings, got %d", len(listings))
	}
	if len(listings[0].Recordings) != 1 || listings[0].Err != nil {
		t.Errorf("Unexpected first listing: %+v", listings[0])
	}
	if listings[1].Err == nil {
		t.Error("Expected error on the second listing")
	}

	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Error("List must not touch the local tree")
	}
}

func TestMemberAddressOutsideStrictSyntax(t *testing.T) {
	server := newFileServer(t)
	server.bodies["/abc123"] = strings.Repeat("v", 1000000)
	server.bodies["/abc124"] = "WEBVTT\n"

	members := []zoom.User{
		{ID: "u1", Email: "o'brien@example.com"},
		{ID: "u2", Email: "José.Núñez@Ejemplo.es"},
	}
	source := &fakeSource{
		members: members,
		recordings: map[string][]zoom.Recording{
			"u1": {weeklySync(server.URL)},
			"u2": {weeklySync(server.URL)},
		},
	}
	root := t.TempDir()
	orchestrator := newTestOrchestrator(t, root, source, &fakeAuth{})

	summary, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.FailedMembers != 0 || summary.ProcessedMembers != 2 {
		t.Errorf("FailedMembers = %d, ProcessedMembers = %d", summary.FailedMembers, summary.ProcessedMembers)
	}
	if summary.TotalDownloaded != 4 {
		t.Errorf("TotalDownloaded = %d, want 4", summary.TotalDownloaded)
	}

	for _, member := range members {
		video := filepath.Join(root, member.Email, "2024_03_Marzo", "05-03-2024_Martes", "Weekly Sync 1 shared_screen abc123.mp4")
		if _, err := os.Stat(video); err != nil {
			t.Errorf("Expected %s: %v", video, err)
		}
	}
}

func TestStalePartialDoesNotBlockPruning(t *testing.T) {
	server := newFileServer(t)
	server.status["/abc123"] = http.StatusInternalServerError
	server.status["/abc124"] = http.StatusInternalServerError

	root := t.TempDir()
	if err := os.MkdirAll(dayDir(root), 0755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(dayDir(root), "Weekly Sync 1 shared_screen abc123.mp4"+download.PartialSuffix)
	if err := os.WriteFile(stale, []byte("left by a crashed run"), 0644); err != nil {
		t.Fatal(err)
	}

	source := &fakeSource{
		members:    []zoom.User{{ID: "u1", Email: "alice@example.com"}},
		recordings: map[string][]zoom.Recording{"u1": {weeklySync(server.URL)}},
	}
	orchestrator := newTestOrchestrator(t, root, source, &fakeAuth{})

	summary, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.PrunedDirs != 2 {
		t.Errorf("PrunedDirs = %d, want 2", summary.PrunedDirs)
	}
	if _, err := os.Stat(dayDir(root)); !os.IsNotExist(err) {
		t.Error("Expected day folder with only a stale partial to be removed")
	}
}

func TestStalePartialRemovedAfterSuccess(t *testing.T) {
	server := newFileServer(t)
	server.bodies["/abc123"] = strings.Repeat("v", 1000000)
	server.bodies["/abc124"] = "WEBVTT\n"

	root := t.TempDir()
	if err := os.MkdirAll(dayDir(root), 0755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(dayDir(root), "Old topic shared_screen zzz.mp4"+download.PartialSuffix)
	if err := os.WriteFile(stale, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	source := &fakeSource{
		members:    []zoom.User{{ID: "u1", Email: "alice@example.com"}},
		recordings: map[string][]zoom.Recording{"u1": {weeklySync(server.URL)}},
	}
	orchestrator := newTestOrchestrator(t, root, source, &fakeAuth{})

	if _, err := orchestrator.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("Expected stale partial to be removed")
	}
	entries, err := os.ReadDir(dayDir(root))
	if err != nil || len(entries) != 2 {
		t.Errorf("Expected exactly the two downloaded files, got %d entries (%v)", len(entries), err)
	}
}
