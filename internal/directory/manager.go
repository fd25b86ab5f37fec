// Package directory derives the local folder tree for recordings and removes
// scaffolding left empty by meetings that produced no files
package directory

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/curtbushko/zoom-mirror/internal/email"
	"github.com/curtbushko/zoom-mirror/internal/filename"
	"github.com/curtbushko/zoom-mirror/internal/zoom"
)

// Folder names are fixed tables so the tree does not depend on host locale
var monthNames = [12]string{
	"Enero", "Febrero", "Marzo", "Abril", "Mayo", "Junio",
	"Julio", "Agosto", "Septiembre", "Octubre", "Noviembre", "Diciembre",
}

// Sunday first, matching time.Weekday
var weekdayNames = [7]string{
	"Domingo", "Lunes", "Martes", "Miércoles", "Jueves", "Viernes", "Sábado",
}

// MonthFolder returns "<YYYY>_<MM>_<month name>" for t in its own location
func MonthFolder(t time.Time) string {
	return fmt.Sprintf("%04d_%02d_%s", t.Year(), int(t.Month()), monthNames[t.Month()-1])
}

// DayFolder returns "<DD>-<MM>-<YYYY>_<weekday name>" for t in its own location
func DayFolder(t time.Time) string {
	return fmt.Sprintf("%02d-%02d-%04d_%s", t.Day(), int(t.Month()), t.Year(), weekdayNames[t.Weekday()])
}

// PlannerConfig holds configuration for the path planner
type PlannerConfig struct {
	BaseDirectory string         // Root of the mirrored tree
	Location      *time.Location // Zone used to derive folder dates (default UTC)
}

// SessionPath holds the directories of one recording session
type SessionPath struct {
	MemberDirectory string // <base>/<email>
	MonthDirectory  string // <base>/<email>/<month folder>
	DayDirectory    string // <base>/<email>/<month folder>/<day folder>
	RelativePath    string // Day directory relative to the base directory
}

// FilePath joins a file name onto the session's day directory
func (sp SessionPath) FilePath(name string) string {
	return filepath.Join(sp.DayDirectory, name)
}

// DirectoryStats provides statistics about directory operations
type DirectoryStats struct {
	DirectoriesCreated int
	DirectoriesPruned  int
	LastCreated        time.Time
}

// PathPlanner maps members, sessions and files to local paths
type PathPlanner struct {
	baseDirectory string
	location      *time.Location
	sanitizer     filename.FileSanitizer
	stats         DirectoryStats
}

// NewPathPlanner creates a planner rooted at cfg.BaseDirectory
func NewPathPlanner(cfg PlannerConfig, sanitizer filename.FileSanitizer) (*PathPlanner, error) {
	if cfg.BaseDirectory == "" {
		return nil, fmt.Errorf("base directory cannot be empty")
	}
	if sanitizer == nil {
		sanitizer = filename.NewFileSanitizer(filename.FileSanitizerOptions{})
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}

	return &PathPlanner{
		baseDirectory: cfg.BaseDirectory,
		location:      location,
		sanitizer:     sanitizer,
	}, nil
}

// SessionDirectory derives the folders for a session owned by memberEmail
// that started at start
func (p *PathPlanner) SessionDirectory(memberEmail string, start time.Time) (SessionPath, error) {
	memberDir, err := email.FolderName(memberEmail)
	if err != nil {
		return SessionPath{}, err
	}

	local := start.In(p.location)
	relativeMember := memberDir
	relativeMonth := filepath.Join(relativeMember, MonthFolder(local))
	relativeDay := filepath.Join(relativeMonth, DayFolder(local))

	return SessionPath{
		MemberDirectory: filepath.Join(p.baseDirectory, relativeMember),
		MonthDirectory:  filepath.Join(p.baseDirectory, relativeMonth),
		DayDirectory:    filepath.Join(p.baseDirectory, relativeDay),
		RelativePath:    relativeDay,
	}, nil
}

// FileName returns the sanitized name of one file of a session
func (p *PathPlanner) FileName(session zoom.Recording, file zoom.RecordingFile) string {
	return p.sanitizer.GenerateFilename(session.Topic, file)
}

// Plan returns the full target path of one file of a session
func (p *PathPlanner) Plan(memberEmail string, session zoom.Recording, file zoom.RecordingFile) (string, error) {
	sp, err := p.SessionDirectory(memberEmail, session.StartTime)
	if err != nil {
		return "", err
	}
	return sp.FilePath(p.FileName(session, file)), nil
}

// EnsureDirectory creates the session's day directory and its parents
func (p *PathPlanner) EnsureDirectory(sp SessionPath) error {
	if _, err := os.Stat(sp.DayDirectory); err == nil {
		return nil
	}
	if err := os.MkdirAll(sp.DayDirectory, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", sp.DayDirectory, err)
	}
	p.stats.DirectoriesCreated++
	p.stats.LastCreated = time.Now()
	return nil
}

// PruneEmptyMeeting removes the day directory when it is empty, then the
// month directory when that leaves it empty. It returns how many directories
// were removed. Missing directories are not an error.
func (p *PathPlanner) PruneEmptyMeeting(sp SessionPath) (int, error) {
	removed, err := PruneEmptyMeeting(sp)
	p.stats.DirectoriesPruned += removed
	return removed, err
}

// GetStats returns statistics about directory operations
func (p *PathPlanner) GetStats() DirectoryStats {
	return p.stats
}

// PruneEmptyMeeting is the planner-independent form of PathPlanner.PruneEmptyMeeting
func PruneEmptyMeeting(sp SessionPath) (int, error) {
	removed := 0

	ok, err := removeIfEmpty(sp.DayDirectory)
	if err != nil || !ok {
		return removed, err
	}
	removed++

	ok, err = removeIfEmpty(sp.MonthDirectory)
	if err != nil {
		return removed, err
	}
	if ok {
		removed++
	}
	return removed, nil
}

func removeIfEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	if len(entries) > 0 {
		return false, nil
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to remove directory %s: %w", dir, err)
	}
	return true, nil
}
