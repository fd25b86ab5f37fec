// Package tracking records the outcome of every recording file in a sync run
package tracking

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status is the terminal state of one recording file
type Status string

const (
	StatusArchived   Status = "archived"   // Already present and verified
	StatusDownloaded Status = "downloaded" // Fetched during this run
	StatusError      Status = "error"      // Fetch failed after all attempts
)

// DownloadRecord is the per-file report entry of a run
type DownloadRecord struct {
	User        string
	FileName    string
	RecordingID string
	DateTime    time.Time // Recording start of the file
	Status      Status
	Size        int64
	Err         error
}

// CSVHeader is the column layout of report files
var CSVHeader = []string{"user", "file_name", "recording_id", "date_time", "status"}

// CSVTracker defines the interface for tracking records to CSV files
type CSVTracker interface {
	// TrackRecord appends one record to the CSV file
	TrackRecord(record DownloadRecord) error
}

// CSVReporter appends records to a report file shared across runs
type CSVReporter struct {
	filePath string
	mu       sync.Mutex
}

// NewCSVReporter creates a reporter, writing the header when the file does not exist yet
func NewCSVReporter(filePath string) (*CSVReporter, error) {
	reporter := &CSVReporter{
		filePath: filePath,
	}

	_, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		if err := reporter.writeHeader(); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to check file: %w", err)
	}

	return reporter, nil
}

// FilePath returns the report location
func (r *CSVReporter) FilePath() string {
	return r.filePath
}

// TrackRecord appends one record
func (r *CSVReporter) TrackRecord(record DownloadRecord) error {
	return r.WriteRecords([]DownloadRecord{record})
}

// WriteRecords appends records in order
func (r *CSVReporter) WriteRecords(records []DownloadRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.OpenFile(r.filePath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file for append: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	for _, record := range records {
		if err := writer.Write(toRow(record)); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	writer.Flush()

	return writer.Error()
}

func (r *CSVReporter) writeHeader() error {
	file, err := os.Create(r.filePath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(CSVHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	writer.Flush()

	return writer.Error()
}

func toRow(record DownloadRecord) []string {
	dateTime := ""
	if !record.DateTime.IsZero() {
		dateTime = record.DateTime.UTC().Format(time.RFC3339)
	}
	return []string{
		record.User,
		record.FileName,
		record.RecordingID,
		dateTime,
		string(record.Status),
	}
}
