// Package zoom defines data structures for the Zoom users and cloud recording APIs
package zoom

import (
	"strings"
	"time"
)

// User represents an account member as returned by the list users endpoint
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Type      int    `json:"type"`
	Status    string `json:"status,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
	Dept      string `json:"dept,omitempty"`
	RoleID    string `json:"role_id,omitempty"`
}

// ListUsersResponse represents one page of the list users endpoint
type ListUsersResponse struct {
	PageCount     int    `json:"page_count"`
	PageSize      int    `json:"page_size"`
	TotalRecords  int    `json:"total_records"`
	NextPageToken string `json:"next_page_token,omitempty"`
	Users         []User `json:"users"`
}

// RecordingFile represents a single recording file within a meeting recording
type RecordingFile struct {
	ID             string    `json:"id"`
	MeetingID      string    `json:"meeting_id"`
	RecordingStart time.Time `json:"recording_start"`
	RecordingEnd   time.Time `json:"recording_end"`
	FileType       string    `json:"file_type"`
	FileExtension  string    `json:"file_extension,omitempty"`
	FileSize       int64     `json:"file_size"`
	DownloadURL    string    `json:"download_url"`
	PlayURL        string    `json:"play_url,omitempty"`
	Status         string    `json:"status"`
	RecordingType  string    `json:"recording_type,omitempty"`
}

// Extension returns the lowercase file extension, defaulting to mp4 when the
// provider omits it
func (f RecordingFile) Extension() string {
	ext := strings.ToLower(strings.TrimPrefix(f.FileExtension, "."))
	if ext == "" {
		return "mp4"
	}
	return ext
}

// Kind returns the recording type tag used in file names, falling back to the
// file type when recording_type is absent
func (f RecordingFile) Kind() string {
	if f.RecordingType != "" {
		return f.RecordingType
	}
	if f.FileType != "" {
		return strings.ToLower(f.FileType)
	}
	return "recording"
}

// Recording represents a meeting recording session with all associated files
type Recording struct {
	UUID           string          `json:"uuid"`
	ID             int64           `json:"id"`
	AccountID      string          `json:"account_id"`
	HostID         string          `json:"host_id"`
	HostEmail      string          `json:"host_email,omitempty"`
	Topic          string          `json:"topic"`
	Type           int             `json:"type"`
	StartTime      time.Time       `json:"start_time"`
	Duration       int             `json:"duration"`
	TotalSize      int64           `json:"total_size"`
	RecordingCount int             `json:"recording_count"`
	RecordingFiles []RecordingFile `json:"recording_files"`
}

// ListRecordingsResponse represents one page of the list recordings endpoint
type ListRecordingsResponse struct {
	From          string      `json:"from"`
	To            string      `json:"to"`
	PageCount     int         `json:"page_count"`
	PageSize      int         `json:"page_size"`
	TotalRecords  int         `json:"total_records"`
	NextPageToken string      `json:"next_page_token,omitempty"`
	Meetings      []Recording `json:"meetings"`
}
