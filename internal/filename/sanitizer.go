// Package filename provides filename sanitization functionality for Zoom recording files
package filename

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/curtbushko/zoom-mirror/internal/zoom"
)

// MaxNameLength is the per-component name limit of common filesystems, in bytes
const MaxNameLength = 255

// FileSanitizer handles filename sanitization for Zoom recordings
type FileSanitizer interface {
	// SanitizeTopic maps a meeting topic to a filesystem-safe, length-bounded name
	SanitizeTopic(topic string) string

	// GenerateFilename builds "<topic> <kind> <id>.<ext>" for a recording file
	GenerateFilename(topic string, file zoom.RecordingFile) string
}

// FileSanitizerOptions contains configuration options for the file sanitizer
type FileSanitizerOptions struct {
	// MaxNameLength bounds every generated name in bytes (default: 255)
	MaxNameLength int

	// DefaultTopic is used when nothing survives sanitization (default: "untitled")
	DefaultTopic string
}

type fileSanitizer struct {
	maxNameLength int
	defaultTopic  string

	reservedCharsRegex  *regexp.Regexp
	multipleSpacesRegex *regexp.Regexp
}

// NewFileSanitizer creates a new FileSanitizer with the given options
func NewFileSanitizer(options FileSanitizerOptions) FileSanitizer {
	maxLength := options.MaxNameLength
	if maxLength <= 0 || maxLength > MaxNameLength {
		maxLength = MaxNameLength
	}

	defaultTopic := options.DefaultTopic
	if defaultTopic == "" {
		defaultTopic = "untitled"
	}

	return &fileSanitizer{
		maxNameLength:       maxLength,
		defaultTopic:        defaultTopic,
		reservedCharsRegex:  regexp.MustCompile(`["*:<>?/\\|#&]`),
		multipleSpacesRegex: regexp.MustCompile(`\s+`),
	}
}

// SanitizeTopic applies, in order: drop '#', replace reserved characters with
// '-', turn underscores into spaces and collapse whitespace, strip the
// leading non-alphanumeric run, strip surrounding dots, bound the length.
func (fs *fileSanitizer) SanitizeTopic(topic string) string {
	name := norm.NFC.String(topic)

	name = strings.ReplaceAll(name, "#", "")
	name = fs.reservedCharsRegex.ReplaceAllString(name, "-")

	name = strings.ReplaceAll(name, "_", " ")
	name = fs.multipleSpacesRegex.ReplaceAllString(name, " ")

	name = strings.TrimLeftFunc(name, unicode.IsSpace)
	name = strings.TrimLeftFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	name = strings.TrimSpace(name)
	name = strings.Trim(name, ".")
	name = strings.TrimSpace(name)

	if name == "" {
		return fs.defaultTopic
	}

	if truncated := strings.TrimRight(TruncateName(name, fs.maxNameLength), ". "); truncated != "" {
		return truncated
	}
	return fs.defaultTopic
}

// GenerateFilename builds the file name for one recording file. The topic is
// shortened when needed so the whole name fits the length bound.
func (fs *fileSanitizer) GenerateFilename(topic string, file zoom.RecordingFile) string {
	sanitizedTopic := fs.SanitizeTopic(topic)
	kind := fs.sanitizeToken(file.Kind())
	id := fs.sanitizeToken(file.ID)
	ext := fs.sanitizeToken(file.Extension())

	suffix := fmt.Sprintf(" %s %s.%s", kind, id, ext)
	budget := fs.maxNameLength - len(suffix)
	if budget < 1 {
		// Pathological id or kind; bound the whole name instead
		return TruncateName(sanitizedTopic+suffix, fs.maxNameLength)
	}

	if len(sanitizedTopic) > budget {
		sanitizedTopic = strings.TrimRightFunc(truncateBytes(sanitizedTopic, budget), unicode.IsSpace)
		sanitizedTopic = strings.TrimRight(sanitizedTopic, ".")
		if sanitizedTopic == "" {
			sanitizedTopic = truncateBytes(fs.defaultTopic, budget)
		}
	}

	return sanitizedTopic + suffix
}

// sanitizeToken makes a provider-issued token safe inside a path component
func (fs *fileSanitizer) sanitizeToken(token string) string {
	token = fs.reservedCharsRegex.ReplaceAllString(token, "-")
	return fs.multipleSpacesRegex.ReplaceAllString(strings.TrimSpace(token), "_")
}

// TruncateName bounds name to max bytes, keeping its extension intact
func TruncateName(name string, max int) string {
	if len(name) <= max {
		return name
	}

	ext := path.Ext(name)
	if len(ext) >= max || ext == name {
		return truncateBytes(name, max)
	}

	stem := strings.TrimSuffix(name, ext)
	return truncateBytes(stem, max-len(ext)) + ext
}

// truncateBytes cuts s to at most n bytes without splitting a rune
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
