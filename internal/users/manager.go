// Package users provides the member allow-list for a sync run
package users

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/curtbushko/zoom-mirror/internal/email"
	"github.com/curtbushko/zoom-mirror/internal/logging"
	"github.com/curtbushko/zoom-mirror/internal/zoom"
)

// ActiveUserManager decides which account members are mirrored
type ActiveUserManager interface {
	IsUserActive(email string) bool
	FilterMembers(members []zoom.User) []zoom.User
	GetActiveUsers() []string
	Enabled() bool
	GetStats() UserStats
	Reload() error
	Close() error
}

// ActiveUserConfig holds configuration for the active user manager
type ActiveUserConfig struct {
	FilePath  string   // Allow-list file, one address per line (empty disables the file)
	Members   []string // Addresses always allowed, e.g. from the command line
	WatchFile bool     // Reload the file when it changes
	Logger    logging.Logger
}

// UserStats provides statistics about the active user list
type UserStats struct {
	TotalUsers   int
	SkippedLines int // Lines that were not valid addresses on the last load
	LastUpdated  time.Time
	FilePath     string
	FileSize     int64
	Reloads      int
	IsWatching   bool
}

type activeUserManagerImpl struct {
	config    ActiveUserConfig
	logger    logging.Logger
	static    []string
	users     map[string]bool
	userList  []string
	mutex     sync.RWMutex
	watcher   *fsnotify.Watcher
	stopWatch chan struct{}
	closeOnce sync.Once
	done      sync.WaitGroup
	stats     UserStats
}

// NewActiveUserManager creates a manager. With neither a file nor static
// members configured, every member is active.
func NewActiveUserManager(config ActiveUserConfig) (ActiveUserManager, error) {
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	manager := &activeUserManagerImpl{
		config:    config,
		logger:    logger,
		users:     make(map[string]bool),
		stopWatch: make(chan struct{}),
		stats: UserStats{
			FilePath:   config.FilePath,
			IsWatching: config.WatchFile && config.FilePath != "",
		},
	}

	for _, member := range config.Members {
		normalized := email.Normalize(member)
		if !email.IsValidEmail(normalized) {
			return nil, fmt.Errorf("invalid member address: %q", member)
		}
		manager.static = append(manager.static, normalized)
	}

	if config.FilePath == "" {
		manager.apply(nil, 0, 0)
		return manager, nil
	}

	if err := manager.loadUserList(); err != nil {
		return nil, fmt.Errorf("failed to load initial user list: %w", err)
	}

	if config.WatchFile {
		if err := manager.setupFileWatcher(); err != nil {
			return nil, fmt.Errorf("failed to setup file watcher: %w", err)
		}
	}

	return manager, nil
}

// Enabled reports whether filtering is in effect
func (m *activeUserManagerImpl) Enabled() bool {
	return m.config.FilePath != "" || len(m.static) > 0
}

// IsUserActive checks an address against the allow-list, ignoring case
func (m *activeUserManagerImpl) IsUserActive(address string) bool {
	if !m.Enabled() {
		return true
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.users[email.Normalize(address)]
}

// FilterMembers keeps the active members, preserving enumeration order
func (m *activeUserManagerImpl) FilterMembers(members []zoom.User) []zoom.User {
	if !m.Enabled() {
		return members
	}

	active := make([]zoom.User, 0, len(members))
	for _, member := range members {
		if m.IsUserActive(member.Email) {
			active = append(active, member)
		}
	}
	return active
}

// GetActiveUsers returns a copy of the allow-list
func (m *activeUserManagerImpl) GetActiveUsers() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]string, len(m.userList))
	copy(result, m.userList)
	return result
}

// GetStats returns statistics about the active user list
func (m *activeUserManagerImpl) GetStats() UserStats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.stats
}

// Reload reloads the user list from the file
func (m *activeUserManagerImpl) Reload() error {
	if m.config.FilePath == "" {
		return nil
	}
	return m.loadUserList()
}

// Close stops the watcher, if any
func (m *activeUserManagerImpl) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stopWatch)
		if m.watcher != nil {
			err = m.watcher.Close()
		}
		m.done.Wait()
	})
	return err
}

func (m *activeUserManagerImpl) loadUserList() error {
	file, err := os.Open(m.config.FilePath)
	if err != nil {
		return fmt.Errorf("failed to open user list file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	var addresses []string
	skipped := 0

	scanner := bufio.NewScanner(file)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := email.Normalize(scanner.Text())

		if line == "" || line[0] == '#' {
			continue
		}

		if !email.IsValidEmail(line) {
			m.logger.Warn("Skipping invalid address on line %d of %s", lineNumber, m.config.FilePath)
			skipped++
			continue
		}
		addresses = append(addresses, line)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading user list file: %w", err)
	}

	m.apply(addresses, skipped, fileInfo.Size())
	return nil
}

// apply swaps in a new list: static members first, then file entries, deduplicated
func (m *activeUserManagerImpl) apply(fromFile []string, skipped int, size int64) {
	newUsers := make(map[string]bool)
	newUserList := make([]string, 0, len(m.static)+len(fromFile))
	for _, list := range [][]string{m.static, fromFile} {
		for _, address := range list {
			if !newUsers[address] {
				newUsers[address] = true
				newUserList = append(newUserList, address)
			}
		}
	}

	m.mutex.Lock()
	m.users = newUsers
	m.userList = newUserList
	m.stats.TotalUsers = len(newUserList)
	m.stats.SkippedLines = skipped
	m.stats.LastUpdated = time.Now()
	m.stats.FileSize = size
	m.stats.Reloads++
	m.mutex.Unlock()
}

// setupFileWatcher watches the file's directory so editors that replace the
// file by rename are still picked up
func (m *activeUserManagerImpl) setupFileWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(m.config.FilePath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch file: %w", err)
	}

	m.watcher = watcher
	m.done.Add(1)
	go m.watchFileChanges()

	return nil
}

func (m *activeUserManagerImpl) watchFileChanges() {
	defer m.done.Done()

	target := filepath.Clean(m.config.FilePath)
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			// Let the writer finish
			time.Sleep(10 * time.Millisecond)

			if err := m.loadUserList(); err != nil {
				m.logger.Warn("Failed to reload user list %s: %v", m.config.FilePath, err)
				continue
			}
			m.logger.Info("Reloaded user list %s (%d users)", m.config.FilePath, m.GetStats().TotalUsers)

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("User list watcher error: %v", err)

		case <-m.stopWatch:
			return
		}
	}
}
