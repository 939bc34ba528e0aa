package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"vkcrawler/pkg/logger"
	"vkcrawler/pkg/vk"
)

// Version is the current checkpoint file format
const Version = 1

// Checkpoint is the resumable listing state of one group
type Checkpoint struct {
	Group string `json:"group"`
	// Next is where the wall listing continues
	Next vk.Cursor `json:"next"`
	// Accepted counts posts already taken against the group's budget
	Accepted  int       `json:"accepted"`
	Completed bool      `json:"completed"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// Manager stores one checkpoint file per group
type Manager struct {
	dir    string
	logger logger.Logger
	mu     sync.Mutex
}

// DefaultDirectory is the checkpoint directory under the XDG data home
func DefaultDirectory() string {
	return filepath.Join(xdg.DataHome, "vkcrawler", "checkpoints")
}

// NewManager creates a manager writing to dir, or to DefaultDirectory when
// dir is empty.
func NewManager(dir string, log logger.Logger) (*Manager, error) {
	if dir == "" {
		dir = DefaultDirectory()
	}
	if log == nil {
		log = logger.GetLogger()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}
	return &Manager{
		dir:    dir,
		logger: log.WithField("component", "checkpoint"),
	}, nil
}

// Path returns the checkpoint file of a group
func (m *Manager) Path(group string) string {
	return filepath.Join(m.dir, fileName(group)+".checkpoint.json")
}

func fileName(group string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, strings.Trim(group, "/ "))
	if name == "" {
		name = "_"
	}
	return name
}

// Load reads a group's checkpoint. It returns nil without error when none
// exists.
func (m *Manager) Load(group string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.Open(m.Path(group))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var cp Checkpoint
	if err := json.NewDecoder(file).Decode(&cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if cp.Version > Version {
		return nil, fmt.Errorf("checkpoint version %d is newer than supported version %d", cp.Version, Version)
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"group":      cp.Group,
		"accepted":   cp.Accepted,
		"offset":     cp.Next.Offset,
		"completed":  cp.Completed,
		"updated_at": cp.UpdatedAt,
	})
	return &cp, nil
}

// Save writes the checkpoint atomically
func (m *Manager) Save(cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.Version = Version

	path := m.Path(cp.Group)
	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cp); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"group":     cp.Group,
		"accepted":  cp.Accepted,
		"offset":    cp.Next.Offset,
		"completed": cp.Completed,
	})
	return nil
}

// Delete removes a group's checkpoint
func (m *Manager) Delete(group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.Path(group)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	m.logger.DebugWithFields("Checkpoint deleted", map[string]interface{}{
		"group": group,
	})
	return nil
}

// Exists reports whether a group has a checkpoint
func (m *Manager) Exists(group string) bool {
	_, err := os.Stat(m.Path(group))
	return err == nil
}

// Info returns a summary of a group's checkpoint, or nil when none exists
func (m *Manager) Info(group string) (map[string]interface{}, error) {
	cp, err := m.Load(group)
	if err != nil || cp == nil {
		return nil, err
	}
	return map[string]interface{}{
		"group":      cp.Group,
		"accepted":   cp.Accepted,
		"offset":     cp.Next.Offset,
		"completed":  cp.Completed,
		"run_id":     cp.RunID,
		"created_at": cp.CreatedAt,
		"updated_at": cp.UpdatedAt,
		"age":        time.Since(cp.UpdatedAt),
	}, nil
}
