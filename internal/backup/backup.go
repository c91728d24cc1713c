package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gold-tracker/internal/storage"
)

const stampLayout = "20060102_150405"

// Options configure a Manager.
type Options struct {
	Dir    string
	Keep   int
	Prefix string
	Now    func() time.Time
}

// Manager writes store snapshots and rotates old ones.
type Manager struct {
	source storage.Snapshotter
	opts   Options
	logger zerolog.Logger
}

// NewManager constructs a backup manager for source.
func NewManager(source storage.Snapshotter, opts Options, logger zerolog.Logger) *Manager {
	if opts.Dir == "" {
		opts.Dir = "backups"
	}
	if opts.Keep <= 0 {
		opts.Keep = 10
	}
	if opts.Prefix == "" {
		opts.Prefix = "gold_tracker"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{source: source, opts: opts, logger: logger.With().Str("component", "backup").Logger()}
}

// Backup snapshots the store into the backup directory and prunes old copies.
func (m *Manager) Backup(ctx context.Context) (string, error) {
	if m.source == nil {
		return "", storage.ErrNotConfigured
	}
	if err := os.MkdirAll(m.opts.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	stem := fmt.Sprintf("%s_%s", m.opts.Prefix, m.opts.Now().Format(stampLayout))
	path, err := m.source.Snapshot(ctx, m.opts.Dir, stem)
	if err != nil {
		return "", fmt.Errorf("snapshot store: %w", err)
	}

	size := int64(0)
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	m.logger.Info().Str("path", path).Int64("bytes", size).Msg("backup written")

	if err := m.prune(); err != nil {
		m.logger.Warn().Err(err).Msg("failed to prune old backups")
	}
	return path, nil
}

// List returns existing backups, newest first.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	type backupFile struct {
		path    string
		modTime time.Time
	}
	files := make([]backupFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), m.opts.Prefix+"_") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, backupFile{path: filepath.Join(m.opts.Dir, e.Name()), modTime: info.ModTime()})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path > files[j].path
		}
		return files[i].modTime.After(files[j].modTime)
	})

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

func (m *Manager) prune() error {
	files, err := m.List()
	if err != nil {
		return err
	}
	if len(files) <= m.opts.Keep {
		return nil
	}
	for _, path := range files[m.opts.Keep:] {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		m.logger.Info().Str("path", path).Msg("removed old backup")
	}
	return nil
}
