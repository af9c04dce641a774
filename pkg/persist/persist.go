package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/easzlab/ezfwd/pkg/cmdrun"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	saveCommand    = "iptables-save"
	restoreCommand = "iptables-restore"
	backupPrefix   = "ezfwd-"
	backupSuffix   = ".rules"
	backupLayout   = "20060102-150405"
)

// ErrNoSavedRules is returned by Restore when the rules file does not exist.
var ErrNoSavedRules = errors.New("no saved rules file")

// Backup describes one file in the backup directory.
type Backup struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Store saves and restores the rule table in the export format of
// iptables-save. It never interprets the file contents.
type Store struct {
	fs        afero.Fs
	runner    cmdrun.Runner
	rulesFile string
	backupDir string
	now       func() time.Time
	logger    *zap.Logger
}

// NewStore creates a Store writing rulesFile and backups under backupDir.
func NewStore(fs afero.Fs, runner cmdrun.Runner, rulesFile, backupDir string, logger *zap.Logger) *Store {
	return &Store{
		fs:        fs,
		runner:    runner,
		rulesFile: rulesFile,
		backupDir: backupDir,
		now:       time.Now,
		logger:    logger,
	}
}

// RulesFile returns the path Save writes and Restore reads.
func (s *Store) RulesFile() string {
	return s.rulesFile
}

// Available reports whether the save and restore tools are installed.
func (s *Store) Available() bool {
	return s.runner.LookPath(saveCommand) && s.runner.LookPath(restoreCommand)
}

// Save exports the live table to the rules file so it can be loaded at boot.
func (s *Store) Save() (string, error) {
	if err := s.export(s.rulesFile); err != nil {
		return "", err
	}
	s.logger.Info("rules saved", zap.String("path", s.rulesFile))
	return s.rulesFile, nil
}

// Backup exports the live table to a timestamped file in the backup directory.
func (s *Store) Backup() (string, error) {
	name := backupPrefix + s.now().Format(backupLayout) + backupSuffix
	path := filepath.Join(s.backupDir, name)
	if err := s.export(path); err != nil {
		return "", err
	}
	s.logger.Info("rules backed up", zap.String("path", path))
	return path, nil
}

// ListBackups returns the backups, oldest first.
func (s *Store) ListBackups() ([]Backup, error) {
	entries, err := afero.ReadDir(s.fs, s.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory %s: %w", s.backupDir, err)
	}

	var backups []Backup
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), backupPrefix) || !strings.HasSuffix(entry.Name(), backupSuffix) {
			continue
		}
		backups = append(backups, Backup{
			Path:    filepath.Join(s.backupDir, entry.Name()),
			Size:    entry.Size(),
			ModTime: entry.ModTime(),
		})
	}
	// Timestamped names sort chronologically.
	sort.Slice(backups, func(i, j int) bool { return backups[i].Path < backups[j].Path })
	return backups, nil
}

// Restore loads the rules file into the live table.
func (s *Store) Restore() error {
	return s.RestoreFrom(s.rulesFile)
}

// RestoreFrom loads path into the live table. The file is checked with
// iptables-restore --test before anything is applied.
func (s *Store) RestoreFrom(path string) error {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNoSavedRules, path)
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrNoSavedRules, path)
	}

	if _, err := s.runner.RunWithInput(data, restoreCommand, "--test"); err != nil {
		return fmt.Errorf("rules file %s rejected: %w", path, err)
	}
	if _, err := s.runner.RunWithInput(data, restoreCommand); err != nil {
		return fmt.Errorf("failed to restore rules from %s: %w", path, err)
	}
	s.logger.Info("rules restored", zap.String("path", path))
	return nil
}

func (s *Store) export(path string) error {
	output, err := s.runner.Run(saveCommand)
	if err != nil {
		return fmt.Errorf("failed to export rule table: %w", err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := afero.WriteFile(s.fs, path, output, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
