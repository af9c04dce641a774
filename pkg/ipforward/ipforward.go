package ipforward

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const sysctlKey = "net.ipv4.ip_forward"

// ErrNotPersisted is returned by Ensure when forwarding was switched on but
// the setting could not be written to the sysctl config.
var ErrNotPersisted = errors.New("IP forwarding enabled but not persisted")

// Switch reads and flips the kernel IPv4 forwarding flag and persists it
// in sysctl.conf so the setting survives reboots.
type Switch struct {
	fs          afero.Fs
	procPath    string
	persistPath string
	logger      *zap.Logger
}

// NewSwitch creates a Switch operating on the given filesystem paths.
func NewSwitch(fs afero.Fs, procPath, persistPath string, logger *zap.Logger) *Switch {
	return &Switch{
		fs:          fs,
		procPath:    procPath,
		persistPath: persistPath,
		logger:      logger,
	}
}

// Enabled reports whether IPv4 forwarding is currently on.
func (s *Switch) Enabled() (bool, error) {
	data, err := afero.ReadFile(s.fs, s.procPath)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", s.procPath, err)
	}
	return strings.TrimSpace(string(data)) == "1", nil
}

// Ensure turns forwarding on if it is off. It is a no-op when already
// enabled; otherwise it writes the flag and persists it.
func (s *Switch) Ensure() error {
	enabled, err := s.Enabled()
	if err != nil {
		return err
	}
	if enabled {
		return nil
	}

	if err := afero.WriteFile(s.fs, s.procPath, []byte("1\n"), 0o644); err != nil {
		return fmt.Errorf("failed to enable IP forwarding: %w", err)
	}
	s.logger.Info("IP forwarding enabled")

	if err := s.persist(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	return nil
}

// persist sets net.ipv4.ip_forward=1 in the sysctl config, replacing an
// existing (possibly commented) assignment or appending one.
func (s *Switch) persist() error {
	data, err := afero.ReadFile(s.fs, s.persistPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", s.persistPath, err)
	}

	var out bytes.Buffer
	replaced := false
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if isForwardAssignment(line) {
			if !replaced {
				out.WriteString(sysctlKey + "=1\n")
				replaced = true
			}
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan %s: %w", s.persistPath, err)
	}
	if !replaced {
		out.WriteString(sysctlKey + "=1\n")
	}

	if err := afero.WriteFile(s.fs, s.persistPath, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.persistPath, err)
	}
	s.logger.Info("persisted IP forwarding setting", zap.String("path", s.persistPath))
	return nil
}

func isForwardAssignment(line string) bool {
	trimmed := strings.TrimLeft(strings.TrimSpace(line), "#; ")
	key, _, found := strings.Cut(trimmed, "=")
	return found && strings.TrimSpace(key) == sysctlKey
}
