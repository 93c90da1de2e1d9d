package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"

	"fde.dev/ipc/internal/application/ports"
)

// ErrNotDirectory is returned when the plugin path exists but is not a directory
var ErrNotDirectory = errors.New("plugin path is not a directory")

// Candidate is an executable found in the plugin directory
type Candidate struct {
	Name    string
	Path    string
	ModTime time.Time
}

// FileSystemScanner lists plugin candidates in one directory, non-recursively
type FileSystemScanner struct {
	fs        afero.Fs
	validator *CandidateValidator
	logger    ports.LoggingGateway
}

// NewFileSystemScanner creates a scanner over fs
func NewFileSystemScanner(fs afero.Fs, sidecarSuffixes []string, logger ports.LoggingGateway) *FileSystemScanner {
	return &FileSystemScanner{
		fs:        fs,
		validator: NewCandidateValidator(fs, sidecarSuffixes),
		logger:    logger,
	}
}

// Scan returns the candidates in dir ordered by name
func (s *FileSystemScanner) Scan(dir string) ([]Candidate, error) {
	info, err := s.fs.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}

	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin directory: %w", err)
	}

	var found []Candidate
	for _, entry := range entries {
		if reason := s.validator.Check(dir, entry); reason != Accepted {
			s.logger.Log(ports.LogLevelDebug, "Skipping directory entry", map[string]interface{}{
				"name":   entry.Name(),
				"reason": string(reason),
			})
			continue
		}
		found = append(found, Candidate{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			ModTime: entry.ModTime(),
		})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })
	s.logger.Log(ports.LogLevelDebug, "Scanned plugin directory", map[string]interface{}{
		"dir":        dir,
		"candidates": len(found),
	})
	return found, nil
}

// IsNotExist reports whether a Scan error means the directory is missing
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
