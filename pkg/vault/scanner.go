package vault

import (
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/OpenSeneca/squadwatch/pkg/monitor"
)

// Scanner walks vault paths and summarizes their contents. Scan failures
// are carried in the returned state, never surfaced as errors: a broken
// vault path must not disturb node monitoring.
type Scanner struct {
	// RecentLimit bounds the recent-files list per path.
	RecentLimit int
}

// NewScanner creates a scanner.
func NewScanner(recentLimit int) *Scanner {
	if recentLimit <= 0 {
		recentLimit = 10
	}
	return &Scanner{RecentLimit: recentLimit}
}

// Scan walks one vault path, counting files and collecting the most
// recently modified ones.
func (s *Scanner) Scan(path string) monitor.VaultState {
	state := monitor.VaultState{
		Path:      path,
		ScannedAt: time.Now().UTC(),
	}

	var files []monitor.VaultFile
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// The file vanished mid-walk; skip it.
			return nil
		}
		state.FileCount++
		files = append(files, monitor.VaultFile{
			Name:    d.Name(),
			ModTime: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return monitor.VaultState{
			Path:      path,
			Error:     err.Error(),
			ScannedAt: state.ScannedAt,
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})
	if len(files) > s.RecentLimit {
		files = files[:s.RecentLimit]
	}
	state.RecentFiles = files
	return state
}

// ScanAll scans every configured path.
func (s *Scanner) ScanAll(paths []string) []monitor.VaultState {
	states := make([]monitor.VaultState, 0, len(paths))
	for _, path := range paths {
		states = append(states, s.Scan(path))
	}
	return states
}
