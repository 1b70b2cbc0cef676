// Package artifact detects files produced by an execution by diffing
// snapshots of its working directory.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rhuss/codegate/pkg/api"
)

// FileState is what a snapshot records about one regular file.
type FileState struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// Snapshot is the set of regular files under a directory at one point in
// time, keyed by slash-separated path relative to the directory.
type Snapshot struct {
	files map[string]FileState
}

// Len returns the number of files in the snapshot.
func (s Snapshot) Len() int {
	return len(s.files)
}

// Get returns the recorded state of path.
func (s Snapshot) Get(path string) (FileState, bool) {
	f, ok := s.files[path]
	return f, ok
}

// Paths returns all recorded paths in lexicographic order.
func (s Snapshot) Paths() []string {
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Scanner takes snapshots of working directories.
type Scanner struct {
	includeHidden bool
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithHidden makes the scanner include dot-prefixed files and directories,
// which are skipped by default.
func WithHidden() Option {
	return func(s *Scanner) {
		s.includeHidden = true
	}
}

// NewScanner creates a Scanner.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot records every regular file under dir. A directory that does not
// exist yet yields an empty snapshot. Files that disappear while walking are
// ignored; symlinks and other non-regular files are not recorded.
func (s *Scanner) Snapshot(dir string) (Snapshot, error) {
	snap := Snapshot{files: make(map[string]FileState)}

	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return snap, fmt.Errorf("%s is not a directory", dir)
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if path == dir {
			return nil
		}
		if !s.includeHidden && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		snap.files[rel] = FileState{Path: rel, ModTime: fi.ModTime(), Size: fi.Size()}
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("scanning %s: %w", dir, err)
	}
	return snap, nil
}

// Diff reports files present in after but not in before (created), and
// files present in both whose mtime or size changed (modified). Order is
// by modification time, then path.
func Diff(before, after Snapshot) []api.Artifact {
	return DiffOrdered(before, after, nil)
}

// DiffOrdered is Diff with a creation-order hint, usually from a Watcher.
// Hinted paths come first in hint order; the rest follow by modification
// time, then path. The result depends only on its arguments.
func DiffOrdered(before, after Snapshot, hint []string) []api.Artifact {
	changed := make(map[string]api.Artifact)
	for path, a := range after.files {
		b, existed := before.files[path]
		switch {
		case !existed:
			changed[path] = newArtifact(a, api.ArtifactCreated)
		case !a.ModTime.Equal(b.ModTime) || a.Size != b.Size:
			changed[path] = newArtifact(a, api.ArtifactModified)
		}
	}

	result := make([]api.Artifact, 0, len(changed))
	for _, path := range hint {
		if a, ok := changed[path]; ok {
			result = append(result, a)
			delete(changed, path)
		}
	}

	rest := make([]string, 0, len(changed))
	for path := range changed {
		rest = append(rest, path)
	}
	sort.Slice(rest, func(i, j int) bool {
		ti, tj := after.files[rest[i]].ModTime, after.files[rest[j]].ModTime
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return rest[i] < rest[j]
	})
	for _, path := range rest {
		result = append(result, changed[path])
	}
	return result
}

func newArtifact(f FileState, change api.ArtifactChange) api.Artifact {
	return api.Artifact{
		Path:     f.Path,
		Change:   change,
		Size:     f.Size,
		MIMEType: api.MIMETypeFor(f.Path),
	}
}
