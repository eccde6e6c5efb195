package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/traffic-stats/pkg/traffic"
)

const (
	snapshotExt    = ".json"
	combinedSuffix = "-combined" + snapshotExt
)

// snapshotName matches {repo}-{metric}-YYYY-MM-DD.json
var snapshotName = regexp.MustCompile(`^(.+)-(views|clones|referrers|paths)-(\d{4}-\d{2}-\d{2})\.json$`)

// Snapshot is one raw capture of a single endpoint for a single day
type Snapshot struct {
	Repository  string
	Metric      traffic.Metric
	Date        string
	CollectedAt time.Time
	Payload     traffic.Payload
}

// SnapshotEntry is one element of a snapshot file. A file holds one entry per run of the day.
type SnapshotEntry struct {
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// SnapshotFile identifies a snapshot file on disk
type SnapshotFile struct {
	Path       string
	Repository string
	Metric     traffic.Metric
	Date       string
}

// SnapshotStore keeps raw snapshots as JSON files in one directory
type SnapshotStore struct {
	dir string
	mu  sync.Mutex
}

// NewSnapshotStore creates a snapshot store rooted at dir
func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &SnapshotStore{dir: dir}, nil
}

// Dir returns the root directory
func (s *SnapshotStore) Dir() string {
	return s.dir
}

// Path returns the file holding the snapshots of (repository, metric, date)
func (s *SnapshotStore) Path(repository string, metric traffic.Metric, date string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s-%s%s", repository, metric, date, snapshotExt))
}

// CombinedPath returns the file holding the combined series of (repository, metric)
func (s *SnapshotStore) CombinedPath(repository string, metric traffic.Metric) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s%s", repository, metric, combinedSuffix))
}

// Write appends snap to its daily file, creating the file when missing
func (s *SnapshotStore) Write(snap *Snapshot) (string, error) {
	if snap == nil || snap.Payload == nil {
		return "", fmt.Errorf("snapshot has no payload")
	}
	if snap.Repository == "" || strings.ContainsAny(snap.Repository, `/\`) {
		return "", fmt.Errorf("invalid repository name %q", snap.Repository)
	}
	if !snap.Metric.Valid() {
		return "", fmt.Errorf("%w: %q", traffic.ErrUnknownMetric, string(snap.Metric))
	}
	if _, err := time.Parse(traffic.DateLayout, snap.Date); err != nil {
		return "", fmt.Errorf("invalid snapshot date %q: %w", snap.Date, err)
	}

	data, err := json.Marshal(snap.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s payload: %w", snap.Metric, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(snap.Repository, snap.Metric, snap.Date)
	entries, err := s.Read(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	entries = append(entries, SnapshotEntry{
		Timestamp: snap.CollectedAt.UTC().Format(time.RFC3339),
		Data:      data,
	})

	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot file: %w", err)
	}
	if err := writeFileAtomic(path, append(out, '\n')); err != nil {
		return "", fmt.Errorf("failed to write snapshot %s: %w", path, err)
	}
	return path, nil
}

// Read decodes every entry of a snapshot file
func (s *SnapshotStore) Read(path string) ([]SnapshotEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var entries []SnapshotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot file %s: %w", filepath.Base(path), err)
	}
	return entries, nil
}

// List returns every snapshot file of (repository, metric), sorted by date
func (s *SnapshotStore) List(repository string, metric traffic.Metric) ([]SnapshotFile, error) {
	files, err := s.scan()
	if err != nil {
		return nil, err
	}

	var matched []SnapshotFile
	for _, f := range files {
		if f.Repository == repository && f.Metric == metric {
			matched = append(matched, f)
		}
	}
	return matched, nil
}

// Repositories returns the distinct repository names with at least one snapshot, sorted
func (s *SnapshotStore) Repositories() ([]string, error) {
	files, err := s.scan()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var repos []string
	for _, f := range files {
		if _, ok := seen[f.Repository]; ok {
			continue
		}
		seen[f.Repository] = struct{}{}
		repos = append(repos, f.Repository)
	}
	sort.Strings(repos)
	return repos, nil
}

// scan parses every snapshot filename in the directory
func (s *SnapshotStore) scan() ([]SnapshotFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var files []SnapshotFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		f, ok := parseSnapshotName(entry.Name())
		if !ok {
			continue
		}
		f.Path = filepath.Join(s.dir, entry.Name())
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Date != files[j].Date {
			return files[i].Date < files[j].Date
		}
		return files[i].Path < files[j].Path
	})
	return files, nil
}

// parseSnapshotName splits a snapshot filename into its key fields
func parseSnapshotName(name string) (SnapshotFile, bool) {
	m := snapshotName.FindStringSubmatch(name)
	if m == nil {
		return SnapshotFile{}, false
	}
	if _, err := time.Parse(traffic.DateLayout, m[3]); err != nil {
		return SnapshotFile{}, false
	}
	return SnapshotFile{
		Repository: m[1],
		Metric:     traffic.Metric(m[2]),
		Date:       m[3],
	}, true
}

// WriteCombined atomically replaces the combined series file of (repository, metric)
func (s *SnapshotStore) WriteCombined(repository string, metric traffic.Metric, data []byte) (string, error) {
	path := s.CombinedPath(repository, metric)
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}
