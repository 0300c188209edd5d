package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// LatestDirName is the directory under the snapshot root that always holds
// the most recently completed fetch run.
const LatestDirName = "latest"

const runDirFormat = "20060102-150405"

var ErrNoSnapshot = errors.New("snapshot: no snapshot found")

func categoryFile(dir string, cat Category) string {
	return filepath.Join(dir, fmt.Sprintf("%s.json", cat))
}

// Load reads a persisted snapshot directory into a Store. A missing groups
// document is fatal; other missing categories read as empty with a warning.
func Load(ctx context.Context, dir string) (*Store, error) {
	l := ctxzap.Extract(ctx)

	categories := make(map[Category]map[string]Entry, len(Categories))
	for _, cat := range Categories {
		entries, err := loadCategory(categoryFile(dir, cat))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				if cat == CategoryGroups {
					return nil, fmt.Errorf("w3c-dash: snapshot at %s has no %s document: %w", dir, cat, ErrNoSnapshot)
				}
				l.Warn("snapshot: category document missing, loading as empty",
					zap.String("dir", dir),
					zap.String("category", string(cat)))
				continue
			}
			return nil, err
		}
		categories[cat] = entries
	}

	return NewStore(categories), nil
}

// LoadLatest reads the snapshot the "latest" pointer refers to.
func LoadLatest(ctx context.Context, root string) (*Store, error) {
	return Load(ctx, filepath.Join(root, LatestDirName))
}

func loadCategory(path string) (map[string]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("w3c-dash: decode snapshot document %s: %w", path, err)
	}

	return entries, nil
}

// Save persists a store under root: a timestamped run directory plus a
// wholesale replacement of the "latest" directory. When the store's data
// (ignoring fetch timestamps) is byte-identical to the current latest
// snapshot, nothing is written and updated is false. Latest is never
// partially overwritten; an interrupted run leaves it untouched.
func Save(ctx context.Context, root string, s *Store) (runDir string, updated bool, err error) {
	l := ctxzap.Extract(ctx)

	latestDir := filepath.Join(root, LatestDirName)
	if same, err := matchesExisting(s, latestDir); err != nil {
		return "", false, err
	} else if same {
		l.Info("snapshot: data unchanged, skipping write", zap.String("dir", latestDir))
		return "", false, nil
	}

	runDir = filepath.Join(root, time.Now().UTC().Format(runDirFormat))
	if err := writeSnapshotDir(runDir, s); err != nil {
		return "", false, err
	}

	// Replace latest as a whole: stage a complete copy, then swap it in.
	staging := filepath.Join(root, ".latest.tmp")
	if err := os.RemoveAll(staging); err != nil {
		return "", false, err
	}
	if err := writeSnapshotDir(staging, s); err != nil {
		return "", false, err
	}
	if err := os.RemoveAll(latestDir); err != nil {
		return "", false, err
	}
	if err := os.Rename(staging, latestDir); err != nil {
		return "", false, err
	}

	l.Info("snapshot: saved",
		zap.String("run", runDir),
		zap.Int("entries", s.Len()))

	return runDir, true, nil
}

func writeSnapshotDir(dir string, s *Store) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, cat := range Categories {
		data, err := json.MarshalIndent(s.categories[cat], "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(categoryFile(dir, cat), data, 0o644); err != nil {
			return err
		}
	}

	return nil
}

// matchesExisting compares the store's payloads with a persisted snapshot
// directory, ignoring fetch timestamps.
func matchesExisting(s *Store, dir string) (bool, error) {
	existing := make(map[Category]map[string]Entry, len(Categories))
	for _, cat := range Categories {
		entries, err := loadCategory(categoryFile(dir, cat))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return false, err
		}
		existing[cat] = entries
	}

	oldPrint, err := dataFingerprint(NewStore(existing))
	if err != nil {
		return false, err
	}
	newPrint, err := dataFingerprint(s)
	if err != nil {
		return false, err
	}

	return bytes.Equal(oldPrint, newPrint), nil
}

// dataFingerprint renders the store's payloads (URLs and data only) into a
// canonical byte form: map keys marshal sorted and payloads are compacted.
func dataFingerprint(s *Store) ([]byte, error) {
	canonical := make(map[Category]map[string]json.RawMessage, len(Categories))
	for _, cat := range Categories {
		entries := make(map[string]json.RawMessage, len(s.categories[cat]))
		for u, e := range s.categories[cat] {
			var buf bytes.Buffer
			if err := json.Compact(&buf, e.Data); err != nil {
				entries[u] = e.Data
				continue
			}
			entries[u] = json.RawMessage(buf.Bytes())
		}
		canonical[cat] = entries
	}

	return json.Marshal(canonical)
}
