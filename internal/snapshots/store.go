package snapshots

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Store lists the snapshots of one (kind, providerKey) partition. The
// core never writes; implementations are read-only by contract.
type Store interface {
	List(ctx context.Context, kind Kind, providerKey string) ([]Snapshot, error)
}

// providerKeyPattern guards the store against path traversal. Keys are
// lowercase slugs ("pge", "clean-power-alliance").
var providerKeyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidProviderKey reports whether key is a well-formed partition key.
func ValidProviderKey(key string) bool {
	return providerKeyPattern.MatchString(key)
}

// DirStore reads a directory tree laid out as
// <root>/<kind>/<providerKey>/*.json, one JSON document per snapshot.
// Files are scanned in lexicographic order so partition contents are
// byte-stable across runs.
type DirStore struct {
	root string
}

// NewDirStore opens a store rooted at dir. The directory does not need
// to exist yet; missing partitions resolve as empty.
func NewDirStore(dir string) *DirStore {
	return &DirStore{root: dir}
}

// List loads every snapshot in the partition. A missing partition
// directory is an empty partition, not an error.
func (s *DirStore) List(ctx context.Context, kind Kind, providerKey string) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ValidProviderKey(providerKey) {
		return nil, fmt.Errorf("malformed provider key %q", providerKey)
	}

	dir := filepath.Join(s.root, string(kind), providerKey)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read partition %s/%s: %w", kind, providerKey, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	snaps := make([]Snapshot, 0, len(names))
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read snapshot %s: %w", name, err)
		}
		var snap Snapshot
		if err := json.Unmarshal(b, &snap); err != nil {
			// A corrupt file poisons only itself, not the partition.
			log.Warn().Str("partition", string(kind)+"/"+providerKey).Str("file", name).Err(err).
				Msg("skipping unreadable snapshot file")
			continue
		}
		if snap.ID == "" {
			snap.ID = strings.TrimSuffix(name, ".json")
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// MemStore is an in-memory Store for tests and injected fixtures.
type MemStore struct {
	partitions map[string][]Snapshot
}

// NewMemStore builds an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{partitions: make(map[string][]Snapshot)}
}

// Put appends a snapshot to a partition.
func (m *MemStore) Put(kind Kind, providerKey string, snap Snapshot) {
	k := string(kind) + "/" + providerKey
	m.partitions[k] = append(m.partitions[k], snap)
}

// List implements Store.
func (m *MemStore) List(_ context.Context, kind Kind, providerKey string) ([]Snapshot, error) {
	if !ValidProviderKey(providerKey) {
		return nil, fmt.Errorf("malformed provider key %q", providerKey)
	}
	return m.partitions[string(kind)+"/"+providerKey], nil
}
