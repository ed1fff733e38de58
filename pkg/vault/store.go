package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"packrat/pkg/assetcache"
)

const (
	recordsDirName = "records"
	assetsFileName = "assets.json"

	// minFindPrefix is the shortest id prefix Find accepts, matching the
	// short id replies carry.
	minFindPrefix = 4
)

// Store keeps archived records as one JSON file each under the vault root,
// with an in-memory index for lookups and listings. The asset cache
// snapshot is persisted alongside the records so remote references survive
// process restarts.
type Store struct {
	root       string
	recordsDir string
	log        *slog.Logger

	mu      sync.RWMutex
	records map[string]Record
	groups  map[string][]string
}

// Open resolves the vault root, creates the layout when missing, and loads
// every stored record into the index. Files that fail to parse are skipped
// with a warning rather than failing the whole vault.
func Open(root string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	resolved, err := ResolveRoot(root)
	if err != nil {
		return nil, err
	}

	recordsDir := filepath.Join(resolved, recordsDirName)
	if err := os.MkdirAll(recordsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create records directory: %w", err)
	}

	store := &Store{
		root:       resolved,
		recordsDir: recordsDir,
		log:        log.With("component", "vault.store"),
		records:    make(map[string]Record),
		groups:     make(map[string][]string),
	}

	if err := store.load(); err != nil {
		return nil, err
	}

	store.log.Info("Vault opened", "root", resolved, "records", store.Len())

	return store, nil
}

// Root returns the resolved vault root path.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) load() error {
	entries, err := os.ReadDir(s.recordsDir)
	if err != nil {
		return fmt.Errorf("read records directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(s.recordsDir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("Skipping unreadable record file", "file", entry.Name(), "error", err)
			continue
		}

		var record Record
		if err := json.Unmarshal(content, &record); err != nil {
			s.log.Warn("Skipping corrupt record file", "file", entry.Name(), "error", err)
			continue
		}
		if record.ID == "" {
			s.log.Warn("Skipping record file without id", "file", entry.Name())
			continue
		}

		s.index(record)
	}

	return nil
}

// Save validates a record, writes its file, and indexes it. The file is
// spooled to a temp name and renamed into place so readers never observe a
// half-written record.
func (s *Store) Save(record Record) error {
	if record.ID == "" {
		return errors.New("record id is required")
	}
	if err := record.Packed.Validate(); err != nil {
		return err
	}
	if record.CapturedAt.IsZero() {
		record.CapturedAt = time.Now().UTC()
	}

	path, err := s.recordPath(record.ID)
	if err != nil {
		return err
	}

	content, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.ID, err)
	}
	if err := writeFileAtomic(s.recordsDir, path, content); err != nil {
		return fmt.Errorf("write record %s: %w", record.ID, err)
	}

	s.mu.Lock()
	s.index(record)
	s.mu.Unlock()

	s.log.Debug("Record stored", "id", record.ShortID(), "category", string(record.Packed.Category), "group_id", record.Packed.GroupID)

	return nil
}

// SaveGroup stores every member of one album. The batch is validated as a
// whole before anything is written: all members must share one non-empty
// group id.
func (s *Store) SaveGroup(records []Record) error {
	if len(records) == 0 {
		return errors.New("group is empty")
	}

	groupID := records[0].Packed.GroupID
	if groupID == "" {
		return errors.New("group member carries no group id")
	}
	for _, record := range records {
		if record.Packed.GroupID != groupID {
			return fmt.Errorf("mixed group ids %q and %q", groupID, record.Packed.GroupID)
		}
		if err := record.Packed.Validate(); err != nil {
			return err
		}
	}

	for _, record := range records {
		if err := s.Save(record); err != nil {
			return err
		}
	}

	return nil
}

// index inserts a record into the lookup maps. Callers hold the write lock
// except during load, which runs before the store is shared.
func (s *Store) index(record Record) {
	if _, exists := s.records[record.ID]; !exists {
		if groupID := record.Packed.GroupID; groupID != "" {
			s.groups[groupID] = append(s.groups[groupID], record.ID)
		}
	}
	s.records[record.ID] = record
}

// Get returns the record with the exact id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	return record, ok
}

// Find resolves an exact id or a unique id prefix of at least four
// characters. A prefix shared by several records is ErrAmbiguousID.
func (s *Store) Find(idOrPrefix string) (Record, error) {
	needle := strings.ToLower(strings.TrimSpace(idOrPrefix))
	if needle == "" {
		return Record{}, fmt.Errorf("%w: empty id", ErrRecordNotFound)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if record, ok := s.records[needle]; ok {
		return record, nil
	}

	if len(needle) < minFindPrefix {
		return Record{}, fmt.Errorf("%w: %q (prefix needs at least %d characters)", ErrRecordNotFound, idOrPrefix, minFindPrefix)
	}

	var found Record
	matches := 0
	for id, record := range s.records {
		if strings.HasPrefix(id, needle) {
			found = record
			matches++
		}
	}

	switch matches {
	case 0:
		return Record{}, fmt.Errorf("%w: %q", ErrRecordNotFound, idOrPrefix)
	case 1:
		return found, nil
	default:
		return Record{}, fmt.Errorf("%w: %q matches %d records", ErrAmbiguousID, idOrPrefix, matches)
	}
}

// Group returns every member of an album ordered by ordinal.
func (s *Store) Group(groupID string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.groups[groupID]
	if len(ids) == 0 {
		return nil
	}

	members := make([]Record, 0, len(ids))
	for _, id := range ids {
		if record, ok := s.records[id]; ok {
			members = append(members, record)
		}
	}

	sort.SliceStable(members, func(i, j int) bool {
		return members[i].Packed.Ordinal < members[j].Packed.Ordinal
	})

	return members
}

// List returns stored records newest first. A non-positive limit returns
// everything.
func (s *Store) List(limit int) []Record {
	s.mu.RLock()
	records := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].CapturedAt.Equal(records[j].CapturedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CapturedAt.After(records[j].CapturedAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

// Delete removes a record file and drops it from the index. Deleting a
// missing id is ErrRecordNotFound.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	record, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrRecordNotFound, id)
	}

	delete(s.records, id)
	if groupID := record.Packed.GroupID; groupID != "" {
		remaining := s.groups[groupID][:0]
		for _, memberID := range s.groups[groupID] {
			if memberID != id {
				remaining = append(remaining, memberID)
			}
		}
		if len(remaining) == 0 {
			delete(s.groups, groupID)
		} else {
			s.groups[groupID] = remaining
		}
	}
	s.mu.Unlock()

	path, err := s.recordPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove record file: %w", err)
	}

	s.log.Debug("Record deleted", "id", ShortID(id))

	return nil
}

// SaveAssets persists an asset cache snapshot next to the records.
func (s *Store) SaveAssets(records []assetcache.AssetRecord) error {
	payload := assetsFile{
		SavedAt: time.Now().UTC(),
		Assets:  records,
	}

	content, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode asset snapshot: %w", err)
	}

	path := filepath.Join(s.root, assetsFileName)
	if err := writeFileAtomic(s.root, path, content); err != nil {
		return fmt.Errorf("write asset snapshot: %w", err)
	}

	s.log.Debug("Asset snapshot saved", "assets", len(records))

	return nil
}

// LoadAssets reads the persisted asset cache snapshot. A vault without one
// yields an empty set, not an error.
func (s *Store) LoadAssets() ([]assetcache.AssetRecord, error) {
	path := filepath.Join(s.root, assetsFileName)
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read asset snapshot: %w", err)
	}

	var payload assetsFile
	if err := json.Unmarshal(content, &payload); err != nil {
		return nil, fmt.Errorf("parse asset snapshot: %w", err)
	}

	return payload.Assets, nil
}

type assetsFile struct {
	SavedAt time.Time                `json:"saved_at"`
	Assets  []assetcache.AssetRecord `json:"assets"`
}

// recordPath builds the on-disk location for a record id and rejects ids
// whose path would land outside the records directory.
func (s *Store) recordPath(id string) (string, error) {
	if strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid record id %q", id)
	}

	path := filepath.Join(s.recordsDir, id+".json")
	if !isWithin(s.recordsDir, path) {
		return "", fmt.Errorf("invalid record id %q", id)
	}

	return path, nil
}

// writeFileAtomic spools content to a temp file in dir and renames it over
// path, so concurrent readers see either the old or the new content.
func writeFileAtomic(dir string, path string, content []byte) error {
	tmp, err := os.CreateTemp(dir, ".spool-*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return nil
}
