package assetcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"packrat/pkg/media"
	"packrat/pkg/packer"
)

// Uploader pushes one local file to the platform and returns the opaque
// remote id the platform assigned to it.
type Uploader interface {
	Upload(ctx context.Context, category media.Category, path string) (string, error)
}

// AssetRecord is one completed upload, keyed by the sha256 of the file
// bytes. Identity is the content hash alone: the same bytes under a new
// path or name resolve to the same record without touching the platform.
type AssetRecord struct {
	Hash       string         `json:"hash"`
	RemoteID   string         `json:"remote_id"`
	Category   media.Category `json:"category"`
	SourcePath string         `json:"source_path,omitempty"`
	Size       int64          `json:"size"`
	UploadedAt time.Time      `json:"uploaded_at"`
}

// Cache maps content hashes to uploaded assets and collapses concurrent
// uploads of the same bytes into a single platform call.
type Cache struct {
	uploader Uploader
	log      *slog.Logger

	mu      sync.RWMutex
	entries map[string]AssetRecord

	flight singleflight.Group
}

// New builds an empty cache around the given uploader. A nil uploader is
// allowed for read-only use; Resolve reports an error instead of uploading.
func New(uploader Uploader, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}

	return &Cache{
		uploader: uploader,
		log:      log.With("component", "assetcache"),
		entries:  make(map[string]AssetRecord),
	}
}

// HashFile streams the file at path through sha256 and returns the lowercase
// hex digest plus the byte count. Read failures are reported as
// ErrFileUnreadable.
func HashFile(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrFileUnreadable, err)
	}
	defer file.Close()

	digest := sha256.New()
	size, err := io.Copy(digest, file)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrFileUnreadable, err)
	}

	return hex.EncodeToString(digest.Sum(nil)), size, nil
}

// Resolve returns the remote asset for the file at path, uploading it first
// if its content hash is not cached yet.
//
// Concurrent resolves of the same content share one upload. The shared
// upload is detached from any single waiter's cancellation: a cancelled
// waiter returns its own context error while the upload keeps running for
// the rest.
func (c *Cache) Resolve(ctx context.Context, category media.Category, path string) (AssetRecord, error) {
	hash, size, err := HashFile(path)
	if err != nil {
		return AssetRecord{}, err
	}

	if record, ok := c.Lookup(hash); ok {
		c.log.Debug("Asset cache hit", "hash", shortHash(hash), "remote_id", record.RemoteID)
		return record, nil
	}

	if c.uploader == nil {
		return AssetRecord{}, fmt.Errorf("%w: no uploader configured for %s", ErrUploadFailed, path)
	}

	uploadCtx := context.WithoutCancel(ctx)
	resultCh := c.flight.DoChan(hash, func() (any, error) {
		return c.upload(uploadCtx, category, path, hash, size)
	})

	select {
	case result := <-resultCh:
		if result.Err != nil {
			return AssetRecord{}, result.Err
		}
		record := result.Val.(AssetRecord)
		if result.Shared {
			c.log.Debug("Joined in-flight upload", "hash", shortHash(hash))
		}
		return record, nil
	case <-ctx.Done():
		return AssetRecord{}, ctx.Err()
	}
}

func (c *Cache) upload(ctx context.Context, category media.Category, path, hash string, size int64) (AssetRecord, error) {
	// A resolve that lost the race to a just-finished flight lands here
	// after the entry exists; serve it without a second upload.
	if record, ok := c.Lookup(hash); ok {
		return record, nil
	}

	remoteID, err := c.uploader.Upload(ctx, category, path)
	if err != nil {
		c.log.Warn("Asset upload failed", "hash", shortHash(hash), "path", path, "error", err)
		return AssetRecord{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	record := AssetRecord{
		Hash:       hash,
		RemoteID:   remoteID,
		Category:   category,
		SourcePath: path,
		Size:       size,
		UploadedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	c.entries[hash] = record
	c.mu.Unlock()

	c.log.Info("Asset uploaded", "hash", shortHash(hash), "category", category, "remote_id", remoteID, "size", size)

	return record, nil
}

// ResolveFile resolves the file at path, classifying it from its base
// name first. A valid hint wins over the extension, as in media.Classify.
func (c *Cache) ResolveFile(ctx context.Context, path string, hint media.Category) (AssetRecord, error) {
	return c.Resolve(ctx, media.Classify(filepath.Base(path), hint), path)
}

// ResolvePacked swaps a local content ref for its uploaded remote ref,
// resolving through the cache. Messages without a local ref pass through
// unchanged.
func (c *Cache) ResolvePacked(ctx context.Context, packed packer.PackedMessage) (packer.PackedMessage, error) {
	if packed.Content == nil || packed.Content.Kind != packer.RefLocal {
		return packed, nil
	}

	record, err := c.Resolve(ctx, packed.Category, packed.Content.LocalPath)
	if err != nil {
		return packed, err
	}

	resolved := packed
	resolved.Content = &packer.ContentRef{
		Kind:        packer.RefRemote,
		RemoteID:    record.RemoteID,
		ContentHash: record.Hash,
	}

	return resolved, nil
}

// Lookup returns the cached record for a content hash, if any.
func (c *Cache) Lookup(hash string) (AssetRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	record, ok := c.entries[hash]
	return record, ok
}

// Snapshot returns a copy of every cached record, ordered by hash so the
// output is stable across runs.
func (c *Cache) Snapshot() []AssetRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := make([]AssetRecord, 0, len(c.entries))
	for _, record := range c.entries {
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Hash < records[j].Hash
	})

	return records
}

// Restore replaces the cache contents with previously snapshotted records.
// Records missing a hash or remote id are skipped.
func (c *Cache) Restore(records []AssetRecord) {
	entries := make(map[string]AssetRecord, len(records))
	for _, record := range records {
		if record.Hash == "" || record.RemoteID == "" {
			continue
		}
		entries[record.Hash] = record
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()

	c.log.Debug("Asset cache restored", "entries", len(entries))
}

// Len returns the number of cached assets.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}

	return hash
}
