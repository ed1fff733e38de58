package vault

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"packrat/pkg/assetcache"
	"packrat/pkg/media"
	"packrat/pkg/packer"
)

func TestStoreSaveAndGetRoundTrip(t *testing.T) {
	store := mustStore(t)

	record := NewRecord("telegram", "100", "7", textPacked("hello vault"))
	if err := store.Save(record); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	got, ok := store.Get(record.ID)
	if !ok {
		t.Fatalf("Get(%q) missing", record.ID)
	}
	if got.Channel != "telegram" || got.ChatID != "100" || got.SenderID != "7" {
		t.Fatalf("record envelope = %#v", got)
	}
	if got.Packed.Text != "hello vault" {
		t.Fatalf("record text = %q, want %q", got.Packed.Text, "hello vault")
	}
	if got.CapturedAt.IsZero() {
		t.Fatal("CapturedAt not stamped")
	}

	path := filepath.Join(store.Root(), recordsDirName, record.ID+".json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("record file missing: %v", err)
	}
}

func TestStoreSaveRejectsInvalidRecords(t *testing.T) {
	store := mustStore(t)

	if err := store.Save(Record{Packed: textPacked("no id")}); err == nil {
		t.Fatal("Save accepted a record without id")
	}

	bad := NewRecord("telegram", "100", "7", packer.PackedMessage{Category: media.Photo})
	if err := store.Save(bad); !errors.Is(err, packer.ErrMalformedMessage) {
		t.Fatalf("Save error = %v, want ErrMalformedMessage", err)
	}
}

func TestStoreFindExactAndPrefix(t *testing.T) {
	store := mustStore(t)

	first := Record{ID: "aaaa1111", Channel: "telegram", Packed: textPacked("first")}
	second := Record{ID: "aaaa2222", Channel: "telegram", Packed: textPacked("second")}
	third := Record{ID: "bbbb3333", Channel: "telegram", Packed: textPacked("third")}
	for _, record := range []Record{first, second, third} {
		if err := store.Save(record); err != nil {
			t.Fatalf("Save(%s) error: %v", record.ID, err)
		}
	}

	got, err := store.Find("aaaa1111")
	if err != nil || got.ID != first.ID {
		t.Fatalf("Find exact = (%q, %v), want %q", got.ID, err, first.ID)
	}

	got, err = store.Find("bbbb")
	if err != nil || got.ID != third.ID {
		t.Fatalf("Find prefix = (%q, %v), want %q", got.ID, err, third.ID)
	}

	got, err = store.Find("  BBBB3333  ")
	if err != nil || got.ID != third.ID {
		t.Fatalf("Find normalized = (%q, %v), want %q", got.ID, err, third.ID)
	}

	if _, err := store.Find("aaaa"); !errors.Is(err, ErrAmbiguousID) {
		t.Fatalf("Find shared prefix error = %v, want ErrAmbiguousID", err)
	}
	if _, err := store.Find("aa"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("Find short prefix error = %v, want ErrRecordNotFound", err)
	}
	if _, err := store.Find("ffff0000"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("Find miss error = %v, want ErrRecordNotFound", err)
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	store := mustStore(t)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old00000", "mid00000", "new00000"} {
		record := Record{
			ID:         id,
			Channel:    "telegram",
			CapturedAt: base.Add(time.Duration(i) * time.Minute),
			Packed:     textPacked(id),
		}
		if err := store.Save(record); err != nil {
			t.Fatalf("Save(%s) error: %v", id, err)
		}
	}

	records := store.List(2)
	if len(records) != 2 {
		t.Fatalf("len(List(2)) = %d, want 2", len(records))
	}
	if records[0].ID != "new00000" || records[1].ID != "mid00000" {
		t.Fatalf("List order = [%s %s], want [new00000 mid00000]", records[0].ID, records[1].ID)
	}

	if got := len(store.List(0)); got != 3 {
		t.Fatalf("len(List(0)) = %d, want 3", got)
	}
}

func TestStoreGroupOrderedByOrdinal(t *testing.T) {
	store := mustStore(t)

	members := []Record{
		{ID: "mem20000", Packed: photoPacked("file-2", "album-1", 2)},
		{ID: "mem00000", Packed: photoPacked("file-0", "album-1", 0)},
		{ID: "mem10000", Packed: photoPacked("file-1", "album-1", 1)},
	}
	if err := store.SaveGroup(members); err != nil {
		t.Fatalf("SaveGroup error: %v", err)
	}

	group := store.Group("album-1")
	if len(group) != 3 {
		t.Fatalf("len(group) = %d, want 3", len(group))
	}
	for i, member := range group {
		if member.Packed.Ordinal != i {
			t.Fatalf("group[%d].Ordinal = %d, want %d", i, member.Packed.Ordinal, i)
		}
	}

	if got := store.Group("missing-album"); got != nil {
		t.Fatalf("Group(missing) = %v, want nil", got)
	}
}

func TestStoreSaveGroupRejectsMixedGroupIDs(t *testing.T) {
	store := mustStore(t)

	members := []Record{
		{ID: "mix00000", Packed: photoPacked("file-0", "album-a", 0)},
		{ID: "mix10000", Packed: photoPacked("file-1", "album-b", 1)},
	}
	if err := store.SaveGroup(members); err == nil {
		t.Fatal("SaveGroup accepted mixed group ids")
	}

	if got := store.Len(); got != 0 {
		t.Fatalf("store.Len() = %d after rejected group, want 0", got)
	}
}

func TestStoreDeleteRemovesRecordFileAndGroupMembership(t *testing.T) {
	store := mustStore(t)

	members := []Record{
		{ID: "del00000", Packed: photoPacked("file-0", "album-d", 0)},
		{ID: "del10000", Packed: photoPacked("file-1", "album-d", 1)},
	}
	if err := store.SaveGroup(members); err != nil {
		t.Fatalf("SaveGroup error: %v", err)
	}

	if err := store.Delete("del00000"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	if _, ok := store.Get("del00000"); ok {
		t.Fatal("deleted record still indexed")
	}
	path := filepath.Join(store.Root(), recordsDirName, "del00000.json")
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("record file still present: %v", err)
	}

	group := store.Group("album-d")
	if len(group) != 1 || group[0].ID != "del10000" {
		t.Fatalf("group after delete = %v, want only del10000", group)
	}

	if err := store.Delete("del00000"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("repeat Delete error = %v, want ErrRecordNotFound", err)
	}
}

func TestStoreReopenReloadsRecordsAndGroups(t *testing.T) {
	root := t.TempDir()

	store, err := Open(root, nil)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	single := NewRecord("telegram", "100", "7", textPacked("survives restart"))
	if err := store.Save(single); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	members := []Record{
		{ID: "grp00000", Packed: photoPacked("file-0", "album-r", 0)},
		{ID: "grp10000", Packed: photoPacked("file-1", "album-r", 1)},
	}
	if err := store.SaveGroup(members); err != nil {
		t.Fatalf("SaveGroup error: %v", err)
	}

	reopened, err := Open(root, nil)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}

	if got := reopened.Len(); got != 3 {
		t.Fatalf("reopened.Len() = %d, want 3", got)
	}
	got, err := reopened.Find(single.ID)
	if err != nil || got.Packed.Text != "survives restart" {
		t.Fatalf("Find after reopen = (%q, %v)", got.Packed.Text, err)
	}
	if group := reopened.Group("album-r"); len(group) != 2 {
		t.Fatalf("len(group) after reopen = %d, want 2", len(group))
	}
}

func TestStoreReopenSkipsCorruptFiles(t *testing.T) {
	root := t.TempDir()

	store, err := Open(root, nil)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := store.Save(NewRecord("telegram", "100", "7", textPacked("good"))); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	corrupt := filepath.Join(root, recordsDirName, "corrupt00.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	reopened, err := Open(root, nil)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if got := reopened.Len(); got != 1 {
		t.Fatalf("reopened.Len() = %d, want 1", got)
	}
}

func TestStoreSaveRejectsPathEscapingIDs(t *testing.T) {
	store := mustStore(t)

	for _, id := range []string{"../escape", `..\escape`, "a/b"} {
		record := Record{ID: id, Packed: textPacked("escape attempt")}
		if err := store.Save(record); err == nil {
			t.Fatalf("Save accepted id %q", id)
		}
	}
}

func TestStoreAssetSnapshotRoundTrip(t *testing.T) {
	store := mustStore(t)

	assets, err := store.LoadAssets()
	if err != nil || assets != nil {
		t.Fatalf("LoadAssets on fresh vault = (%v, %v), want (nil, nil)", assets, err)
	}

	saved := []assetcache.AssetRecord{
		{Hash: "hash-a", RemoteID: "file-a", Category: media.Photo, Size: 10},
		{Hash: "hash-b", RemoteID: "file-b", Category: media.Document, Size: 20},
	}
	if err := store.SaveAssets(saved); err != nil {
		t.Fatalf("SaveAssets error: %v", err)
	}

	loaded, err := store.LoadAssets()
	if err != nil {
		t.Fatalf("LoadAssets error: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("len(loaded) = %d, want 2", len(loaded))
	}
	if loaded[0].Hash != "hash-a" || loaded[0].RemoteID != "file-a" {
		t.Fatalf("loaded[0] = %#v", loaded[0])
	}
}

func mustStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	return store
}

func textPacked(text string) packer.PackedMessage {
	return packer.PackedMessage{Category: media.Text, Text: text}
}

func photoPacked(remoteID, groupID string, ordinal int) packer.PackedMessage {
	return packer.PackedMessage{
		Category: media.Photo,
		Content:  &packer.ContentRef{Kind: packer.RefRemote, RemoteID: remoteID},
		GroupID:  groupID,
		Ordinal:  ordinal,
	}
}
