package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"packrat/pkg/assetcache"
	"packrat/pkg/bus"
	"packrat/pkg/channel"
	"packrat/pkg/config"
	"packrat/pkg/media"
	"packrat/pkg/packer"
)

type fakeTransport struct {
	mu sync.Mutex

	healthErr error
	sendErr   error

	sentTexts  []string
	sentMedia  []string
	sentGroups [][]string
	uploads    int
}

func (f *fakeTransport) Health(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *fakeTransport) setHealthErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthErr = err
}

func (f *fakeTransport) SendText(_ context.Context, _ packer.Target, text string, _ []packer.FormatSpan, _ json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentTexts = append(f.sentTexts, text)
	return nil
}

func (f *fakeTransport) SendMedia(_ context.Context, _ packer.Target, _ media.Category, remoteID string, _ string, _ []packer.FormatSpan, _ json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentMedia = append(f.sentMedia, remoteID)
	return nil
}

func (f *fakeTransport) SendGroup(_ context.Context, _ packer.Target, items []packer.GroupItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	remoteIDs := make([]string, 0, len(items))
	for _, item := range items {
		remoteIDs = append(remoteIDs, item.RemoteID)
	}
	f.sentGroups = append(f.sentGroups, remoteIDs)
	return nil
}

func (f *fakeTransport) Upload(_ context.Context, _ media.Category, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	return "uploaded:" + path, nil
}

func (f *fakeTransport) snapshot() ([]string, []string, [][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	texts := make([]string, len(f.sentTexts))
	copy(texts, f.sentTexts)
	mediaIDs := make([]string, len(f.sentMedia))
	copy(mediaIDs, f.sentMedia)
	groups := make([][]string, len(f.sentGroups))
	copy(groups, f.sentGroups)
	return texts, mediaIDs, groups
}

type idleAdapter struct{ name string }

func (a *idleAdapter) Name() string { return a.name }

func (a *idleAdapter) Run(ctx context.Context, _ channel.Handler) error {
	<-ctx.Done()
	return nil
}

func newTestService(t *testing.T, transport *fakeTransport) *Service {
	t.Helper()

	store, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	cfg := &config.Config{}
	cache := assetcache.New(transport, slog.Default())
	svc, err := NewService(cfg, transport, store, cache, []channel.Adapter{&idleAdapter{name: "telegram"}}, slog.Default())
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}

	return svc
}

func inboundPacked(packed packer.PackedMessage) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:  "telegram",
		SenderID: "7",
		ChatID:   "100",
		Packed:   &packed,
	}
}

func inboundCommand(command, args string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:     "telegram",
		SenderID:    "7",
		ChatID:      "100",
		Command:     command,
		CommandArgs: args,
	}
}

func TestServiceArchivesSingleMessageWithAck(t *testing.T) {
	svc := newTestService(t, &fakeTransport{})

	out, err := svc.handleInbound(context.Background(), inboundPacked(textPacked("keep this")))
	if err != nil {
		t.Fatalf("handleInbound error: %v", err)
	}

	if svc.store.Len() != 1 {
		t.Fatalf("store.Len() = %d, want 1", svc.store.Len())
	}
	record := svc.store.List(1)[0]
	if record.Packed.Text != "keep this" || record.Channel != "telegram" {
		t.Fatalf("stored record = %#v", record)
	}

	if !strings.Contains(out.Content, "Archived text as "+record.ShortID()) {
		t.Fatalf("ack = %q, want mention of %q", out.Content, record.ShortID())
	}
	if out.Metadata["record_id"] != record.ID {
		t.Fatalf("ack metadata = %#v", out.Metadata)
	}
}

func TestServiceRejectsEmptyInbound(t *testing.T) {
	svc := newTestService(t, &fakeTransport{})

	_, err := svc.handleInbound(context.Background(), bus.InboundMessage{Channel: "telegram", ChatID: "100"})
	if !errors.Is(err, packer.ErrMalformedMessage) {
		t.Fatalf("handleInbound error = %v, want ErrMalformedMessage", err)
	}
	if svc.store.Len() != 0 {
		t.Fatalf("store.Len() = %d, want 0", svc.store.Len())
	}
}

func TestServiceReplayCommandResendsStoredRecord(t *testing.T) {
	transport := &fakeTransport{}
	svc := newTestService(t, transport)

	record := Record{ID: "abcd1234", Channel: "telegram", ChatID: "100", Packed: packer.PackedMessage{
		Category: media.Photo,
		Content:  &packer.ContentRef{Kind: packer.RefRemote, RemoteID: "photo-file-id"},
		Caption:  "sunset",
	}}
	if err := svc.store.Save(record); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	out, err := svc.handleInbound(context.Background(), inboundCommand("replay", "abcd"))
	if err != nil {
		t.Fatalf("handleInbound error: %v", err)
	}

	_, sentMedia, _ := transport.snapshot()
	if len(sentMedia) != 1 || sentMedia[0] != "photo-file-id" {
		t.Fatalf("sentMedia = %v, want [photo-file-id]", sentMedia)
	}
	if !strings.Contains(out.Content, "Replayed abcd1234") {
		t.Fatalf("reply = %q", out.Content)
	}
}

func TestServiceReplayWidensToWholeAlbum(t *testing.T) {
	transport := &fakeTransport{}
	svc := newTestService(t, transport)

	members := []Record{
		{ID: "albm0000", ChatID: "100", Packed: photoPacked("file-0", "album-1", 0)},
		{ID: "albm1111", ChatID: "100", Packed: photoPacked("file-1", "album-1", 1)},
	}
	if err := svc.store.SaveGroup(members); err != nil {
		t.Fatalf("SaveGroup error: %v", err)
	}

	out, err := svc.handleInbound(context.Background(), inboundCommand("replay", "albm1111"))
	if err != nil {
		t.Fatalf("handleInbound error: %v", err)
	}

	_, sentMedia, sentGroups := transport.snapshot()
	if len(sentMedia) != 0 {
		t.Fatalf("sentMedia = %v, want none", sentMedia)
	}
	if len(sentGroups) != 1 || len(sentGroups[0]) != 2 {
		t.Fatalf("sentGroups = %v, want one group of 2", sentGroups)
	}
	if sentGroups[0][0] != "file-0" || sentGroups[0][1] != "file-1" {
		t.Fatalf("group order = %v", sentGroups[0])
	}
	if !strings.Contains(out.Content, "album") || !strings.Contains(out.Content, "2 items") {
		t.Fatalf("reply = %q", out.Content)
	}
}

func TestServiceReplayUnknownRecordRepliesWithError(t *testing.T) {
	svc := newTestService(t, &fakeTransport{})

	out, err := svc.handleInbound(context.Background(), inboundCommand("replay", "ffff0000"))
	if err != nil {
		t.Fatalf("handleInbound error: %v", err)
	}
	if !strings.Contains(out.Error, "record not found") {
		t.Fatalf("outbound error = %q, want record not found", out.Error)
	}
}

func TestServiceReplayFailureKeepsRecord(t *testing.T) {
	transport := &fakeTransport{sendErr: fmt.Errorf("telegram unavailable")}
	svc := newTestService(t, transport)

	record := Record{ID: "keep1234", ChatID: "100", Packed: textPacked("still here")}
	if err := svc.store.Save(record); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	out, err := svc.handleInbound(context.Background(), inboundCommand("replay", "keep1234"))
	if err != nil {
		t.Fatalf("handleInbound error: %v", err)
	}
	if !strings.Contains(out.Error, "telegram unavailable") {
		t.Fatalf("outbound error = %q", out.Error)
	}
	if _, ok := svc.store.Get("keep1234"); !ok {
		t.Fatal("record lost after failed replay")
	}
}

func TestServiceAlbumFlowBuffersSilentlyThenAcks(t *testing.T) {
	transport := &fakeTransport{}
	svc := newTestService(t, transport)

	collector, err := NewCollector(40*time.Millisecond, svc.archiveGroup, nil)
	if err != nil {
		t.Fatalf("NewCollector error: %v", err)
	}
	svc.collector = collector
	defer collector.Close()

	for _, remoteID := range []string{"file-0", "file-1", "file-2"} {
		out, err := svc.handleInbound(context.Background(), inboundPacked(photoPacked(remoteID, "album-1", 0)))
		if err != nil {
			t.Fatalf("handleInbound(%s) error: %v", remoteID, err)
		}
		if out.Content != "" || out.Error != "" {
			t.Fatalf("album member got an immediate reply: %#v", out)
		}
	}

	if svc.store.Len() != 0 {
		t.Fatalf("store.Len() = %d before flush, want 0", svc.store.Len())
	}

	waitFor(t, 2*time.Second, func() bool { return svc.store.Len() == 3 })

	group := svc.store.Group("album-1")
	if len(group) != 3 {
		t.Fatalf("len(group) = %d, want 3", len(group))
	}
	for i, member := range group {
		if member.Packed.Ordinal != i {
			t.Fatalf("group[%d].Ordinal = %d, want %d", i, member.Packed.Ordinal, i)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		texts, _, _ := transport.snapshot()
		return len(texts) == 1
	})
	texts, _, _ := transport.snapshot()
	if !strings.Contains(texts[0], "album (3 items)") {
		t.Fatalf("album ack = %q", texts[0])
	}
}

func TestServiceLateAlbumMemberExtendsStoredGroup(t *testing.T) {
	svc := newTestService(t, &fakeTransport{})

	svc.archiveGroup(CompletedGroup{
		GroupID: "album-1",
		Channel: "telegram",
		ChatID:  "100",
		Packed: []packer.PackedMessage{
			photoPacked("file-0", "album-1", 0),
			photoPacked("file-1", "album-1", 1),
		},
	})
	svc.archiveGroup(CompletedGroup{
		GroupID: "album-1",
		Channel: "telegram",
		ChatID:  "100",
		Packed: []packer.PackedMessage{
			photoPacked("file-2", "album-1", 0),
		},
	})

	group := svc.store.Group("album-1")
	if len(group) != 3 {
		t.Fatalf("len(group) = %d, want 3", len(group))
	}
	for i, member := range group {
		if member.Packed.Ordinal != i {
			t.Fatalf("group[%d].Ordinal = %d, want %d", i, member.Packed.Ordinal, i)
		}
	}
	if group[2].Packed.Content.RemoteID != "file-2" {
		t.Fatalf("late member = %q, want file-2", group[2].Packed.Content.RemoteID)
	}
}

func TestServiceListCommand(t *testing.T) {
	svc := newTestService(t, &fakeTransport{})

	out, err := svc.handleInbound(context.Background(), inboundCommand("list", ""))
	if err != nil {
		t.Fatalf("handleInbound error: %v", err)
	}
	if !strings.Contains(out.Content, "vault is empty") {
		t.Fatalf("empty list reply = %q", out.Content)
	}

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		record := Record{
			ID:         fmt.Sprintf("lst%d0000", i),
			Channel:    "telegram",
			CapturedAt: base.Add(time.Duration(i) * time.Minute),
			Packed:     textPacked(fmt.Sprintf("note %d", i)),
		}
		if err := svc.store.Save(record); err != nil {
			t.Fatalf("Save error: %v", err)
		}
	}

	out, err = svc.handleInbound(context.Background(), inboundCommand("list", "2"))
	if err != nil {
		t.Fatalf("handleInbound error: %v", err)
	}
	if !strings.Contains(out.Content, "Last 2 of 3 records") {
		t.Fatalf("list header = %q", out.Content)
	}
	if !strings.Contains(out.Content, "lst20000") || strings.Contains(out.Content, "lst00000") {
		t.Fatalf("list body = %q", out.Content)
	}
	if !strings.Contains(out.Content, "note 2") {
		t.Fatalf("list preview missing: %q", out.Content)
	}
}

func TestServiceStatsCommand(t *testing.T) {
	svc := newTestService(t, &fakeTransport{})

	if err := svc.store.Save(Record{ID: "stat0000", Packed: textPacked("counted")}); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	out, err := svc.handleInbound(context.Background(), inboundCommand("stats", ""))
	if err != nil {
		t.Fatalf("handleInbound error: %v", err)
	}
	if !strings.Contains(out.Content, "1 records") {
		t.Fatalf("stats reply = %q", out.Content)
	}
}

func TestServiceHelpAndUnknownCommands(t *testing.T) {
	svc := newTestService(t, &fakeTransport{})

	for _, command := range []string{"help", "start"} {
		out, err := svc.handleInbound(context.Background(), inboundCommand(command, ""))
		if err != nil {
			t.Fatalf("handleInbound(%s) error: %v", command, err)
		}
		if !strings.Contains(out.Content, "/replay") {
			t.Fatalf("%s reply = %q, want command overview", command, out.Content)
		}
	}

	out, err := svc.handleInbound(context.Background(), inboundCommand("bogus", ""))
	if err != nil {
		t.Fatalf("handleInbound error: %v", err)
	}
	if !strings.Contains(out.Content, "Unknown command /bogus") {
		t.Fatalf("unknown command reply = %q", out.Content)
	}
}

func TestServicePreviewForListCollapsesAndTruncates(t *testing.T) {
	collapsed := previewForList("line one\nline   two")
	if collapsed != "line one line two" {
		t.Fatalf("previewForList = %q", collapsed)
	}

	long := strings.Repeat("x", listPreviewLimit+10)
	truncated := previewForList(long)
	if len(truncated) != listPreviewLimit+3 || !strings.HasSuffix(truncated, "...") {
		t.Fatalf("truncated preview = %q (len %d)", truncated, len(truncated))
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
