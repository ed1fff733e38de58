package vault

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"packrat/pkg/assetcache"
	"packrat/pkg/bus"
	"packrat/pkg/channel"
	"packrat/pkg/config"
	"packrat/pkg/packer"
)

const (
	defaultHealthHost = "0.0.0.0"
	defaultHealthPort = 18820

	transportCheckInterval = 30 * time.Second
	assetSnapshotInterval  = time.Minute

	defaultListLimit = 10
	maxListLimit     = 50
)

//go:embed help.md
var helpMessage string

// Transport is the outbound platform surface the vault replays through.
type Transport interface {
	packer.Transport
	Health(ctx context.Context) error
}

// Service runs the capture side of the vault: it supervises channel
// adapters, archives every inbound message, assembles albums, answers chat
// commands, and serves health/readiness status over HTTP.
type Service struct {
	cfg       *config.Config
	log       *slog.Logger
	transport Transport
	store     *Store
	cache     *assetcache.Cache
	collector *Collector
	events    *bus.EventBus
	channels  []channel.Adapter

	mu                sync.RWMutex
	startedAt         time.Time
	transportLastOKAt time.Time
	transportLastErr  string
	channelStates     map[string]channelState
	eventCounts       map[bus.EventType]uint64
	savedAssets       int
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status            string                  `json:"status"`
	UptimeSeconds     int64                   `json:"uptime_seconds"`
	TransportLastOKAt string                  `json:"transport_last_ok_at,omitempty"`
	TransportLastErr  string                  `json:"transport_last_error,omitempty"`
	Records           int                     `json:"records"`
	CachedAssets      int                     `json:"cached_assets"`
	PendingAlbums     int                     `json:"pending_albums"`
	Events            map[string]uint64       `json:"events,omitempty"`
	Channels          map[string]channelState `json:"channels"`
}

// NewService wires the capture runtime from explicitly owned collaborators.
func NewService(cfg *config.Config, transport Transport, store *Store, cache *assetcache.Cache, adapters []channel.Adapter, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if cache == nil {
		return nil, errors.New("asset cache is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		channelStates[adapter.Name()] = channelState{}
	}

	service := &Service{
		cfg:           cfg,
		log:           log.With("component", "vault.service"),
		transport:     transport,
		store:         store,
		cache:         cache,
		events:        bus.NewEventBus(),
		channels:      adapters,
		channelStates: channelStates,
		eventCounts:   make(map[bus.EventType]uint64),
	}

	window := time.Duration(cfg.Vault.GroupWindowSeconds) * time.Second
	collector, err := NewCollector(window, service.archiveGroup, log)
	if err != nil {
		return nil, err
	}
	service.collector = collector

	return service, nil
}

// Run starts the capture runtime and blocks until the context is cancelled
// or a component fails. Pending albums are flushed and the asset snapshot
// is written before Run returns.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	s.restoreAssets()

	if err := s.checkTransportHealth(ctx); err != nil {
		return err
	}

	observerCtx, stopObserver := context.WithCancel(context.Background())
	defer stopObserver()
	go s.observeEvents(observerCtx)

	serverErrors := make(chan error, 1)
	go s.runStatusServer(ctx, serverErrors)

	healthTicker := time.NewTicker(transportCheckInterval)
	defer healthTicker.Stop()
	snapshotTicker := time.NewTicker(assetSnapshotInterval)
	defer snapshotTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-healthTicker.C:
				_ = s.checkTransportHealth(ctx)
			case <-snapshotTicker.C:
				s.persistAssets(false)
			}
		}
	}()

	errCh := make(chan error, len(s.channels))
	for _, adapter := range s.channels {
		adapter := adapter
		s.setChannelState(adapter.Name(), channelState{Running: true})

		go func() {
			err := adapter.Run(ctx, s.handleInbound)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErrors:
		runErr = err
	case err := <-errCh:
		runErr = err
	}

	s.collector.Close()
	s.persistAssets(true)
	s.events.Close()

	return runErr
}

// handleInbound is the shared channel handler: control commands are
// answered, album members are buffered, everything else is archived
// immediately.
func (s *Service) handleInbound(ctx context.Context, inbound bus.InboundMessage) (bus.OutboundMessage, error) {
	if inbound.Command != "" {
		return s.handleCommand(ctx, inbound)
	}

	if inbound.Packed == nil {
		err := fmt.Errorf("%w: inbound message carries neither content nor command", packer.ErrMalformedMessage)
		return s.outbound(inbound, "", err), err
	}

	if inbound.Packed.GroupID != "" {
		if err := s.collector.Add(inbound.Channel, inbound.ChatID, inbound.SenderID, *inbound.Packed); err != nil {
			return s.outbound(inbound, "", err), err
		}
		// Stay silent until the album settles; the flush acks the group.
		return s.outbound(inbound, "", nil), nil
	}

	record := NewRecord(inbound.Channel, inbound.ChatID, inbound.SenderID, *inbound.Packed)
	if err := s.store.Save(record); err != nil {
		return s.outbound(inbound, "", err), err
	}

	s.events.PublishEvent(ctx, bus.Event{
		Type:     bus.EventRecordStored,
		Channel:  inbound.Channel,
		ChatID:   inbound.ChatID,
		RecordID: record.ID,
		Category: string(record.Packed.Category),
	})

	reply := fmt.Sprintf("Archived %s as %s. Send /replay %s to re-send it.", record.Packed.Category, record.ShortID(), record.ShortID())
	out := s.outbound(inbound, reply, nil)
	out.Metadata = map[string]string{
		"record_id": record.ID,
		"category":  string(record.Packed.Category),
	}

	return out, nil
}

func (s *Service) handleCommand(ctx context.Context, inbound bus.InboundMessage) (bus.OutboundMessage, error) {
	switch inbound.Command {
	case "start", "help":
		return s.outbound(inbound, strings.TrimSpace(helpMessage), nil), nil
	case "list":
		return s.outbound(inbound, s.renderList(inbound.CommandArgs), nil), nil
	case "stats":
		reply := fmt.Sprintf("Vault: %d records, %d cached assets, %d pending albums.", s.store.Len(), s.cache.Len(), s.collector.Pending())
		return s.outbound(inbound, reply, nil), nil
	case "replay":
		return s.handleReplay(ctx, inbound)
	default:
		return s.outbound(inbound, fmt.Sprintf("Unknown command /%s. Try /help.", inbound.Command), nil), nil
	}
}

// handleReplay re-sends a stored record into the chat the command came
// from. A record that belongs to an album replays the whole album.
func (s *Service) handleReplay(ctx context.Context, inbound bus.InboundMessage) (bus.OutboundMessage, error) {
	idArg := strings.TrimSpace(inbound.CommandArgs)
	if idArg == "" {
		return s.outbound(inbound, "Usage: /replay <record id>", nil), nil
	}

	record, err := s.store.Find(idArg)
	if err != nil {
		return s.outbound(inbound, "", err), nil
	}

	target, err := chatTarget(inbound.ChatID)
	if err != nil {
		return s.outbound(inbound, "", err), nil
	}

	sent, err := Replay(ctx, s.transport, s.store, record, target)
	if err != nil {
		s.events.PublishEvent(ctx, bus.Event{
			Type:     bus.EventReplayFailed,
			Channel:  inbound.Channel,
			ChatID:   inbound.ChatID,
			RecordID: record.ID,
			Category: string(record.Packed.Category),
			Error:    err.Error(),
		})
		return s.outbound(inbound, "", fmt.Errorf("replay %s: %w", record.ShortID(), err)), nil
	}

	s.events.PublishEvent(ctx, bus.Event{
		Type:     bus.EventReplaySent,
		Channel:  inbound.Channel,
		ChatID:   inbound.ChatID,
		RecordID: record.ID,
		Category: string(record.Packed.Category),
		Payload:  map[string]string{"items": strconv.Itoa(sent)},
	})

	if sent > 1 {
		return s.outbound(inbound, fmt.Sprintf("Replayed album %s (%d items).", record.ShortID(), sent), nil), nil
	}

	return s.outbound(inbound, fmt.Sprintf("Replayed %s.", record.ShortID()), nil), nil
}

// renderList formats the newest records for a chat reply.
func (s *Service) renderList(args string) string {
	limit := defaultListLimit
	if trimmed := strings.TrimSpace(args); trimmed != "" {
		if n, err := strconv.Atoi(trimmed); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	records := s.store.List(limit)
	if len(records) == 0 {
		return "The vault is empty. Send any message to archive it."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Last %d of %d records:\n", len(records), s.store.Len())
	for _, record := range records {
		line := fmt.Sprintf("%s  %-9s", record.ShortID(), record.Packed.Category)
		if preview := record.Preview(); preview != "" {
			line += "  " + previewForList(preview)
		}
		if record.Packed.GroupID != "" {
			line += "  [album]"
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("Replay one with /replay <id>.")

	return b.String()
}

const listPreviewLimit = 48

func previewForList(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if len(collapsed) <= listPreviewLimit {
		return collapsed
	}

	return collapsed[:listPreviewLimit] + "..."
}

// archiveGroup is the collector's flush callback: it stores the settled
// album and acks it in the originating chat. It runs detached from any
// inbound request, so it uses a background context.
func (s *Service) archiveGroup(group CompletedGroup) {
	ctx := context.Background()

	// A straggler that arrives after its album settled starts a second
	// batch; offsetting by the stored member count keeps ordinals
	// contiguous across both.
	base := len(s.store.Group(group.GroupID))

	records := make([]Record, 0, len(group.Packed))
	for _, packed := range group.Packed {
		packed.Ordinal += base
		records = append(records, NewRecord(group.Channel, group.ChatID, group.SenderID, packed))
	}

	if err := s.store.SaveGroup(records); err != nil {
		s.log.Error("Failed to archive album", "group_id", group.GroupID, "error", err)
		s.events.PublishEvent(ctx, bus.Event{
			Type:    bus.EventReplayFailed,
			Channel: group.Channel,
			ChatID:  group.ChatID,
			Error:   err.Error(),
			Payload: map[string]string{"group_id": group.GroupID},
		})
		return
	}

	s.events.PublishEvent(ctx, bus.Event{
		Type:     bus.EventGroupStored,
		Channel:  group.Channel,
		ChatID:   group.ChatID,
		RecordID: records[0].ID,
		Category: string(records[0].Packed.Category),
		Payload: map[string]string{
			"group_id": group.GroupID,
			"items":    strconv.Itoa(len(records)),
		},
	})

	target, err := chatTarget(group.ChatID)
	if err != nil {
		s.log.Debug("Skipping album ack for unaddressable chat", "chat_id", group.ChatID)
		return
	}

	ack := fmt.Sprintf("Archived album (%d items) as %s. Send /replay %s to re-send it.", len(records), records[0].ShortID(), records[0].ShortID())
	if err := s.transport.SendText(ctx, target, ack, nil, nil); err != nil {
		s.log.Warn("Failed to ack archived album", "group_id", group.GroupID, "error", err)
	}
}

// observeEvents consumes the service's own event stream, keeping counters
// for the status endpoint and logging every archive lifecycle event with a
// stable attribute set.
func (s *Service) observeEvents(ctx context.Context) {
	events, unsubscribe := s.events.SubscribeEvents(ctx, 32)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}

			s.mu.Lock()
			s.eventCounts[event.Type]++
			s.mu.Unlock()

			attrs := []any{
				"event_type", string(event.Type),
				"channel", event.Channel,
				"chat_id", event.ChatID,
				"record_id", ShortID(event.RecordID),
			}
			if len(event.Payload) > 0 {
				attrs = append(attrs, "payload", event.Payload)
			}

			switch event.Type {
			case bus.EventReplayFailed:
				s.log.Error("Replay failed", append(attrs, "error", event.Error)...)
			case bus.EventRecordStored, bus.EventGroupStored, bus.EventReplaySent:
				s.log.Info("Vault event", attrs...)
			default:
				s.log.Debug("Vault event", attrs...)
			}
		}
	}
}

// Events exposes the service event stream for additional subscribers.
func (s *Service) Events() *bus.EventBus {
	return s.events
}

// restoreAssets loads the persisted asset snapshot into the cache.
func (s *Service) restoreAssets() {
	assets, err := s.store.LoadAssets()
	if err != nil {
		s.log.Warn("Failed to load asset snapshot", "error", err)
		return
	}
	if len(assets) == 0 {
		return
	}

	s.cache.Restore(assets)

	s.mu.Lock()
	s.savedAssets = s.cache.Len()
	s.mu.Unlock()

	s.log.Info("Asset cache restored from vault", "assets", s.cache.Len())
}

// persistAssets writes the asset snapshot when it changed since the last
// write, or unconditionally on shutdown.
func (s *Service) persistAssets(force bool) {
	size := s.cache.Len()

	s.mu.Lock()
	changed := size != s.savedAssets
	s.mu.Unlock()

	if !force && !changed {
		return
	}

	if err := s.store.SaveAssets(s.cache.Snapshot()); err != nil {
		s.log.Warn("Failed to persist asset snapshot", "error", err)
		return
	}

	s.mu.Lock()
	s.savedAssets = size
	s.mu.Unlock()
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Vault status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	events := make(map[string]uint64, len(s.eventCounts))
	for eventType, count := range s.eventCounts {
		events[string(eventType)] = count
	}

	transportLastOK := ""
	if !s.transportLastOKAt.IsZero() {
		transportLastOK = s.transportLastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:            status,
		UptimeSeconds:     uptime,
		TransportLastOKAt: transportLastOK,
		TransportLastErr:  s.transportLastErr,
		Records:           s.store.Len(),
		CachedAssets:      s.cache.Len(),
		PendingAlbums:     s.collector.Pending(),
		Events:            events,
		Channels:          channels,
	}
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}
	if !anyRunning {
		return false
	}

	if s.transportLastOKAt.IsZero() {
		return false
	}

	return s.transportLastErr == ""
}

func (s *Service) checkTransportHealth(ctx context.Context) error {
	if err := s.transport.Health(ctx); err != nil {
		s.mu.Lock()
		s.transportLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("transport health check failed: %w", err)
	}

	s.mu.Lock()
	s.transportLastErr = ""
	s.transportLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

// outbound builds the reply envelope for an inbound message.
func (s *Service) outbound(inbound bus.InboundMessage, content string, err error) bus.OutboundMessage {
	out := bus.OutboundMessage{
		Channel: inbound.Channel,
		ChatID:  inbound.ChatID,
		Content: content,
	}
	if err != nil {
		out.Error = err.Error()
	}

	return out
}

// chatTarget converts a channel-level chat id into a dispatch target.
func chatTarget(chatID string) (packer.Target, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return packer.Target{}, fmt.Errorf("chat id %q is not addressable", chatID)
	}

	return packer.Target{ChatID: id}, nil
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
