package packer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"packrat/pkg/media"
)

// Transport is the outbound surface Unpack dispatches through. Implementations
// own all platform I/O; failures are propagated to the caller unchanged.
type Transport interface {
	SendText(ctx context.Context, target Target, text string, spans []FormatSpan, markup json.RawMessage) error
	SendMedia(ctx context.Context, target Target, category media.Category, remoteID string, caption string, spans []FormatSpan, markup json.RawMessage) error
	SendGroup(ctx context.Context, target Target, items []GroupItem) error
}

// Unpack re-sends one packed message to the given target.
//
// Content must already be remote: Unpack never resolves local refs, it
// reports them as ErrUnresolvedAsset. Caption, spans, and markup pass
// through verbatim.
func Unpack(ctx context.Context, transport Transport, target Target, packed PackedMessage) error {
	if transport == nil {
		return fmt.Errorf("transport is required")
	}
	if err := packed.Validate(); err != nil {
		return err
	}

	switch packed.Category {
	case media.Text:
		return transport.SendText(ctx, target, packed.Text, packed.Spans, packed.ReplyMarkup)
	case media.Photo, media.Video, media.Audio, media.Voice, media.Animation, media.Document, media.Sticker:
		if packed.Content.Kind == RefLocal {
			return fmt.Errorf("%w: %s still points at %s", ErrUnresolvedAsset, packed.Category, packed.Content.LocalPath)
		}
		return transport.SendMedia(ctx, target, packed.Category, packed.Content.RemoteID, packed.Caption, packed.Spans, packed.ReplyMarkup)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedCategory, packed.Category)
	}
}

// UnpackGroup re-sends an album as one atomic multi-item call.
//
// Every member must share the same non-empty group id; the batch is ordered
// by ordinal before dispatch. A failure covers the whole group, there is no
// per-item partial delivery surface.
func UnpackGroup(ctx context.Context, transport Transport, target Target, batch []PackedMessage) error {
	if transport == nil {
		return fmt.Errorf("transport is required")
	}
	if len(batch) == 0 {
		return fmt.Errorf("%w: empty group", ErrMalformedMessage)
	}

	groupID := batch[0].GroupID
	if groupID == "" {
		return fmt.Errorf("%w: group member carries no group id", ErrMalformedMessage)
	}

	ordered := make([]PackedMessage, len(batch))
	copy(ordered, batch)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Ordinal < ordered[j].Ordinal
	})

	items := make([]GroupItem, 0, len(ordered))
	for _, packed := range ordered {
		if packed.GroupID != groupID {
			return fmt.Errorf("%w: mixed group ids %q and %q", ErrMalformedMessage, groupID, packed.GroupID)
		}
		if err := packed.Validate(); err != nil {
			return err
		}
		if packed.Category == media.Text {
			return fmt.Errorf("%w: text message inside media group %s", ErrMalformedMessage, groupID)
		}
		if packed.Content.Kind == RefLocal {
			return fmt.Errorf("%w: group member still points at %s", ErrUnresolvedAsset, packed.Content.LocalPath)
		}

		items = append(items, GroupItem{
			Category: packed.Category,
			RemoteID: packed.Content.RemoteID,
			Caption:  packed.Caption,
			Spans:    packed.Spans,
		})
	}

	return transport.SendGroup(ctx, target, items)
}
