package vault

import (
	"context"

	"packrat/pkg/packer"
)

// Replay re-sends one stored record to the target, widening to the whole
// album when the record is a member of one. Returns the number of messages
// dispatched.
func Replay(ctx context.Context, transport packer.Transport, store *Store, record Record, target packer.Target) (int, error) {
	if groupID := record.Packed.GroupID; groupID != "" {
		members := store.Group(groupID)
		if len(members) > 1 {
			batch := make([]packer.PackedMessage, 0, len(members))
			for _, member := range members {
				batch = append(batch, member.Packed)
			}
			if err := packer.UnpackGroup(ctx, transport, target, batch); err != nil {
				return 0, err
			}
			return len(batch), nil
		}
	}

	if err := packer.Unpack(ctx, transport, target, record.Packed); err != nil {
		return 0, err
	}

	return 1, nil
}
