package chathub

import (
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"fmt"
)

// MessageLinkGraph maps relayed messages to their counterparts in both
// directions. Links are insert-only.
type MessageLinkGraph struct {
	archive storage.ChatArchive
}

// NewMessageLinkGraph wraps the archive that stores the links.
func NewMessageLinkGraph(archive storage.ChatArchive) *MessageLinkGraph {
	return &MessageLinkGraph{archive: archive}
}

// Link records that source was delivered as dest, and the reverse.
func (g *MessageLinkGraph) Link(ctx context.Context, source, dest models.MessageRef) error {
	if err := g.archive.InsertMessageLink(ctx, models.NewMessageLink(source, dest)); err != nil {
		return fmt.Errorf("link forward: %w", err)
	}
	if err := g.archive.InsertMessageLink(ctx, models.NewMessageLink(dest, source)); err != nil {
		return fmt.Errorf("link reverse: %w", err)
	}
	return nil
}

// Resolve returns the counterpart of source, or nil when there is none.
func (g *MessageLinkGraph) Resolve(ctx context.Context, source models.MessageRef) (*models.MessageRef, error) {
	return g.archive.LookupMessageLink(ctx, source)
}
