// Package service is the read and write API the client surfaces call.
// Reads go through the entity cache, writes through the mutation coordinator.
package service

import (
	"context"

	"bulletin/internal/blob"
	"bulletin/internal/channel"
	"bulletin/internal/models"
)

// Source reports the current channel.
type Source interface {
	Await(ctx context.Context) (channel.Snapshot, error)
	Snapshot() channel.Snapshot
}

// requireIdentity fails with ChannelUnavailable for the anonymous caller.
func requireIdentity(ctx context.Context, source Source, what string) (channel.Snapshot, error) {
	snap, err := source.Await(ctx)
	if err != nil {
		return snap, err
	}
	if snap.Identity.IsAnonymous() {
		return snap, models.NewChannelUnavailableError("sign in to " + what)
	}
	return snap, nil
}

// upload stores ref through uploader using the session of the current channel.
func upload(ctx context.Context, source Source, uploader blob.Uploader, ref *blob.Ref) (*blob.Ref, error) {
	if ref == nil || ref.Uploaded() {
		return ref, nil
	}
	if uploader == nil {
		return nil, models.NewValidationError("image uploads are not configured")
	}
	snap, err := requireIdentity(ctx, source, "upload images")
	if err != nil {
		return nil, err
	}
	stored, err := uploader.Upload(ctx, ref, snap.Channel.Token())
	if err != nil {
		return nil, models.NewTransientError(err)
	}
	return stored, nil
}
