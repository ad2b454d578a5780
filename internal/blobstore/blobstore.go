// Package blobstore persists generated peer configuration blobs and hands
// out short-lived download links. Backed by an S3-compatible object store
// in production and by an in-memory map in tests and single-process
// deployments.
package blobstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested blob does not exist.
var ErrNotFound = errors.New("blobstore: object not found")

// Store is the minimal object store surface the control plane needs.
type Store interface {
	// Put uploads the blob under key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get downloads the blob stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the blob under key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error

	// PresignedURL returns a time-limited download link for the blob.
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// PeerConfigKey is the object key under which a peer's configuration blob
// lives. One object per peer, replaced in place on peer updates.
func PeerConfigKey(peerID string) string {
	return "peers/" + peerID + "/config.vpn"
}
