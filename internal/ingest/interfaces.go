package ingest

import (
	"context"
	"io"
	"time"
)

// Fetcher executes one network fetch. Implementations must honor the ctx
// deadline; an expired deadline is reported as a soft-block-equivalent
// signal by the caller, not treated as a distinct error path.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// SoftBlockDetector decides whether a response looks like an
// anti-automation defense rather than real content.
type SoftBlockDetector interface {
	IsSoftBlock(resp FetchResponse) bool
	// NeedsRendering reports whether the block looks like a JS wall that a
	// headless fetch might pass.
	NeedsRendering(resp FetchResponse) bool
}

// BlobStore archives raw page snapshots.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher delivers curated samples to the labeling workflow.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator mints identifiers for pipeline cycles.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Hasher produces the stable digest stored as text_hash.
type Hasher interface {
	Hash(data []byte) (string, error)
}
