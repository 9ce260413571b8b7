package headless

import (
	"context"
	"errors"

	"github.com/localnewslab/newsingest/internal/ingest"
)

// Noop stands in for the chromedp fetcher when headless browsing is
// disabled or failed to start. Escalation attempts fail and the probe
// result stands.
type Noop struct{}

// NewNoop returns a Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always reports that no renderer is available.
func (Noop) Fetch(_ context.Context, _ ingest.FetchRequest) (ingest.FetchResponse, error) {
	return ingest.FetchResponse{}, errors.New("headless fetcher not configured")
}
