// Package detector recognizes anti-automation defenses in fetch responses.
package detector

import (
	"bytes"
	"net/http"

	"github.com/localnewslab/newsingest/internal/ingest"
)

// Heuristic implements rule-based soft-block detection. A soft block is a
// page served instead of content when a site's defenses trigger; it is a
// pacing input, never an error.
type Heuristic struct {
	MinBodyBytes int
}

// NewHeuristic creates a detector. A zero threshold uses 512 bytes.
func NewHeuristic(minBodyBytes int) *Heuristic {
	if minBodyBytes == 0 {
		minBodyBytes = 512
	}
	return &Heuristic{MinBodyBytes: minBodyBytes}
}

var blockMarkers = [][]byte{
	[]byte("captcha"),
	[]byte("cf-challenge"),
	[]byte("challenge-platform"),
	[]byte("are you a robot"),
	[]byte("unusual traffic"),
	[]byte("access denied"),
	[]byte("please verify you are a human"),
}

var jsWallMarkers = [][]byte{
	[]byte("cf-challenge"),
	[]byte("challenge-platform"),
	[]byte("javascript is required"),
	[]byte("enable javascript"),
	[]byte("__next"),
	[]byte("data-reactroot"),
}

// IsSoftBlock reports whether the response looks like a defense page.
func (h *Heuristic) IsSoftBlock(resp ingest.FetchResponse) bool {
	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body := bytes.ToLower(resp.Body)
	if len(body) < h.MinBodyBytes {
		// Tiny 200 bodies are interstitials more often than articles.
		return containsAny(body, blockMarkers) || len(body) == 0
	}
	return containsAny(body, blockMarkers)
}

// NeedsRendering reports whether the block looks like a JS wall that a
// headless pass might clear.
func (h *Heuristic) NeedsRendering(resp ingest.FetchResponse) bool {
	return containsAny(bytes.ToLower(resp.Body), jsWallMarkers)
}

func containsAny(body []byte, markers [][]byte) bool {
	for _, marker := range markers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}
