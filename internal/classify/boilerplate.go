package classify

import (
	"context"
	"strings"

	"github.com/localnewslab/newsingest/internal/ingest"
)

// MinSegmentChars is the floor below which a segment is too short to
// analyze confidently. Callers drop shorter segments; IsBoilerplate only
// overrides the floor for the high-confidence categories below.
const MinSegmentChars = 150

// shareTokens are the social-share chrome words that appear as bare token
// runs ("Facebook Twitter WhatsApp SMS Email") in scraped pages.
var shareTokens = map[string]struct{}{
	"facebook":  {},
	"twitter":   {},
	"whatsapp":  {},
	"sms":       {},
	"email":     {},
	"linkedin":  {},
	"reddit":    {},
	"pinterest": {},
	"print":     {},
	"share":     {},
}

// chromePhrases are fixed high-confidence fragments: navigation chrome,
// subscription prompts, and legal footers.
var chromePhrases = []string{
	"back to top",
	"skip to content",
	"subscribe to our newsletter",
	"sign up for our newsletter",
	"all rights reserved",
}

const (
	repeatWindow = 12
	repeatCount  = 3
)

// BoilerplateDetector decides whether a text segment is non-editorial
// chrome. Cached patterns of kind boilerplate extend the built-in
// categories for segments above the length floor.
type BoilerplateDetector struct {
	cache      *Cache
	minSegment int
}

// NewBoilerplateDetector builds a detector. A non-positive minSegment uses
// MinSegmentChars.
func NewBoilerplateDetector(cache *Cache, minSegment int) *BoilerplateDetector {
	if minSegment <= 0 {
		minSegment = MinSegmentChars
	}
	return &BoilerplateDetector{cache: cache, minSegment: minSegment}
}

// MinSegment reports the active length floor.
func (d *BoilerplateDetector) MinSegment() int {
	return d.minSegment
}

// IsBoilerplate reports whether the segment is high-confidence boilerplate.
// Category matches apply at any length; below the floor nothing else does.
func (d *BoilerplateDetector) IsBoilerplate(ctx context.Context, source, segment string) bool {
	trimmed := strings.TrimSpace(segment)
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)

	for _, phrase := range chromePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	tokens := strings.Fields(lower)
	if isShareRun(tokens) || hasRepeatedToken(tokens) {
		return true
	}

	// Short segments that match no high-confidence category stay below the
	// analysis floor: the floor is a safety net, not bypassed for arbitrary
	// short text.
	if len(trimmed) < d.minSegment {
		return false
	}

	if d.cache != nil {
		for _, pattern := range d.cache.Get(ctx, source, ingest.PatternBoilerplate) {
			if pattern == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(pattern)) {
				return true
			}
		}
	}
	return false
}

// isShareRun detects token runs that are mostly social-share words.
func isShareRun(tokens []string) bool {
	if len(tokens) < 2 {
		return false
	}
	hits := 0
	for _, tok := range tokens {
		if _, ok := shareTokens[strings.Trim(tok, ".,;:!|")]; ok {
			hits++
		}
	}
	return hits >= 2 && hits*2 > len(tokens)
}

// hasRepeatedToken reports a single token recurring three or more times
// within a short span, characteristic of scraped menu chrome. Tokens under
// four characters are ignored; articles and prepositions recur that often
// in ordinary prose.
func hasRepeatedToken(tokens []string) bool {
	if len(tokens) < repeatCount {
		return false
	}
	for start := 0; start < len(tokens); start++ {
		end := start + repeatWindow
		if end > len(tokens) {
			end = len(tokens)
		}
		counts := make(map[string]int)
		for _, tok := range tokens[start:end] {
			tok = strings.Trim(tok, ".,;:!|")
			if len(tok) < 4 {
				continue
			}
			counts[tok]++
			if counts[tok] >= repeatCount {
				return true
			}
		}
		if end == len(tokens) {
			break
		}
	}
	return false
}
