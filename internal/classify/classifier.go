package classify

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/localnewslab/newsingest/internal/ingest"
)

// Classifier resolves content origin against cached rules. Resolution order
// is fixed: wire-service signature, then broadcaster callsign, then local.
type Classifier struct {
	cache *Cache
	// callsignDomains maps CALLSIGN -> registrable domain, scoped per source
	// so conflicting mappings never leak across sources.
	callsignDomains map[string]map[string]string
	logger          *zap.Logger
}

// NewClassifier builds a Classifier over the given pattern cache.
func NewClassifier(cache *Cache, callsignDomains map[string]map[string]string, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		cache:           cache,
		callsignDomains: callsignDomains,
		logger:          logger,
	}
}

// ClassifyOrigin decides whether text is locally authored, wire-service
// copy, or broadcaster content republished off the broadcaster's own domain.
// Absent any rule match, text defaults to local.
func (c *Classifier) ClassifyOrigin(ctx context.Context, text, rawURL, source string) ingest.Origin {
	lower := strings.ToLower(text)

	for _, sig := range c.cache.Get(ctx, source, ingest.PatternWireService) {
		if sig == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(sig)) {
			return ingest.OriginWireService
		}
	}

	for _, callsign := range c.cache.Get(ctx, source, ingest.PatternBroadcasterCall) {
		if callsign == "" || !containsToken(text, callsign) {
			continue
		}
		home, ok := c.callsignDomain(source, callsign)
		if !ok {
			c.logger.Debug("callsign without domain mapping",
				zap.String("source", source),
				zap.String("callsign", callsign),
			)
			continue
		}
		pageDomain, err := registrableDomain(rawURL)
		if err != nil {
			c.logger.Debug("unparseable article url", zap.String("url", rawURL), zap.Error(err))
			continue
		}
		if strings.EqualFold(pageDomain, home) {
			return ingest.OriginLocal
		}
		return ingest.OriginSyndicatedBroadcast
	}

	return ingest.OriginLocal
}

func (c *Classifier) callsignDomain(source, callsign string) (string, bool) {
	m, ok := c.callsignDomains[source]
	if !ok {
		return "", false
	}
	domain, ok := m[strings.ToUpper(callsign)]
	return domain, ok
}

// containsToken reports whether callsign appears in text as a standalone
// token. Callsigns are short and uppercase; a case-sensitive boundary match
// avoids hits inside ordinary words.
func containsToken(text, callsign string) bool {
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(callsign) + `\b`)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// registrableDomain extracts the eTLD+1 of a URL host.
func registrableDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(u.Hostname())
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", err
	}
	return domain, nil
}
