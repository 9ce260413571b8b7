package classify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localnewslab/newsingest/internal/ingest"
)

func newTestClassifier(patterns map[ingest.PatternKind][]string, callsignDomains map[string]map[string]string) *Classifier {
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	cache := NewCache(&fakeStore{patterns: patterns}, clock, 5*time.Minute, nil)
	return NewClassifier(cache, callsignDomains, nil)
}

func TestClassifyWireServiceSignature(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(map[ingest.PatternKind][]string{
		ingest.PatternWireService: {"(AP)", "Reuters contributed"},
	}, nil)

	tests := []struct {
		name string
		text string
		want ingest.Origin
	}{
		{
			"exact signature",
			"WASHINGTON (AP) The measure passed the committee on Tuesday.",
			ingest.OriginWireService,
		},
		{
			"case insensitive",
			"washington (ap) the measure passed the committee on tuesday.",
			ingest.OriginWireService,
		},
		{
			"no signature",
			"The city council approved the new budget at Monday's meeting.",
			ingest.OriginLocal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := c.ClassifyOrigin(context.Background(), tt.text, "https://www.dailygazette.com/story", "gazette")
			require.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyBroadcasterCallsign(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(
		map[ingest.PatternKind][]string{
			ingest.PatternBroadcasterCall: {"KXYZ"},
		},
		map[string]map[string]string{
			"gazette": {"KXYZ": "kxyz.com"},
		},
	)

	text := "KXYZ reported that the storm closed three highways overnight."

	// Republished off the broadcaster's own domain: syndicated.
	got := c.ClassifyOrigin(context.Background(), text, "https://www.dailygazette.com/story", "gazette")
	require.Equal(t, ingest.OriginSyndicatedBroadcast, got)

	// On the broadcaster's own domain the callsign is just self-reference.
	got = c.ClassifyOrigin(context.Background(), text, "https://news.kxyz.com/story", "gazette")
	require.Equal(t, ingest.OriginLocal, got)
}

func TestCallsignRequiresTokenBoundary(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(
		map[ingest.PatternKind][]string{
			ingest.PatternBroadcasterCall: {"KXYZ"},
		},
		map[string]map[string]string{
			"gazette": {"KXYZ": "kxyz.com"},
		},
	)

	// Embedded in a longer token: no match.
	got := c.ClassifyOrigin(context.Background(),
		"The KXYZFoundation funded the project.",
		"https://www.dailygazette.com/story", "gazette")
	require.Equal(t, ingest.OriginLocal, got)

	// Lowercase variant: callsign matching is case sensitive.
	got = c.ClassifyOrigin(context.Background(),
		"The kxyz staff did not respond.",
		"https://www.dailygazette.com/story", "gazette")
	require.Equal(t, ingest.OriginLocal, got)
}

func TestCallsignWithoutDomainMappingIsSkipped(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(map[ingest.PatternKind][]string{
		ingest.PatternBroadcasterCall: {"KXYZ"},
	}, nil)

	got := c.ClassifyOrigin(context.Background(),
		"KXYZ reported that the storm closed three highways overnight.",
		"https://www.dailygazette.com/story", "gazette")
	require.Equal(t, ingest.OriginLocal, got)
}

func TestWireServiceTakesPrecedenceOverCallsign(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(
		map[ingest.PatternKind][]string{
			ingest.PatternWireService:     {"(AP)"},
			ingest.PatternBroadcasterCall: {"KXYZ"},
		},
		map[string]map[string]string{
			"gazette": {"KXYZ": "kxyz.com"},
		},
	)

	got := c.ClassifyOrigin(context.Background(),
		"(AP) KXYZ viewers saw the press conference live.",
		"https://www.dailygazette.com/story", "gazette")
	require.Equal(t, ingest.OriginWireService, got)
}

func TestClassifyDefaultsToLocal(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(nil, nil)
	got := c.ClassifyOrigin(context.Background(),
		"The school board voted to extend the academic year.",
		"https://www.dailygazette.com/story", "gazette")
	require.Equal(t, ingest.OriginLocal, got)
}
