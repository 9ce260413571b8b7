package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishRecordsDeliveries(t *testing.T) {
	t.Parallel()

	p := New()
	id, err := p.Publish(context.Background(), "curated-samples", map[string]string{"url": "https://a.example"})
	require.NoError(t, err)
	require.Equal(t, "local-1", id)

	id, err = p.Publish(context.Background(), "audits", "payload")
	require.NoError(t, err)
	require.Equal(t, "local-2", id)

	require.Len(t, p.Deliveries(), 2)

	curated := p.ByTopic("curated-samples")
	require.Len(t, curated, 1)
	require.Equal(t, "curated-samples", curated[0].Topic)
	require.Empty(t, p.ByTopic("missing"))
}
