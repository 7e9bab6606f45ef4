package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type update struct {
	ISO2Code string `json:"iso2_code"`
	Inserted int    `json:"inserted"`
}

func TestPublisherRecordsEncodedMessages(t *testing.T) {
	t.Parallel()

	pub := New("capital-forecast-crawler")
	ctx := context.Background()
	id1, err := pub.Publish(ctx, "forecast-updates", update{ISO2Code: "VN", Inserted: 3})
	require.NoError(t, err)
	id2, err := pub.Publish(ctx, "audit", "raw")
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, update{ISO2Code: "VN", Inserted: 3}, msgs[0].Payload)
	assert.Equal(t, "capital-forecast-crawler", msgs[0].Attributes["source"])

	var decoded update
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	assert.Equal(t, "VN", decoded.ISO2Code)

	require.Len(t, pub.On("forecast-updates"), 1)
	assert.Empty(t, pub.On("missing"))

	msgs[0].Topic = "modified"
	assert.Equal(t, "forecast-updates", pub.Messages()[0].Topic, "Messages returns a copy")
}

func TestPublisherRejectsUnencodablePayloads(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "forecast-updates", make(chan int))
	require.Error(t, err)
	assert.Empty(t, pub.Messages())
}

func TestPublisherHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub := New()
	_, err := pub.Publish(ctx, "forecast-updates", 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pub.Messages())
}
