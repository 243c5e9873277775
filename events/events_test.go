package events_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/quote-ledger/events"
)

func TestRecorder_KeepsOrder(t *testing.T) {
	r := &events.Recorder{}
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx, events.TopicRestockOrdered, "A4 paper", events.RestockEvent{ItemName: "A4 paper"}))
	require.NoError(t, r.Publish(ctx, events.TopicOrderFulfilled, "o-1", events.OrderEvent{OrderID: "o-1"}))

	assert.Equal(t, []string{events.TopicRestockOrdered, events.TopicOrderFulfilled}, r.Topics())
	assert.Equal(t, "o-1", r.Records()[1].Key)
}

func TestLog_WritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	p := events.NewLog(logger)
	err := p.Publish(context.Background(), events.TopicOrderRejected, "o-9", events.OrderEvent{OrderID: "o-9", Status: "rejected"})
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, events.TopicOrderRejected, entry["topic"])
	assert.Equal(t, "o-9", entry["key"])
	assert.Equal(t, "events", entry["component"])
}

// Set TEST_KAFKA_BROKERS (comma separated) to run against a real broker.
func TestKafka_Publish(t *testing.T) {
	brokers := os.Getenv("TEST_KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("TEST_KAFKA_BROKERS not set")
	}
	p := events.NewKafka(strings.Split(brokers, ","))
	t.Cleanup(func() { p.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := p.Publish(ctx, events.TopicRestockOrdered, "A4 paper", events.RestockEvent{ItemName: "A4 paper", Quantity: 200})
	assert.NoError(t, err)
}
