package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeWriter struct {
	written []kafka.Message
	err     error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	messages chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
}

func newFakeReader() *fakeReader {
	return &fakeReader{messages: make(chan kafka.Message, 16)}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-r.messages:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func recordMessage(t *testing.T, offset int64, rec models.SourceRecord) kafka.Message {
	t.Helper()
	value, err := json.Marshal(rec)
	require.NoError(t, err)
	return kafka.Message{Topic: "donor-source-records", Offset: offset, Value: value, Time: time.Unix(1700000000, 0)}
}

func TestProducer(t *testing.T) {
	t.Run("should key events by entity id and tag headers", func(t *testing.T) {
		writer := &fakeWriter{}
		producer := newProducer(writer, "donor-entity-events", testLogger())

		err := producer.PublishEntityEvents(context.Background(), []*EntityEvent{
			{EventType: "entity.created", SchemaVersion: "1.0", DatasetKey: "donors", EntityID: "e-1"},
			{EventType: "entity.tombstoned", SchemaVersion: "1.0", DatasetKey: "donors", EntityID: "e-2", ForwardedTo: "e-1"},
		})
		require.NoError(t, err)
		require.Len(t, writer.written, 2)

		msg := writer.written[1]
		assert.Equal(t, "e-2", string(msg.Key))
		assert.Equal(t, "donor-entity-events", msg.Topic)
		headers := toIncoming(msg).Headers
		assert.Equal(t, "entity.tombstoned", headers[HeaderEventType])
		assert.Equal(t, "donors", headers[HeaderDatasetKey])

		var decoded EntityEvent
		require.NoError(t, json.Unmarshal(msg.Value, &decoded))
		assert.Equal(t, "e-1", decoded.ForwardedTo)
		assert.False(t, decoded.Timestamp.IsZero())
	})

	t.Run("should skip empty batches", func(t *testing.T) {
		writer := &fakeWriter{err: errors.New("broker down")}
		producer := newProducer(writer, "events", testLogger())
		assert.NoError(t, producer.PublishEntityEvents(context.Background(), nil))
	})

	t.Run("should return write failures", func(t *testing.T) {
		writer := &fakeWriter{err: errors.New("broker down")}
		producer := newProducer(writer, "events", testLogger())
		err := producer.PublishEntityEvents(context.Background(), []*EntityEvent{{EntityID: "e-1"}})
		assert.EqualError(t, err, "broker down")
	})
}

func TestIncomingMessage(t *testing.T) {
	t.Run("should fill identity and ingestion time from the envelope", func(t *testing.T) {
		msg := &IncomingMessage{
			Key:       "r-9",
			Value:     []byte(`{"given_name":"Ana","family_name":"Silva"}`),
			Headers:   map[string]string{HeaderSourceID: "crm"},
			Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		}
		rec, err := msg.SourceRecord()
		require.NoError(t, err)
		assert.Equal(t, models.RecordID("crm:r-9"), rec.Key())
		assert.Equal(t, msg.Timestamp, rec.IngestedAt)
	})

	t.Run("should reject invalid json", func(t *testing.T) {
		_, err := (&IncomingMessage{Value: []byte("{")}).SourceRecord()
		assert.Error(t, err)
	})
}

func TestConsumer(t *testing.T) {
	t.Run("should flush full batches and idle remainders", func(t *testing.T) {
		reader := newFakeReader()
		var mu sync.Mutex
		var batches [][]models.SourceRecord
		consumer := newConsumer(reader, ConsumerConfig{Topic: "donor-source-records", BatchSize: 2, Idle: 20 * time.Millisecond}, testLogger(),
			func(_ context.Context, records []models.SourceRecord) error {
				mu.Lock()
				defer mu.Unlock()
				batches = append(batches, records)
				return nil
			})

		for i, id := range []string{"a", "b", "c"} {
			reader.messages <- recordMessage(t, int64(i), models.SourceRecord{SourceID: "crm", SourceRecordID: id})
		}
		require.NoError(t, consumer.Start(context.Background()))
		assert.Eventually(t, func() bool { return reader.committedCount() == 3 }, time.Second, 5*time.Millisecond)
		require.NoError(t, consumer.Stop(context.Background()))

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, batches, 2)
		assert.Len(t, batches[0], 2)
		assert.Len(t, batches[1], 1)
		assert.Equal(t, "c", batches[1][0].SourceRecordID)
	})

	t.Run("should not commit a batch the handler rejects", func(t *testing.T) {
		reader := newFakeReader()
		calls := make(chan struct{}, 4)
		consumer := newConsumer(reader, ConsumerConfig{BatchSize: 1}, testLogger(),
			func(context.Context, []models.SourceRecord) error {
				calls <- struct{}{}
				return errors.New("lock held")
			})

		reader.messages <- recordMessage(t, 0, models.SourceRecord{SourceID: "crm", SourceRecordID: "a"})
		require.NoError(t, consumer.Start(context.Background()))
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatal("handler was not called")
		}
		require.NoError(t, consumer.Stop(context.Background()))
		assert.Zero(t, reader.committedCount())
	})

	t.Run("should commit undecodable messages without calling the handler", func(t *testing.T) {
		reader := newFakeReader()
		called := false
		consumer := newConsumer(reader, ConsumerConfig{BatchSize: 1}, testLogger(),
			func(context.Context, []models.SourceRecord) error {
				called = true
				return nil
			})

		reader.messages <- kafka.Message{Value: []byte("not json")}
		require.NoError(t, consumer.Start(context.Background()))
		assert.Eventually(t, func() bool { return reader.committedCount() == 1 }, time.Second, 5*time.Millisecond)
		require.NoError(t, consumer.Stop(context.Background()))
		assert.False(t, called)
	})
}
