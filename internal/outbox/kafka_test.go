package outbox

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"qms/internal/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSinkKeysByQueue(t *testing.T) {
	writer := &fakeWriter{}
	sink := &KafkaSink{writer: writer}
	event, err := NewEvent("org1", "q1", "t1", models.EventTicketCalled, map[string]string{"full_code": "A-001"}, time.Now())
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	event.Seq = 7

	if err := sink.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(writer.msgs) != 1 {
		t.Fatalf("messages = %d", len(writer.msgs))
	}
	msg := writer.msgs[0]
	if string(msg.Key) != "q1" || string(msg.Headers[0].Value) != models.EventTicketCalled {
		t.Fatalf("unexpected message: %+v", msg)
	}
	var decoded models.OutboxEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil || decoded.Seq != 7 {
		t.Fatalf("decoded = %+v err=%v", decoded, err)
	}
	if err := sink.Close(); err != nil || !writer.closed {
		t.Fatalf("close: %v", err)
	}
}

func TestParseBrokers(t *testing.T) {
	got := ParseBrokers(" a:9092, ,b:9092")
	if want := []string{"a:9092", "b:9092"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseBrokers = %v, want %v", got, want)
	}
	if got := ParseBrokers(""); got != nil {
		t.Fatalf("ParseBrokers(\"\") = %v", got)
	}
}
