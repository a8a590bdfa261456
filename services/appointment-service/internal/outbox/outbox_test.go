package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Serryudy/EAD-sub001/libs/kafkax"
)

func TestBuildMessage(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	rec := Record{
		ID:          7,
		EventID:     "evt-1",
		AggregateID: "appt-1",
		EventType:   AppointmentCreated,
		Payload:     []byte(`{"id":"appt-1"}`),
		Traceparent: "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01",
	}
	msg := buildMessage(context.Background(), rec)

	if msg.Topic != AppointmentCreated || string(msg.Key) != "appt-1" {
		t.Fatalf("unexpected topic/key %q/%q", msg.Topic, msg.Key)
	}
	if kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventID) != "evt-1" {
		t.Fatal("missing event_id header")
	}
	if got := kafkax.HeaderValue(msg.Headers, "traceparent"); got != rec.Traceparent {
		t.Fatalf("trace context not propagated, got %q", got)
	}
}

func TestNewEvent(t *testing.T) {
	evt, err := NewEvent(AggregateAppointment, "a-1", AppointmentStatusChanged, map[string]string{"status": "confirmed"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if string(evt.Payload) != `{"status":"confirmed"}` {
		t.Fatalf("unexpected payload %s", evt.Payload)
	}
}

type recordingTx struct {
	execs   []string
	queries int
}

func (tx *recordingTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	tx.execs = append(tx.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (tx *recordingTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	tx.queries++
	return nil, errors.New("not expected")
}

func TestRepositoryInsert(t *testing.T) {
	cases := []struct {
		name    string
		evt     Event
		wantErr bool
	}{
		{name: "complete", evt: Event{AggregateType: AggregateAppointment, AggregateID: "a-1", EventType: AppointmentCreated}},
		{name: "no aggregate id", evt: Event{AggregateType: AggregateAppointment, EventType: AppointmentCreated}, wantErr: true},
		{name: "no event type", evt: Event{AggregateType: AggregateAppointment, AggregateID: "a-1"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx := &recordingTx{}
			err := NewRepository().Insert(context.Background(), tx, tc.evt)
			if tc.wantErr {
				if err == nil || len(tx.execs) != 0 {
					t.Fatalf("err = %v, execs = %d", err, len(tx.execs))
				}
				return
			}
			if err != nil || len(tx.execs) != 1 {
				t.Fatalf("err = %v, execs = %d", err, len(tx.execs))
			}
		})
	}
}

func TestRepositoryEmptyBatchesSkipTheDatabase(t *testing.T) {
	tx := &recordingTx{}
	repo := NewRepository()
	if err := repo.MarkPublished(context.Background(), tx, nil); err != nil {
		t.Fatalf("MarkPublished: %v", err)
	}
	recs, err := repo.FetchUnpublished(context.Background(), tx, 0)
	if err != nil || recs != nil {
		t.Fatalf("FetchUnpublished = %v, %v", recs, err)
	}
	if len(tx.execs) != 0 || tx.queries != 0 {
		t.Fatalf("execs = %d, queries = %d", len(tx.execs), tx.queries)
	}
}
