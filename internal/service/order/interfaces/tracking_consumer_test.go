package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"fulfillment/internal/pkg/apperr"
	"fulfillment/internal/service/order/application"
	"fulfillment/internal/service/order/domain"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

type recordingSink struct {
	failed []error
}

func (s *recordingSink) Handle(_ context.Context, _ kafka.Message, cause error) {
	s.failed = append(s.failed, cause)
}

// fakeUpdater 先依次返回 errs 中的错误，用完后返回 err
type fakeUpdater struct {
	calls []TrackingMessage
	errs  []error
	err   error
}

func (u *fakeUpdater) UpdateTrackingByInvoice(_ context.Context, carrierID, invoice string, up domain.TrackingUpdate) (application.TrackingResult, error) {
	u.calls = append(u.calls, TrackingMessage{CarrierID: carrierID, InvoiceNumber: invoice, Location: up.Location, TrackedAt: up.TrackedAt})
	err := u.err
	if len(u.errs) > 0 {
		err, u.errs = u.errs[0], u.errs[1:]
	}
	return application.TrackingResult{Applied: err == nil}, err
}

func fastConsumer(reader MessageReader, up TrackingUpdater, sink FailureSink) *TrackingConsumerAdapter {
	a := NewTrackingConsumerAdapter(reader, "carrier-tracking", up, sink)
	a.retryInitial = time.Millisecond
	a.retryMax = 5 * time.Millisecond
	return a
}

func trackingMsg(t *testing.T, m TrackingMessage) kafka.Message {
	t.Helper()
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return kafka.Message{Topic: "carrier-tracking", Value: b}
}

func TestTrackingMessageDrivesShipmentService(t *testing.T) {
	reader, sink, up := &fakeReader{}, &recordingSink{}, &fakeUpdater{}
	a := NewTrackingConsumerAdapter(reader, "carrier-tracking", up, sink)

	a.handle(context.Background(), trackingMsg(t, TrackingMessage{CarrierID: "cj", InvoiceNumber: "1", Location: "hub", TrackedAt: t0}))

	require.Len(t, up.calls, 1)
	assert.Equal(t, "cj", up.calls[0].CarrierID)
	assert.Equal(t, "hub", up.calls[0].Location)
	assert.Empty(t, sink.failed)
	assert.Len(t, reader.committed, 1)
}

func TestFailedTrackingMessageGoesToFailureSinkAndIsCommitted(t *testing.T) {
	reader, sink := &fakeReader{}, &recordingSink{}
	up := &fakeUpdater{err: apperr.NotFound("shipment.findByInvoice", "no shipment")}
	a := fastConsumer(reader, up, sink)

	a.handle(context.Background(), trackingMsg(t, TrackingMessage{CarrierID: "cj", InvoiceNumber: "x", TrackedAt: t0}))
	a.handle(context.Background(), kafka.Message{Value: []byte("garbage")})

	require.Len(t, sink.failed, 2)
	assert.True(t, apperr.Is(sink.failed[0], apperr.KindNotFound))
	assert.True(t, apperr.Is(sink.failed[1], apperr.KindValidation))
	assert.Len(t, reader.committed, 2)
	assert.Len(t, up.calls, 1, "terminal failures are not retried")
}

func TestTerminalFailuresAreDeadLetteredOnce(t *testing.T) {
	cases := map[string]error{
		"validation":     apperr.Validation("tracking.update", "trackedAt is zero"),
		"not found":      apperr.NotFound("shipment.findByInvoice", "no shipment"),
		"state conflict": apperr.StateConflict("shipment.track", "CANCELLED", "IN_TRANSIT"),
	}
	for name, cause := range cases {
		t.Run(name, func(t *testing.T) {
			reader, sink := &fakeReader{}, &recordingSink{}
			up := &fakeUpdater{err: cause}
			a := fastConsumer(reader, up, sink)

			a.handle(context.Background(), trackingMsg(t, TrackingMessage{CarrierID: "cj", InvoiceNumber: "1", TrackedAt: t0}))

			assert.Len(t, up.calls, 1)
			require.Len(t, sink.failed, 1)
			assert.Equal(t, apperr.KindOf(cause), apperr.KindOf(sink.failed[0]))
			assert.Len(t, reader.committed, 1)
		})
	}
}

func TestTransientFailuresRetryUntilApplied(t *testing.T) {
	cases := map[string]error{
		"lock timeout":        apperr.LockTimeout("shipment.track", "fulfillment:shipment:S1"),
		"external dependency": apperr.External("carrier.track", errors.New("503")),
		"internal":            apperr.Internal("shipment.save", errors.New("database is locked")),
		"unclassified":        errors.New("connection reset by peer"),
	}
	for name, cause := range cases {
		t.Run(name, func(t *testing.T) {
			reader, sink := &fakeReader{}, &recordingSink{}
			up := &fakeUpdater{errs: []error{cause, cause}}
			a := fastConsumer(reader, up, sink)

			a.handle(context.Background(), trackingMsg(t, TrackingMessage{CarrierID: "cj", InvoiceNumber: "1", TrackedAt: t0}))

			assert.Len(t, up.calls, 3)
			assert.Empty(t, sink.failed, "transient failures never reach the dead letter topic")
			assert.Len(t, reader.committed, 1)
		})
	}
}

func TestShutdownDuringRetryLeavesMessageUncommitted(t *testing.T) {
	reader, sink := &fakeReader{}, &recordingSink{}
	up := &fakeUpdater{err: apperr.LockTimeout("shipment.track", "fulfillment:shipment:S1")}
	a := fastConsumer(reader, up, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	a.handle(ctx, trackingMsg(t, TrackingMessage{CarrierID: "cj", InvoiceNumber: "1", TrackedAt: t0}))

	assert.GreaterOrEqual(t, len(up.calls), 2)
	assert.Empty(t, sink.failed)
	assert.Empty(t, reader.committed)
}

func TestConsumerStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := NewTrackingConsumerAdapter(&fakeReader{}, "carrier-tracking", &fakeUpdater{}, &recordingSink{})
	require.NoError(t, a.Start(ctx))
	cancel()
	a.Stop(context.Background())

	d := NewDltConsumerAdapter(&fakeReader{}, "carrier-tracking-dlt")
	ctx, cancel = context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))
	cancel()
	d.Stop(context.Background())
}
