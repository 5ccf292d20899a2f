package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fulfillment/internal/pkg/apperr"
	"fulfillment/internal/pkg/clock"
	"fulfillment/internal/pkg/lock"
	"fulfillment/internal/service/order/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// memStore 是事务语义的内存存储：fn 出错时恢复到事务开始前的快照
type memStore struct {
	mu          sync.Mutex
	orders      map[string]domain.Order
	claims      map[string]domain.Claim
	shipments   map[string]domain.Shipment
	events      []domain.OrderEvent
	idempotency map[string]domain.IdempotencyRecord
	seq         int64

	failAppend error
}

func newMemStore() *memStore {
	return &memStore{
		orders:      map[string]domain.Order{},
		claims:      map[string]domain.Claim{},
		shipments:   map[string]domain.Shipment{},
		idempotency: map[string]domain.IdempotencyRecord{},
	}
}

type snapshot struct {
	orders      map[string]domain.Order
	claims      map[string]domain.Claim
	shipments   map[string]domain.Shipment
	events      []domain.OrderEvent
	idempotency map[string]domain.IdempotencyRecord
	seq         int64
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, s domain.Stores) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := snapshot{
		orders: cloneMap(m.orders), claims: cloneMap(m.claims), shipments: cloneMap(m.shipments),
		events: append([]domain.OrderEvent(nil), m.events...), idempotency: cloneMap(m.idempotency), seq: m.seq,
	}
	err := fn(ctx, m.stores())
	if err != nil {
		m.orders, m.claims, m.shipments = snap.orders, snap.claims, snap.shipments
		m.events, m.idempotency, m.seq = snap.events, snap.idempotency, snap.seq
	}
	return err
}

func (m *memStore) stores() domain.Stores {
	return domain.Stores{
		Orders:      memOrders{m},
		Claims:      memClaims{m},
		Shipments:   memShipments{m},
		Events:      memEvents{m},
		Idempotency: memIdempotency{m},
	}
}

// 事务外的只读视图
type lockedStore struct{ m *memStore }

func (l lockedStore) do(fn func()) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	fn()
}

type memOrders struct{ m *memStore }

func (r memOrders) FindByID(_ context.Context, id string) (*domain.Order, error) {
	o, ok := r.m.orders[id]
	if !ok {
		return nil, apperr.NotFound("order.find", "order %s not found", id)
	}
	return domain.ReconstituteOrder(o), nil
}

func (r memOrders) Save(_ context.Context, o *domain.Order) error {
	r.m.orders[o.ID] = *domain.ReconstituteOrder(*o)
	return nil
}

type memClaims struct{ m *memStore }

func (r memClaims) FindByID(_ context.Context, id string) (*domain.Claim, error) {
	c, ok := r.m.claims[id]
	if !ok {
		return nil, apperr.NotFound("claim.find", "claim %s not found", id)
	}
	return domain.ReconstituteClaim(c), nil
}

func (r memClaims) FindByOrderID(_ context.Context, orderID string) ([]*domain.Claim, error) {
	var out []*domain.Claim
	for _, c := range r.m.claims {
		if c.OrderID == orderID {
			out = append(out, domain.ReconstituteClaim(c))
		}
	}
	return out, nil
}

func (r memClaims) Save(_ context.Context, c *domain.Claim) error {
	r.m.claims[c.ID] = *domain.ReconstituteClaim(*c)
	return nil
}

type memShipments struct{ m *memStore }

func (r memShipments) FindByID(_ context.Context, id string) (*domain.Shipment, error) {
	s, ok := r.m.shipments[id]
	if !ok {
		return nil, apperr.NotFound("shipment.find", "shipment %s not found", id)
	}
	return domain.ReconstituteShipment(s), nil
}

func (r memShipments) FindByInvoice(_ context.Context, carrierID, invoice string) (*domain.Shipment, error) {
	for _, s := range r.m.shipments {
		if s.CarrierID == carrierID && s.InvoiceNumber == invoice {
			return domain.ReconstituteShipment(s), nil
		}
	}
	return nil, apperr.NotFound("shipment.findByInvoice", "shipment %s/%s not found", carrierID, invoice)
}

func (r memShipments) Save(_ context.Context, s *domain.Shipment) error {
	r.m.shipments[s.ID] = *domain.ReconstituteShipment(*s)
	return nil
}

type memEvents struct{ m *memStore }

func (r memEvents) Append(_ context.Context, events []domain.OrderEvent) ([]domain.OrderEvent, error) {
	if r.m.failAppend != nil {
		return nil, r.m.failAppend
	}
	out := make([]domain.OrderEvent, len(events))
	for i, e := range events {
		r.m.seq++
		e.Sequence = r.m.seq
		r.m.events = append(r.m.events, e)
		out[i] = e
	}
	return out, nil
}

func (r memEvents) FindByOrderAndSources(_ context.Context, orderID string, sources ...domain.EventSource) ([]domain.OrderEvent, error) {
	want := map[domain.EventSource]bool{}
	for _, s := range sources {
		want[s] = true
	}
	var out []domain.OrderEvent
	for _, e := range r.m.events {
		if e.OrderID == orderID && want[e.EventSource] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r memEvents) FindByAggregateIDs(_ context.Context, source domain.EventSource, ids []string) ([]domain.OrderEvent, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.OrderEvent
	for _, e := range r.m.events {
		if e.EventSource == source && want[e.AggregateID] {
			out = append(out, e)
		}
	}
	return out, nil
}

type memIdempotency struct{ m *memStore }

func (r memIdempotency) Find(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	rec, ok := r.m.idempotency[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r memIdempotency) Create(_ context.Context, rec domain.IdempotencyRecord) error {
	if _, ok := r.m.idempotency[rec.Key]; ok {
		return apperr.StateConflict("idempotency.create", "EXISTS", "create")
	}
	r.m.idempotency[rec.Key] = rec
	return nil
}

// 只读访问器在事务外加锁读取
func (m *memStore) eventTypes(orderID string) []domain.EventType {
	var out []domain.EventType
	lockedStore{m}.do(func() {
		for _, e := range m.events {
			if e.OrderID == orderID {
				out = append(out, e.EventType)
			}
		}
	})
	return out
}

func (m *memStore) eventCount() int {
	n := 0
	lockedStore{m}.do(func() { n = len(m.events) })
	return n
}

func (m *memStore) put(fn func(s domain.Stores)) {
	lockedStore{m}.do(func() { fn(m.stores()) })
}

// readRepos 在事务外读取，供服务的查询方法使用
type readOrders struct{ m *memStore }

func (r readOrders) FindByID(ctx context.Context, id string) (o *domain.Order, err error) {
	lockedStore{r.m}.do(func() { o, err = memOrders{r.m}.FindByID(ctx, id) })
	return
}

func (r readOrders) Save(ctx context.Context, o *domain.Order) (err error) {
	lockedStore{r.m}.do(func() { err = memOrders{r.m}.Save(ctx, o) })
	return
}

type readClaims struct{ m *memStore }

func (r readClaims) FindByID(ctx context.Context, id string) (c *domain.Claim, err error) {
	lockedStore{r.m}.do(func() { c, err = memClaims{r.m}.FindByID(ctx, id) })
	return
}

func (r readClaims) FindByOrderID(ctx context.Context, orderID string) (c []*domain.Claim, err error) {
	lockedStore{r.m}.do(func() { c, err = memClaims{r.m}.FindByOrderID(ctx, orderID) })
	return
}

func (r readClaims) Save(ctx context.Context, c *domain.Claim) (err error) {
	lockedStore{r.m}.do(func() { err = memClaims{r.m}.Save(ctx, c) })
	return
}

type readShipments struct{ m *memStore }

func (r readShipments) FindByID(ctx context.Context, id string) (s *domain.Shipment, err error) {
	lockedStore{r.m}.do(func() { s, err = memShipments{r.m}.FindByID(ctx, id) })
	return
}

func (r readShipments) FindByInvoice(ctx context.Context, carrierID, invoice string) (s *domain.Shipment, err error) {
	lockedStore{r.m}.do(func() { s, err = memShipments{r.m}.FindByInvoice(ctx, carrierID, invoice) })
	return
}

func (r readShipments) Save(ctx context.Context, s *domain.Shipment) (err error) {
	lockedStore{r.m}.do(func() { err = memShipments{r.m}.Save(ctx, s) })
	return
}

type readEvents struct{ m *memStore }

func (r readEvents) Append(ctx context.Context, events []domain.OrderEvent) (out []domain.OrderEvent, err error) {
	lockedStore{r.m}.do(func() { out, err = memEvents{r.m}.Append(ctx, events) })
	return
}

func (r readEvents) FindByOrderAndSources(ctx context.Context, orderID string, sources ...domain.EventSource) (out []domain.OrderEvent, err error) {
	lockedStore{r.m}.do(func() { out, err = memEvents{r.m}.FindByOrderAndSources(ctx, orderID, sources...) })
	return
}

func (r readEvents) FindByAggregateIDs(ctx context.Context, source domain.EventSource, ids []string) (out []domain.OrderEvent, err error) {
	lockedStore{r.m}.do(func() { out, err = memEvents{r.m}.FindByAggregateIDs(ctx, source, ids) })
	return
}

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, events []domain.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type counterIDs struct {
	mu sync.Mutex
	n  int
}

func (c *counterIDs) NextID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return fmt.Sprintf("evt-%d", c.n)
}

type fixedPolicy struct {
	eligible bool
	err      error
}

func (p fixedPolicy) Eligible(context.Context, *domain.Order, domain.ClaimType, time.Time) (bool, error) {
	return p.eligible, p.err
}

type harness struct {
	store     *memStore
	clock     *clock.Fake
	locks     *lock.MemoryBackend
	publisher *capturePublisher
	deps      Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     newMemStore(),
		clock:     clock.NewFake(t0),
		publisher: &capturePublisher{},
	}
	h.locks = lock.NewMemoryBackend(h.clock)
	h.deps = Deps{
		Tx:        h.store,
		Locker:    h.locks.NewLocker(),
		Clock:     h.clock,
		Recorder:  NewEventRecorder(&counterIDs{}),
		Publisher: h.publisher,
		Tracer:    noop.NewTracerProvider().Tracer("test"),
		LockWait:  50 * time.Millisecond,
		LockLease: time.Second,
	}
	return h
}

// seedOrder 直接写入一个处于指定状态的订单，不产生事件
func (h *harness) seedOrder(t *testing.T, id string, state domain.State) {
	t.Helper()
	h.store.put(func(s domain.Stores) {
		require.NoError(t, s.Orders.Save(context.Background(), domain.ReconstituteOrder(domain.Order{
			ID:       id,
			MemberID: "m-1",
			Items: []domain.OrderItem{
				{ID: "i-1", ProductID: "p-1", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
			},
			State:     state,
			CreatedAt: t0,
			UpdatedAt: t0,
		})))
	})
}

var errBoom = errors.New("boom")
