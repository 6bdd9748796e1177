// Package ledgertest provides an in-memory ledger.Store for service tests.
// Transactions are serialized by one mutex and stage writes on a copy of the
// state that replaces the committed state only when fn returns nil.
package ledgertest

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/ledger"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Operations at which BeforeNext can interleave a competing transaction.
const (
	OpCartBumpVersion   = "carts.bump_version"
	OpOrderTransition   = "orders.transition"
	OpPaymentCreate     = "payments.create"
	OpIdempotencyInsert = "idempotency.insert"
)

// Store is an in-memory ledger.Store.
type Store struct {
	mu       sync.Mutex
	state    *state
	failures []error
	hooks    []hook
	txCount  int
}

type hook struct {
	op string
	fn func(ctx context.Context)
}

// nestedKey marks a context running inside an interleaved hook, where the
// store mutex is already held by the suspended transaction.
type nestedKey struct{}

type state struct {
	carts       map[uuid.UUID]models.Cart
	orders      map[uuid.UUID]models.Order
	payments    map[uuid.UUID]models.Payment
	idempotency map[string]models.IdempotencyRecord
	stock       map[uuid.UUID]int64
	audit       []models.PaymentEventLog
	outbox      []models.OutboxEvent
}

func NewStore() *Store {
	return &Store{state: &state{
		carts:       map[uuid.UUID]models.Cart{},
		orders:      map[uuid.UUID]models.Order{},
		payments:    map[uuid.UUID]models.Payment{},
		idempotency: map[string]models.IdempotencyRecord{},
		stock:       map[uuid.UUID]int64{},
	}}
}

// FailNextTx makes the next transaction return err without running fn.
func (s *Store) FailNextTx(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, err)
}

// TxCount reports how many transactions have been attempted.
func (s *Store) TxCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

// BeforeNext runs fn once, the next time a transaction reaches op, as if a
// concurrent transaction committed at that moment. Transactions opened by fn
// commit immediately and their writes become visible to the suspended one.
func (s *Store) BeforeNext(op string, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook{op: op, fn: fn})
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	if ctx.Value(nestedKey{}) == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	s.txCount++

	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return err
	}
	if err := ctx.Err(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "begin transaction")
	}

	staged := s.state.clone()
	if err := fn(ctx, &memTx{st: staged, store: s}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "transaction deadline exceeded")
	}
	s.state = staged
	return nil
}

// SetStock seeds available inventory for a product.
func (s *Store) SetStock(productID uuid.UUID, qty int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.stock[productID] = qty
}

func (s *Store) Stock(productID uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.stock[productID]
}

// Orders returns every committed order.
func (s *Store) Orders() []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Order, 0, len(s.state.orders))
	for _, o := range s.state.orders {
		out = append(out, cloneOrder(o))
	}
	return out
}

// Order returns a committed order by id.
func (s *Store) Order(id uuid.UUID) (models.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.state.orders[id]
	return cloneOrder(o), ok
}

// Cart returns a committed cart by id.
func (s *Store) Cart(id uuid.UUID) (models.Cart, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.carts[id]
	return cloneCart(c), ok
}

// Payments returns committed payments for an order.
func (s *Store) Payments(orderID uuid.UUID) []models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payment
	for _, p := range s.state.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// PutOrder seeds a committed order.
func (s *Store) PutOrder(order models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.Version == 0 {
		order.Version = 1
	}
	s.state.orders[order.ID] = cloneOrder(order)
}

// PutPayment seeds a committed payment.
func (s *Store) PutPayment(payment models.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.payments[payment.ID] = payment
}

// AuditLog returns every committed audit entry in append order.
func (s *Store) AuditLog() []models.PaymentEventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PaymentEventLog(nil), s.state.audit...)
}

// OutboxEvents returns every committed outbox row in emit order.
func (s *Store) OutboxEvents() []models.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OutboxEvent(nil), s.state.outbox...)
}

// IdempotencyRecord returns a committed record.
func (s *Store) IdempotencyRecord(scope, key string) (models.IdempotencyRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.idempotency[scope+"|"+key]
	return r, ok
}

func (st *state) clone() *state {
	out := &state{
		carts:       make(map[uuid.UUID]models.Cart, len(st.carts)),
		orders:      make(map[uuid.UUID]models.Order, len(st.orders)),
		payments:    make(map[uuid.UUID]models.Payment, len(st.payments)),
		idempotency: make(map[string]models.IdempotencyRecord, len(st.idempotency)),
		stock:       make(map[uuid.UUID]int64, len(st.stock)),
		audit:       append([]models.PaymentEventLog(nil), st.audit...),
		outbox:      append([]models.OutboxEvent(nil), st.outbox...),
	}
	for k, v := range st.carts {
		out.carts[k] = cloneCart(v)
	}
	for k, v := range st.orders {
		out.orders[k] = cloneOrder(v)
	}
	for k, v := range st.payments {
		out.payments[k] = v
	}
	for k, v := range st.idempotency {
		out.idempotency[k] = v
	}
	for k, v := range st.stock {
		out.stock[k] = v
	}
	return out
}

func cloneCart(c models.Cart) models.Cart {
	c.Items = append([]models.CartItem(nil), c.Items...)
	return c
}

func cloneOrder(o models.Order) models.Order {
	o.LineItems = append([]models.OrderLineItem(nil), o.LineItems...)
	return o
}

// absorb copies into st every row that changed between before and after.
func (st *state) absorb(before, after *state) {
	absorbMap(st.carts, before.carts, after.carts)
	absorbMap(st.orders, before.orders, after.orders)
	absorbMap(st.payments, before.payments, after.payments)
	absorbMap(st.idempotency, before.idempotency, after.idempotency)
	absorbMap(st.stock, before.stock, after.stock)
	st.audit = append(st.audit, after.audit[len(before.audit):]...)
	st.outbox = append(st.outbox, after.outbox[len(before.outbox):]...)
}

func absorbMap[K comparable, V any](dst, before, after map[K]V) {
	for k, v := range after {
		if old, ok := before[k]; !ok || !reflect.DeepEqual(old, v) {
			dst[k] = v
		}
	}
}

type memTx struct {
	st    *state
	store *Store
}

// reach runs the hook registered for op, if any. The caller holds s.mu.
func (t *memTx) reach(ctx context.Context, op string) {
	s := t.store
	if s == nil {
		return
	}
	for i, h := range s.hooks {
		if h.op != op {
			continue
		}
		s.hooks = append(s.hooks[:i:i], s.hooks[i+1:]...)
		before := s.state
		h.fn(context.WithValue(ctx, nestedKey{}, true))
		t.st.absorb(before, s.state)
		return
	}
}

func (t *memTx) Carts() ledger.CartRepository              { return memCarts{t.st, t} }
func (t *memTx) Orders() ledger.OrderRepository            { return memOrders{t.st, t} }
func (t *memTx) Payments() ledger.PaymentRepository        { return memPayments{t.st, t} }
func (t *memTx) Idempotency() ledger.IdempotencyRepository { return memIdempotency{t.st, t} }
func (t *memTx) Inventory() ledger.InventoryRepository     { return memInventory{t.st} }
func (t *memTx) Audit() ledger.AuditRepository             { return memAudit{t.st} }
func (t *memTx) Outbox() ledger.OutboxWriter               { return memOutbox{t.st} }

type memCarts struct {
	st *state
	tx *memTx
}

func (r memCarts) Create(_ context.Context, cart *models.Cart) error {
	if cart.ID == uuid.Nil {
		cart.ID = uuid.New()
	}
	if _, exists := r.st.carts[cart.ID]; exists {
		return ledger.ErrDuplicate
	}
	if cart.Version == 0 {
		cart.Version = 1
	}
	if cart.Status == "" {
		cart.Status = enums.CartStatusOpen
	}
	now := time.Now().UTC()
	cart.CreatedAt, cart.UpdatedAt = now, now
	r.st.carts[cart.ID] = cloneCart(*cart)
	return nil
}

func (r memCarts) FindByID(_ context.Context, id uuid.UUID) (*models.Cart, error) {
	c, ok := r.st.carts[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	out := cloneCart(c)
	sort.SliceStable(out.Items, func(i, j int) bool { return out.Items[i].Position < out.Items[j].Position })
	return &out, nil
}

func (r memCarts) BumpVersion(ctx context.Context, id uuid.UUID, expected int64) error {
	r.tx.reach(ctx, OpCartBumpVersion)
	c, ok := r.st.carts[id]
	if !ok || c.Version != expected || c.Status != enums.CartStatusOpen {
		return ledger.ErrVersionConflict
	}
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	r.st.carts[id] = c
	return nil
}

func (r memCarts) InsertItem(_ context.Context, item *models.CartItem) error {
	c, ok := r.st.carts[item.CartID]
	if !ok {
		return ledger.ErrNotFound
	}
	for _, existing := range c.Items {
		if existing.ProductID == item.ProductID {
			return ledger.ErrDuplicate
		}
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	now := time.Now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	c.Items = append(c.Items, *item)
	r.st.carts[c.ID] = c
	return nil
}

func (r memCarts) UpdateItemQuantity(_ context.Context, itemID uuid.UUID, quantity int64) error {
	for id, c := range r.st.carts {
		for i := range c.Items {
			if c.Items[i].ID == itemID {
				c.Items[i].Quantity = quantity
				c.Items[i].UpdatedAt = time.Now().UTC()
				r.st.carts[id] = c
				return nil
			}
		}
	}
	return ledger.ErrNotFound
}

func (r memCarts) DeleteItem(_ context.Context, itemID uuid.UUID) error {
	for id, c := range r.st.carts {
		for i := range c.Items {
			if c.Items[i].ID == itemID {
				c.Items = append(c.Items[:i:i], c.Items[i+1:]...)
				r.st.carts[id] = c
				return nil
			}
		}
	}
	return nil
}

func (r memCarts) DeleteItems(_ context.Context, cartID uuid.UUID) error {
	if c, ok := r.st.carts[cartID]; ok {
		c.Items = nil
		r.st.carts[cartID] = c
	}
	return nil
}

func (r memCarts) MarkCheckedOut(_ context.Context, id uuid.UUID, expected int64, at time.Time) error {
	c, ok := r.st.carts[id]
	if !ok || c.Version != expected || c.Status != enums.CartStatusOpen {
		return ledger.ErrVersionConflict
	}
	c.Status = enums.CartStatusCheckedOut
	c.Version++
	c.CheckedOutAt = &at
	c.UpdatedAt = at
	r.st.carts[id] = c
	return nil
}

type memOrders struct {
	st *state
	tx *memTx
}

func (r memOrders) Create(_ context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	for _, existing := range r.st.orders {
		if existing.ID == order.ID || existing.CartID == order.CartID ||
			(existing.UserID == order.UserID && existing.IdempotencyKey == order.IdempotencyKey) {
			return ledger.ErrDuplicate
		}
	}
	if order.Version == 0 {
		order.Version = 1
	}
	now := time.Now().UTC()
	order.CreatedAt, order.UpdatedAt = now, now
	for i := range order.LineItems {
		if order.LineItems[i].ID == uuid.Nil {
			order.LineItems[i].ID = uuid.New()
		}
		order.LineItems[i].OrderID = order.ID
		order.LineItems[i].CreatedAt = now
	}
	r.st.orders[order.ID] = cloneOrder(*order)
	return nil
}

func (r memOrders) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	o, ok := r.st.orders[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	out := cloneOrder(o)
	return &out, nil
}

func (r memOrders) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.FindByID(ctx, id)
}

func (r memOrders) FindByIdempotencyKey(_ context.Context, userID uuid.UUID, key string) (*models.Order, error) {
	for _, o := range r.st.orders {
		if o.UserID == userID && o.IdempotencyKey == key {
			out := cloneOrder(o)
			return &out, nil
		}
	}
	return nil, ledger.ErrNotFound
}

func (r memOrders) List(_ context.Context, filter ledger.ListFilter) ([]models.Order, error) {
	var out []models.Order
	for _, o := range r.st.orders {
		if filter.UserID != nil && o.UserID != *filter.UserID {
			continue
		}
		if !afterCursor(o.CreatedAt, o.ID, filter.Cursor) {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return limitRows(out, filter.Limit), nil
}

func (r memOrders) ListAwaitingPaymentBefore(_ context.Context, before time.Time, limit int) ([]models.Order, error) {
	var out []models.Order
	for _, o := range r.st.orders {
		if o.Status.AwaitingPayment() && o.CreatedAt.Before(before) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memOrders) Transition(ctx context.Context, t ledger.OrderTransition) error {
	r.tx.reach(ctx, OpOrderTransition)
	o, ok := r.st.orders[t.ID]
	if !ok || o.Version != t.ExpectedVersion {
		return ledger.ErrVersionConflict
	}
	o.Status = t.To
	o.Version++
	o.UpdatedAt = t.At
	at := t.At
	switch t.To {
	case enums.OrderStatusPaid:
		o.PaidAt = &at
	case enums.OrderStatusCancelled:
		o.CancelledAt = &at
	case enums.OrderStatusFulfilled:
		o.FulfilledAt = &at
	}
	r.st.orders[t.ID] = o
	return nil
}

type memPayments struct {
	st *state
	tx *memTx
}

func (r memPayments) Create(ctx context.Context, payment *models.Payment) error {
	r.tx.reach(ctx, OpPaymentCreate)
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	if payment.ProviderTxID != nil {
		for _, existing := range r.st.payments {
			if existing.ProviderTxID != nil && *existing.ProviderTxID == *payment.ProviderTxID {
				return ledger.ErrDuplicate
			}
		}
	}
	now := time.Now().UTC()
	payment.CreatedAt, payment.UpdatedAt = now, now
	r.st.payments[payment.ID] = *payment
	return nil
}

func (r memPayments) FindByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	p, ok := r.st.payments[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &p, nil
}

func (r memPayments) FindByProviderRef(_ context.Context, ref string) (*models.Payment, error) {
	return r.find(func(p models.Payment) bool { return p.ProviderRef != nil && *p.ProviderRef == ref })
}

func (r memPayments) FindByProviderTxID(_ context.Context, txID string) (*models.Payment, error) {
	return r.find(func(p models.Payment) bool { return p.ProviderTxID != nil && *p.ProviderTxID == txID })
}

func (r memPayments) FindLatestSucceeded(_ context.Context, orderID uuid.UUID) (*models.Payment, error) {
	return r.find(func(p models.Payment) bool {
		return p.OrderID == orderID && p.Status == enums.PaymentStatusSucceeded
	})
}

// find returns the newest matching payment.
func (r memPayments) find(match func(models.Payment) bool) (*models.Payment, error) {
	var best *models.Payment
	for _, p := range r.st.payments {
		if !match(p) {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) {
			cp := p
			best = &cp
		}
	}
	if best == nil {
		return nil, ledger.ErrNotFound
	}
	return best, nil
}

func (r memPayments) List(_ context.Context, filter ledger.ListFilter) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range r.st.payments {
		if filter.UserID != nil && p.UserID != *filter.UserID {
			continue
		}
		if !afterCursor(p.CreatedAt, p.ID, filter.Cursor) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return limitRows(out, filter.Limit), nil
}

func (r memPayments) ListByOrder(_ context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range r.st.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r memPayments) ListInitiatedBefore(_ context.Context, before time.Time, limit int) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range r.st.payments {
		if p.Status == enums.PaymentStatusInitiated && p.CreatedAt.Before(before) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memPayments) Settle(_ context.Context, s ledger.PaymentSettlement) error {
	p, ok := r.st.payments[s.ID]
	if !ok || p.Status != enums.PaymentStatusInitiated {
		return ledger.ErrVersionConflict
	}
	for id, existing := range r.st.payments {
		if id != s.ID && existing.ProviderTxID != nil && *existing.ProviderTxID == s.ProviderTxID {
			return ledger.ErrDuplicate
		}
	}
	txID := s.ProviderTxID
	received := s.ReceivedAt
	p.ProviderTxID = &txID
	p.Status = s.Status
	p.AmountCents = s.AmountCents
	p.ReceivedAt = &received
	p.UpdatedAt = received
	r.st.payments[s.ID] = p
	return nil
}

func (r memPayments) UpdateStatus(_ context.Context, id uuid.UUID, from, to enums.PaymentStatus) error {
	p, ok := r.st.payments[id]
	if !ok || p.Status != from {
		return ledger.ErrVersionConflict
	}
	p.Status = to
	p.UpdatedAt = time.Now().UTC()
	r.st.payments[id] = p
	return nil
}

type memIdempotency struct {
	st *state
	tx *memTx
}

func (r memIdempotency) Find(_ context.Context, scope, key string) (*models.IdempotencyRecord, error) {
	rec, ok := r.st.idempotency[scope+"|"+key]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &rec, nil
}

func (r memIdempotency) Insert(ctx context.Context, record *models.IdempotencyRecord) error {
	r.tx.reach(ctx, OpIdempotencyInsert)
	k := record.Scope + "|" + record.Key
	if _, exists := r.st.idempotency[k]; exists {
		return ledger.ErrDuplicate
	}
	if !json.Valid(record.Result) {
		record.Result = json.RawMessage("null")
	}
	record.CreatedAt = time.Now().UTC()
	r.st.idempotency[k] = *record
	return nil
}

type memInventory struct{ st *state }

func (r memInventory) Reserve(_ context.Context, productID uuid.UUID, quantity int64) error {
	if r.st.stock[productID] < quantity {
		return ledger.ErrInsufficientStock
	}
	r.st.stock[productID] -= quantity
	return nil
}

func (r memInventory) Release(_ context.Context, productID uuid.UUID, quantity int64) error {
	r.st.stock[productID] += quantity
	return nil
}

type memAudit struct{ st *state }

func (r memAudit) Append(_ context.Context, entry *models.PaymentEventLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}
	r.st.audit = append(r.st.audit, *entry)
	return nil
}

func (r memAudit) ListByProviderTxID(_ context.Context, txID string) ([]models.PaymentEventLog, error) {
	var out []models.PaymentEventLog
	for _, e := range r.st.audit {
		if e.ProviderTxID == txID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memOutbox struct{ st *state }

func (w memOutbox) Emit(_ context.Context, event outbox.DomainEvent) error {
	row, _, err := outbox.BuildRow(event)
	if err != nil {
		return err
	}
	row.CreatedAt = time.Now().UTC()
	w.st.outbox = append(w.st.outbox, row)
	return nil
}

func afterCursor(createdAt time.Time, id uuid.UUID, cursor *pagination.Cursor) bool {
	if cursor == nil {
		return true
	}
	return newerFirst(cursor.CreatedAt, cursor.ID, createdAt, id)
}

// newerFirst orders by created_at DESC, id DESC.
func newerFirst(aAt time.Time, aID uuid.UUID, bAt time.Time, bID uuid.UUID) bool {
	if !aAt.Equal(bAt) {
		return aAt.After(bAt)
	}
	return aID.String() > bID.String()
}

func limitRows[T any](rows []T, limit int) []T {
	n := pagination.LimitWithBuffer(limit)
	if len(rows) > n {
		return rows[:n]
	}
	return rows
}
