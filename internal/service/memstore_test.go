package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"notes-escrow/internal/core/domain"
	"notes-escrow/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for PostgreSQL. A transaction holds the
// store mutex from Begin to Commit/Rollback, so units are serialized and a
// rollback restores the snapshot taken at Begin.
type memStore struct {
	mu       sync.Mutex
	notes    map[uuid.UUID]domain.Note
	orders   map[uuid.UUID]domain.Order
	disputes map[uuid.UUID]domain.Dispute
	wallets  map[uuid.UUID]domain.SellerWallet
	ledger   []domain.Transaction
}

type memSnapshot struct {
	notes    map[uuid.UUID]domain.Note
	orders   map[uuid.UUID]domain.Order
	disputes map[uuid.UUID]domain.Dispute
	wallets  map[uuid.UUID]domain.SellerWallet
	ledger   []domain.Transaction
}

func newMemStore() *memStore {
	return &memStore{
		notes:    map[uuid.UUID]domain.Note{},
		orders:   map[uuid.UUID]domain.Order{},
		disputes: map[uuid.UUID]domain.Dispute{},
		wallets:  map[uuid.UUID]domain.SellerWallet{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) snapshot() memSnapshot {
	return memSnapshot{
		notes:    cloneMap(s.notes),
		orders:   cloneMap(s.orders),
		disputes: cloneMap(s.disputes),
		wallets:  cloneMap(s.wallets),
		ledger:   append([]domain.Transaction(nil), s.ledger...),
	}
}

func (s *memStore) restore(snap memSnapshot) {
	s.notes, s.orders, s.disputes, s.wallets, s.ledger = snap.notes, snap.orders, snap.disputes, snap.wallets, snap.ledger
}

// --- DBTransactor ---

type memTx struct {
	pgx.Tx
	store *memStore
	snap  memSnapshot
	done  bool
}

func (s *memStore) Begin(_ context.Context) (pgx.Tx, error) {
	s.mu.Lock()
	return &memTx{store: s, snap: s.snapshot()}, nil
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return errors.New("tx closed")
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.restore(t.snap)
	t.store.mu.Unlock()
	return nil
}

// read runs fn under the store lock for calls made outside a transaction.
func (s *memStore) read(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// --- NoteCatalog ---

type memNotes struct{ s *memStore }

func (r memNotes) GetByID(_ context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Note, error) {
	n, ok := r.s.notes[id]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (r memNotes) IncrementDownloads(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	n := r.s.notes[id]
	n.Downloads++
	r.s.notes[id] = n
	return nil
}

// --- OrderRepository ---

type memOrders struct{ s *memStore }

func (r memOrders) Create(_ context.Context, _ pgx.Tx, o *domain.Order) error {
	for _, existing := range r.s.orders {
		if existing.NoteID == o.NoteID && existing.BuyerID == o.BuyerID && existing.EscrowStatus.OwnsNote() {
			return domain.ErrDuplicateOwnership
		}
		if o.PaymentTxnID != nil && existing.PaymentTxnID != nil &&
			existing.BuyerID == o.BuyerID && *existing.PaymentTxnID == *o.PaymentTxnID {
			return domain.ErrDuplicatePayment
		}
	}
	r.s.orders[o.ID] = *o
	return nil
}

func (r memOrders) get(id uuid.UUID) *domain.Order {
	o, ok := r.s.orders[id]
	if !ok {
		return nil
	}
	return &o
}

func (r memOrders) GetByID(_ context.Context, id uuid.UUID) (o *domain.Order, _ error) {
	r.s.read(func() { o = r.get(id) })
	return o, nil
}

func (r memOrders) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.get(id), nil
}

func (r memOrders) GetByPaymentTxn(_ context.Context, buyerID uuid.UUID, ref string) (found *domain.Order, _ error) {
	r.s.read(func() {
		for _, o := range r.s.orders {
			if o.BuyerID == buyerID && o.PaymentTxnID != nil && *o.PaymentTxnID == ref {
				o := o
				found = &o
				return
			}
		}
	})
	return found, nil
}

func (r memOrders) ExistsActiveOwnership(_ context.Context, _ pgx.Tx, noteID, buyerID uuid.UUID) (bool, error) {
	for _, o := range r.s.orders {
		if o.NoteID == noteID && o.BuyerID == buyerID && o.EscrowStatus.OwnsNote() {
			return true, nil
		}
	}
	return false, nil
}

func (r memOrders) CompareAndSetStatus(_ context.Context, _ pgx.Tx, id uuid.UUID, expected, next domain.EscrowStatus, releasedAt *time.Time) (bool, error) {
	o, ok := r.s.orders[id]
	if !ok || o.EscrowStatus != expected {
		return false, nil
	}
	o.EscrowStatus = next
	o.ReleasedAt = releasedAt
	r.s.orders[id] = o
	return true, nil
}

func (r memOrders) filter(keep func(domain.Order) bool) []domain.Order {
	var out []domain.Order
	r.s.read(func() {
		for _, o := range r.s.orders {
			if keep(o) {
				out = append(out, o)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r memOrders) ListByBuyer(_ context.Context, buyerID uuid.UUID) ([]domain.Order, error) {
	return r.filter(func(o domain.Order) bool { return o.BuyerID == buyerID }), nil
}

func (r memOrders) ListBySeller(_ context.Context, sellerID uuid.UUID) ([]domain.Order, error) {
	return r.filter(func(o domain.Order) bool { return o.SellerID == sellerID }), nil
}

func (r memOrders) List(_ context.Context, p ports.OrderListParams) ([]domain.Order, int64, error) {
	all := r.filter(func(o domain.Order) bool { return p.Status == nil || o.EscrowStatus == *p.Status })
	start := (p.Page - 1) * p.PageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + p.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

func (r memOrders) ListReleasable(_ context.Context, cutoff time.Time, after *ports.ReleaseCursor, limit int) ([]domain.Order, error) {
	out := r.filter(func(o domain.Order) bool {
		if o.EscrowStatus != domain.EscrowStatusHeld || o.HeldAt.After(cutoff) {
			return false
		}
		if after == nil {
			return true
		}
		return o.HeldAt.After(after.HeldAt) || (o.HeldAt.Equal(after.HeldAt) && o.ID.String() > after.ID.String())
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].HeldAt.Equal(out[j].HeldAt) {
			return out[i].HeldAt.Before(out[j].HeldAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- DisputeRepository ---

type memDisputes struct{ s *memStore }

func (r memDisputes) Create(_ context.Context, _ pgx.Tx, d *domain.Dispute) error {
	for _, existing := range r.s.disputes {
		if existing.OrderID == d.OrderID && existing.IsOpen() {
			return domain.ErrDisputeAlreadyOpen
		}
	}
	r.s.disputes[d.ID] = *d
	return nil
}

func (r memDisputes) GetByID(_ context.Context, id uuid.UUID) (found *domain.Dispute, _ error) {
	r.s.read(func() {
		if d, ok := r.s.disputes[id]; ok {
			found = &d
		}
	})
	return found, nil
}

func (r memDisputes) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Dispute, error) {
	d, ok := r.s.disputes[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r memDisputes) GetOpenByOrderForUpdate(_ context.Context, _ pgx.Tx, orderID uuid.UUID) (*domain.Dispute, error) {
	for _, d := range r.s.disputes {
		if d.OrderID == orderID && d.IsOpen() {
			return &d, nil
		}
	}
	return nil, nil
}

func (r memDisputes) Close(_ context.Context, _ pgx.Tx, d *domain.Dispute) (bool, error) {
	stored, ok := r.s.disputes[d.ID]
	if !ok || !stored.IsOpen() {
		return false, nil
	}
	r.s.disputes[d.ID] = *d
	return true, nil
}

func (r memDisputes) list(keep func(domain.Dispute) bool) []domain.Dispute {
	var out []domain.Dispute
	r.s.read(func() {
		for _, d := range r.s.disputes {
			if keep(d) {
				out = append(out, d)
			}
		}
	})
	return out
}

func (r memDisputes) ListByUser(_ context.Context, userID uuid.UUID) ([]domain.Dispute, error) {
	return r.list(func(d domain.Dispute) bool { return d.UserID == userID }), nil
}

func (r memDisputes) List(_ context.Context, status *domain.DisputeStatus) ([]domain.Dispute, error) {
	return r.list(func(d domain.Dispute) bool { return status == nil || d.Status == *status }), nil
}

// --- WalletRepository / LedgerRepository ---

type memWallets struct{ s *memStore }

func (r memWallets) Credit(_ context.Context, _ pgx.Tx, sellerID uuid.UUID, amount decimal.Decimal) (*domain.SellerWallet, error) {
	w, ok := r.s.wallets[sellerID]
	if !ok {
		w = domain.SellerWallet{SellerID: sellerID, Balance: decimal.Zero}
	}
	w.Balance = w.Balance.Add(amount)
	r.s.wallets[sellerID] = w
	return &w, nil
}

func (r memWallets) GetBySellerID(_ context.Context, sellerID uuid.UUID) (found *domain.SellerWallet, _ error) {
	r.s.read(func() {
		if w, ok := r.s.wallets[sellerID]; ok {
			found = &w
		}
	})
	return found, nil
}

type memLedger struct{ s *memStore }

func (r memLedger) Append(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
	for _, existing := range r.s.ledger {
		if existing.OrderID == txn.OrderID {
			return domain.ErrAlreadyCredited
		}
	}
	r.s.ledger = append(r.s.ledger, *txn)
	return nil
}

func (r memLedger) ListBySeller(_ context.Context, sellerID uuid.UUID, limit int) ([]domain.Transaction, error) {
	var out []domain.Transaction
	r.s.read(func() {
		for i := len(r.s.ledger) - 1; i >= 0 && len(out) < limit; i-- {
			if r.s.ledger[i].SellerID == sellerID {
				out = append(out, r.s.ledger[i])
			}
		}
	})
	return out, nil
}

func (r memLedger) SumBySeller(_ context.Context, sellerID uuid.UUID) (decimal.Decimal, error) {
	total := decimal.Zero
	r.s.read(func() {
		for _, t := range r.s.ledger {
			if t.SellerID == sellerID {
				total = total.Add(t.Amount)
			}
		}
	})
	return total, nil
}

// --- Idempotency cache ---

type memCache struct {
	mu   sync.Mutex
	keys map[string]uuid.UUID
}

func (c *memCache) Get(_ context.Context, key string) (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[key], nil
}

func (c *memCache) Set(_ context.Context, key string, id uuid.UUID, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[key] = id
	return nil
}

// escrowHarness wires the real services over a memStore.
type escrowHarness struct {
	store     *memStore
	ledger    *WalletLedgerImpl
	escrow    *EscrowStateMachineImpl
	orders    *OrderServiceImpl
	disputes  *DisputeManagerImpl
	scheduler *EscrowReleaseScheduler
	clock     time.Time
}

func newEscrowHarness() *escrowHarness {
	s := newMemStore()
	log := newTestLogger()
	h := &escrowHarness{store: s, clock: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	now := func() time.Time { return h.clock }

	orderRepo := memOrders{s}
	disputeRepo := memDisputes{s}

	h.ledger = NewWalletLedger(memWallets{s}, memLedger{s}, log)
	h.ledger.now = now
	h.escrow = NewEscrowStateMachine(orderRepo, h.ledger, s, log)
	h.escrow.now = now
	h.orders = NewOrderService(orderRepo, disputeRepo, memNotes{s}, h.escrow, &memCache{keys: map[string]uuid.UUID{}}, s, log)
	h.orders.now = now
	h.disputes = NewDisputeManager(orderRepo, disputeRepo, h.escrow, s, log)
	h.disputes.now = now
	h.scheduler = NewEscrowReleaseScheduler(orderRepo, h.escrow, nil, SchedulerConfig{HoldHours: 48, BatchSize: 2}, log)
	h.scheduler.now = now
	return h
}

func (h *escrowHarness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

func (h *escrowHarness) addNote(price string) domain.Note {
	n := domain.Note{ID: uuid.New(), SellerID: uuid.New(), Price: decimal.RequireFromString(price), Approved: true}
	h.store.read(func() { h.store.notes[n.ID] = n })
	return n
}
