package tests

import (
	"context"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"medride/internal/domain"
	"medride/internal/redis"
	"medride/internal/repository"
	"medride/internal/service"
)

// ──────────────────────────────────────────────
// SHARED HELPERS
// ──────────────────────────────────────────────

// NewTestLogger returns a logger that discards output.
func NewTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func containsStatus[S comparable](list []S, s S) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────
// MOCK RIDE REPOSITORY
// ──────────────────────────────────────────────

// MockRideRepository is an in-memory RideRepository.
type MockRideRepository struct {
	mu    sync.RWMutex
	rides map[string]*domain.Ride

	UpdateIfStatusCallCount int32
	CreateError             error
}

// NewMockRideRepository creates a new mock ride repository.
func NewMockRideRepository() *MockRideRepository {
	return &MockRideRepository{rides: make(map[string]*domain.Ride)}
}

func copyRide(r *domain.Ride) *domain.Ride {
	c := *r
	if r.PendingEdit != nil {
		edit := *r.PendingEdit
		c.PendingEdit = &edit
	}
	return &c
}

// AddRide stores a ride as-is.
func (m *MockRideRepository) AddRide(ride *domain.Ride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[ride.ID] = copyRide(ride)
}

// GetRide returns the stored ride for assertions.
func (m *MockRideRepository) GetRide(id string) *domain.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.rides[id]; ok {
		return copyRide(r)
	}
	return nil
}

func (m *MockRideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.AddRide(ride)
	return nil
}

func (m *MockRideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	if r := m.GetRide(id); r != nil {
		return r, nil
	}
	return nil, repository.ErrNotFound
}

func (m *MockRideRepository) sorted(keep func(*domain.Ride) bool) []*domain.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Ride, 0, len(m.rides))
	for _, r := range m.rides {
		if keep(r) {
			out = append(out, copyRide(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *MockRideRepository) GetAll(ctx context.Context) ([]*domain.Ride, error) {
	return m.sorted(func(*domain.Ride) bool { return true }), nil
}

func (m *MockRideRepository) ListByParticipant(ctx context.Context, userID string) ([]*domain.Ride, error) {
	return m.sorted(func(r *domain.Ride) bool { return r.RiderID == userID || r.DriverID == userID }), nil
}

func (m *MockRideRepository) Update(ctx context.Context, ride *domain.Ride) error {
	if !ride.HasConsistentDriver() {
		return repository.ErrDriverAssignment
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[ride.ID]; !ok {
		return repository.ErrNotFound
	}
	m.rides[ride.ID] = copyRide(ride)
	return nil
}

func (m *MockRideRepository) UpdateIfStatus(ctx context.Context, ride *domain.Ride, expected ...domain.RideStatus) (bool, error) {
	atomic.AddInt32(&m.UpdateIfStatusCallCount, 1)
	if !ride.HasConsistentDriver() {
		return false, repository.ErrDriverAssignment
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rides[ride.ID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if !containsStatus(expected, stored.Status) {
		return false, nil
	}
	m.rides[ride.ID] = copyRide(ride)
	return true, nil
}

func (m *MockRideRepository) ListExpiredRequested(ctx context.Context, now time.Time, limit int) ([]*domain.Ride, error) {
	out := m.sorted(func(r *domain.Ride) bool {
		return r.Status == domain.RideStatusRequested && r.ExpiresAt.Before(now)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockRideRepository) snapshot() map[string]*domain.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := make(map[string]*domain.Ride, len(m.rides))
	for id, r := range m.rides {
		snap[id] = copyRide(r)
	}
	return snap
}

func (m *MockRideRepository) restore(snap map[string]*domain.Ride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides = snap
}

// ──────────────────────────────────────────────
// MOCK BID REPOSITORY
// ──────────────────────────────────────────────

// MockBidRepository is an in-memory BidRepository that enforces the
// one-active-root-bid-per-driver rule like the database index does.
type MockBidRepository struct {
	mu    sync.RWMutex
	bids  map[string]*domain.Bid
	order []string
}

// NewMockBidRepository creates a new mock bid repository.
func NewMockBidRepository() *MockBidRepository {
	return &MockBidRepository{bids: make(map[string]*domain.Bid)}
}

// GetBid returns the stored bid for assertions.
func (m *MockBidRepository) GetBid(id string) *domain.Bid {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.bids[id]; ok {
		c := *b
		return &c
	}
	return nil
}

func (m *MockBidRepository) Create(ctx context.Context, bid *domain.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bids {
		if b.RideID != bid.RideID || b.DriverID != bid.DriverID {
			continue
		}
		if bid.ParentBidID == "" && b.ParentBidID == "" && b.IsActive() {
			return repository.ErrDuplicate
		}
		if bid.IsActionable() && b.IsActionable() {
			return repository.ErrDuplicate
		}
	}
	c := *bid
	m.bids[bid.ID] = &c
	m.order = append(m.order, bid.ID)
	return nil
}

func (m *MockBidRepository) GetByID(ctx context.Context, id string) (*domain.Bid, error) {
	if b := m.GetBid(id); b != nil {
		return b, nil
	}
	return nil, repository.ErrNotFound
}

func (m *MockBidRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Bid, error) {
	return m.GetByID(ctx, id)
}

func (m *MockBidRepository) filter(keep func(*domain.Bid) bool) []*domain.Bid {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Bid
	for _, id := range m.order {
		if b := m.bids[id]; keep(b) {
			c := *b
			out = append(out, &c)
		}
	}
	return out
}

func (m *MockBidRepository) ListByRide(ctx context.Context, rideID string) ([]*domain.Bid, error) {
	return m.filter(func(b *domain.Bid) bool { return b.RideID == rideID }), nil
}

func (m *MockBidRepository) GetActiveByDriver(ctx context.Context, rideID, driverID string) (*domain.Bid, error) {
	found := m.filter(func(b *domain.Bid) bool {
		return b.RideID == rideID && b.DriverID == driverID && b.BlocksNewBid()
	})
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func (m *MockBidRepository) ListChain(ctx context.Context, rootID string) ([]*domain.Bid, error) {
	m.mu.RLock()
	inChain := map[string]bool{rootID: true}
	for changed := true; changed; {
		changed = false
		for _, b := range m.bids {
			if !inChain[b.ID] && inChain[b.ParentBidID] {
				inChain[b.ID] = true
				changed = true
			}
		}
	}
	m.mu.RUnlock()

	chain := m.filter(func(b *domain.Bid) bool { return inChain[b.ID] })
	sort.SliceStable(chain, func(i, j int) bool { return chain[i].BidCount < chain[j].BidCount })
	return chain, nil
}

func (m *MockBidRepository) UpdateStatusIf(ctx context.Context, id string, to domain.BidStatus, from ...domain.BidStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bids[id]
	if !ok || !containsStatus(from, b.Status) {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = time.Now()
	return true, nil
}

func (m *MockBidRepository) UpdateStatusByRide(ctx context.Context, rideID, exceptID string, to domain.BidStatus, from ...domain.BidStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, b := range m.bids {
		if b.RideID == rideID && b.ID != exceptID && containsStatus(from, b.Status) {
			b.Status = to
			b.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

type bidSnapshot struct {
	bids  map[string]*domain.Bid
	order []string
}

func (m *MockBidRepository) snapshot() bidSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := bidSnapshot{bids: make(map[string]*domain.Bid, len(m.bids)), order: append([]string(nil), m.order...)}
	for id, b := range m.bids {
		c := *b
		snap.bids[id] = &c
	}
	return snap
}

func (m *MockBidRepository) restore(snap bidSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bids = snap.bids
	m.order = snap.order
}

// ──────────────────────────────────────────────
// MOCK PAYMENT REPOSITORIES
// ──────────────────────────────────────────────

// MockPaymentRepository is an in-memory PaymentRepository.
type MockPaymentRepository struct {
	mu    sync.RWMutex
	txns  map[string]*domain.PaymentTransaction
	order []string
}

// NewMockPaymentRepository creates a new mock payment repository.
func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{txns: make(map[string]*domain.PaymentTransaction)}
}

// ForRide returns every stored transaction of a ride, oldest first.
func (m *MockPaymentRepository) ForRide(rideID string) []*domain.PaymentTransaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.PaymentTransaction
	for _, id := range m.order {
		if t := m.txns[id]; t.RideID == rideID {
			c := *t
			out = append(out, &c)
		}
	}
	return out
}

func (m *MockPaymentRepository) Create(ctx context.Context, txn *domain.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txns {
		if t.IdempotencyKey != "" && t.IdempotencyKey == txn.IdempotencyKey {
			return repository.ErrDuplicate
		}
	}
	c := *txn
	m.txns[txn.ID] = &c
	m.order = append(m.order, txn.ID)
	return nil
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id string) (*domain.PaymentTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.txns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (m *MockPaymentRepository) GetByGatewayChargeID(ctx context.Context, chargeID string) (*domain.PaymentTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.txns {
		if chargeID != "" && t.GatewayChargeID == chargeID {
			c := *t
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MockPaymentRepository) GetLatestByRide(ctx context.Context, rideID string) (*domain.PaymentTransaction, error) {
	all := m.ForRide(rideID)
	if len(all) == 0 {
		return nil, nil
	}
	return all[len(all)-1], nil
}

func (m *MockPaymentRepository) CountByRide(ctx context.Context, rideID string) (int, error) {
	return len(m.ForRide(rideID)), nil
}

func (m *MockPaymentRepository) Update(ctx context.Context, txn *domain.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txns[txn.ID]; !ok {
		return repository.ErrNotFound
	}
	c := *txn
	m.txns[txn.ID] = &c
	return nil
}

type paymentSnapshot struct {
	txns  map[string]*domain.PaymentTransaction
	order []string
}

func (m *MockPaymentRepository) snapshot() paymentSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := paymentSnapshot{txns: make(map[string]*domain.PaymentTransaction, len(m.txns)), order: append([]string(nil), m.order...)}
	for id, t := range m.txns {
		c := *t
		snap.txns[id] = &c
	}
	return snap
}

func (m *MockPaymentRepository) restore(snap paymentSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txns = snap.txns
	m.order = snap.order
}

// MockPaymentMethodRepository is an in-memory PaymentMethodRepository.
type MockPaymentMethodRepository struct {
	mu      sync.RWMutex
	methods []*domain.PaymentMethod
}

// NewMockPaymentMethodRepository creates a new mock payment method repository.
func NewMockPaymentMethodRepository() *MockPaymentMethodRepository {
	return &MockPaymentMethodRepository{}
}

func (m *MockPaymentMethodRepository) Create(ctx context.Context, method *domain.PaymentMethod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *method
	m.methods = append(m.methods, &c)
	return nil
}

func (m *MockPaymentMethodRepository) GetDefaultByUser(ctx context.Context, userID string) (*domain.PaymentMethod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pm := range m.methods {
		if pm.UserID == userID && pm.IsDefault {
			c := *pm
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MockPaymentMethodRepository) ListByUser(ctx context.Context, userID string) ([]*domain.PaymentMethod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.PaymentMethod
	for _, pm := range m.methods {
		if pm.UserID == userID {
			c := *pm
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MockPaymentMethodRepository) SetDefault(ctx context.Context, userID, methodID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, pm := range m.methods {
		if pm.UserID == userID && pm.ID == methodID {
			found = true
		}
	}
	if !found {
		return repository.ErrNotFound
	}
	for _, pm := range m.methods {
		if pm.UserID == userID {
			pm.IsDefault = pm.ID == methodID
		}
	}
	return nil
}

// ──────────────────────────────────────────────
// MOCK PAYOUT REPOSITORY
// ──────────────────────────────────────────────

// MockPayoutRepository is an in-memory PayoutRepository with a unique ride index.
type MockPayoutRepository struct {
	mu         sync.RWMutex
	payouts    map[string]*domain.DriverPayout
	updateErrs []error

	CreateCallCount int32
}

// NewMockPayoutRepository creates a new mock payout repository.
func NewMockPayoutRepository() *MockPayoutRepository {
	return &MockPayoutRepository{payouts: make(map[string]*domain.DriverPayout)}
}

// Count returns the number of stored payouts.
func (m *MockPayoutRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.payouts)
}

func (m *MockPayoutRepository) Create(ctx context.Context, payout *domain.DriverPayout) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payouts {
		if p.RideID == payout.RideID {
			return repository.ErrDuplicate
		}
	}
	c := *payout
	m.payouts[payout.ID] = &c
	return nil
}

func (m *MockPayoutRepository) GetByID(ctx context.Context, id string) (*domain.DriverPayout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payouts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *MockPayoutRepository) find(keep func(*domain.DriverPayout) bool) *domain.DriverPayout {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.payouts {
		if keep(p) {
			c := *p
			return &c
		}
	}
	return nil
}

func (m *MockPayoutRepository) GetByRide(ctx context.Context, rideID string) (*domain.DriverPayout, error) {
	return m.find(func(p *domain.DriverPayout) bool { return p.RideID == rideID }), nil
}

func (m *MockPayoutRepository) GetByTransferID(ctx context.Context, transferID string) (*domain.DriverPayout, error) {
	return m.find(func(p *domain.DriverPayout) bool { return transferID != "" && p.GatewayTransferID == transferID }), nil
}

// FailUpdates queues errors for the next Update or UpdateStatusIf calls.
func (m *MockPayoutRepository) FailUpdates(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateErrs = append(m.updateErrs, errs...)
}

func (m *MockPayoutRepository) nextUpdateErr() error {
	if len(m.updateErrs) == 0 {
		return nil
	}
	err := m.updateErrs[0]
	m.updateErrs = m.updateErrs[1:]
	return err
}

func (m *MockPayoutRepository) Update(ctx context.Context, payout *domain.DriverPayout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.nextUpdateErr(); err != nil {
		return err
	}
	if _, ok := m.payouts[payout.ID]; !ok {
		return repository.ErrNotFound
	}
	c := *payout
	m.payouts[payout.ID] = &c
	return nil
}

func (m *MockPayoutRepository) UpdateStatusIf(ctx context.Context, id string, to domain.PayoutStatus, from ...domain.PayoutStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.nextUpdateErr(); err != nil {
		return false, err
	}
	p, ok := m.payouts[id]
	if !ok || !containsStatus(from, p.Status) {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = time.Now()
	return true, nil
}

func (m *MockPayoutRepository) snapshot() map[string]*domain.DriverPayout {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := make(map[string]*domain.DriverPayout, len(m.payouts))
	for id, p := range m.payouts {
		c := *p
		snap[id] = &c
	}
	return snap
}

func (m *MockPayoutRepository) restore(snap map[string]*domain.DriverPayout) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payouts = snap
}

// ──────────────────────────────────────────────
// MOCK USER, DRIVER AND SETTINGS REPOSITORIES
// ──────────────────────────────────────────────

// MockUserRepository is an in-memory UserRepository.
type MockUserRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User
}

// NewMockUserRepository creates a new mock user repository.
func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{users: make(map[string]*domain.User)}
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Phone == user.Phone {
			return repository.ErrDuplicate
		}
	}
	c := *user
	m.users[user.ID] = &c
	return nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *MockUserRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Phone == phone {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MockUserRepository) GetAll(ctx context.Context) ([]*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.User, 0, len(m.users))
	for _, u := range m.users {
		c := *u
		out = append(out, &c)
	}
	return out, nil
}

// MockDriverRepository is an in-memory DriverRepository.
type MockDriverRepository struct {
	mu      sync.RWMutex
	drivers map[string]*domain.Driver

	UpdateStatusCallCount int32
}

// NewMockDriverRepository creates a new mock driver repository.
func NewMockDriverRepository() *MockDriverRepository {
	return &MockDriverRepository{drivers: make(map[string]*domain.Driver)}
}

// GetDriver returns the stored driver for assertions.
func (m *MockDriverRepository) GetDriver(id string) *domain.Driver {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.drivers[id]; ok {
		c := *d
		return &c
	}
	return nil
}

func (m *MockDriverRepository) Create(ctx context.Context, driver *domain.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.drivers {
		if d.Phone == driver.Phone {
			return repository.ErrDuplicate
		}
	}
	c := *driver
	m.drivers[driver.ID] = &c
	return nil
}

func (m *MockDriverRepository) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	if d := m.GetDriver(id); d != nil {
		return d, nil
	}
	return nil, repository.ErrNotFound
}

func (m *MockDriverRepository) GetByPhone(ctx context.Context, phone string) (*domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.drivers {
		if d.Phone == phone {
			c := *d
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MockDriverRepository) GetAll(ctx context.Context) ([]*domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		c := *d
		out = append(out, &c)
	}
	return out, nil
}

func (m *MockDriverRepository) UpdateStatus(ctx context.Context, id string, status domain.DriverStatus) error {
	atomic.AddInt32(&m.UpdateStatusCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.Status = status
	return nil
}

func (m *MockDriverRepository) SetConnectedAccount(ctx context.Context, id, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.ConnectedAccountID = accountID
	return nil
}

// FixedFee is a PlatformFeeSource returning a constant percentage.
type FixedFee float64

func (f FixedFee) PlatformFeePercent(context.Context) (float64, error) {
	return float64(f), nil
}

// ──────────────────────────────────────────────
// MOCK TRANSACTION MANAGER
// ──────────────────────────────────────────────

// MockTxManager runs units of work one at a time against the mock
// repositories and restores their previous contents when fn fails.
type MockTxManager struct {
	mu       sync.Mutex
	rides    *MockRideRepository
	bids     *MockBidRepository
	payments *MockPaymentRepository
	payouts  *MockPayoutRepository

	Commits   int32
	Rollbacks int32
}

// NewMockTxManager creates a MockTxManager over the given repositories.
func NewMockTxManager(rides *MockRideRepository, bids *MockBidRepository, payments *MockPaymentRepository, payouts *MockPayoutRepository) *MockTxManager {
	return &MockTxManager{rides: rides, bids: bids, payments: payments, payouts: payouts}
}

func (m *MockTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rides, bids, payments, payouts := m.rides.snapshot(), m.bids.snapshot(), m.payments.snapshot(), m.payouts.snapshot()
	err := fn(ctx, repository.Repositories{
		Rides:    m.rides,
		Bids:     m.bids,
		Payments: m.payments,
		Payouts:  m.payouts,
	})
	if err != nil {
		m.rides.restore(rides)
		m.bids.restore(bids)
		m.payments.restore(payments)
		m.payouts.restore(payouts)
		atomic.AddInt32(&m.Rollbacks, 1)
		return err
	}
	atomic.AddInt32(&m.Commits, 1)
	return nil
}

// ──────────────────────────────────────────────
// MOCK GATEWAY AND NOTIFICATIONS
// ──────────────────────────────────────────────

// FlakyGateway wraps a gateway and fails the next calls with the queued
// errors before passing requests through. A failing CreateCharge can still
// reach the inner gateway first to model a response lost in transit.
type FlakyGateway struct {
	service.PaymentGateway

	mu              sync.Mutex
	chargeErrs      []error
	transferErrs    []error
	LoseChargeReply bool

	ChargeCalls   int32
	TransferCalls int32
	ChargeKeys    []string
}

// NewFlakyGateway wraps inner.
func NewFlakyGateway(inner service.PaymentGateway) *FlakyGateway {
	return &FlakyGateway{PaymentGateway: inner}
}

// FailCharges queues errors for the next CreateCharge calls.
func (g *FlakyGateway) FailCharges(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chargeErrs = append(g.chargeErrs, errs...)
}

// FailTransfers queues errors for the next CreateTransfer calls.
func (g *FlakyGateway) FailTransfers(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transferErrs = append(g.transferErrs, errs...)
}

func (g *FlakyGateway) CreateCharge(ctx context.Context, req service.ChargeRequest) (*service.Charge, error) {
	atomic.AddInt32(&g.ChargeCalls, 1)
	g.mu.Lock()
	g.ChargeKeys = append(g.ChargeKeys, req.IdempotencyKey)
	var err error
	if len(g.chargeErrs) > 0 {
		err, g.chargeErrs = g.chargeErrs[0], g.chargeErrs[1:]
	}
	lose := g.LoseChargeReply
	g.mu.Unlock()

	if err != nil {
		if lose {
			_, _ = g.PaymentGateway.CreateCharge(ctx, req)
		}
		return nil, err
	}
	return g.PaymentGateway.CreateCharge(ctx, req)
}

func (g *FlakyGateway) CreateTransfer(ctx context.Context, req service.TransferRequest) (*service.Transfer, error) {
	atomic.AddInt32(&g.TransferCalls, 1)
	g.mu.Lock()
	var err error
	if len(g.transferErrs) > 0 {
		err, g.transferErrs = g.transferErrs[0], g.transferErrs[1:]
	}
	g.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return g.PaymentGateway.CreateTransfer(ctx, req)
}

// RecordingSink keeps every notification sent.
type RecordingSink struct {
	mu   sync.Mutex
	sent []service.Notification
}

func (s *RecordingSink) Send(_ context.Context, n service.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

// OfType returns the notifications of type t.
func (s *RecordingSink) OfType(t service.NotificationType) []service.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []service.Notification
	for _, n := range s.sent {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// ──────────────────────────────────────────────
// MOCK REDIS STORES
// ──────────────────────────────────────────────

// MockLocationStore is an in-memory LocationStoreInterface.
type MockLocationStore struct {
	mu        sync.RWMutex
	locations map[string]redis.DriverLocation
}

// NewMockLocationStore creates a new mock location store.
func NewMockLocationStore() *MockLocationStore {
	return &MockLocationStore{locations: make(map[string]redis.DriverLocation)}
}

func (m *MockLocationStore) UpdateLocation(ctx context.Context, driverID string, lat, lng float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[driverID] = redis.DriverLocation{DriverID: driverID, Lat: lat, Lng: lng}
	return nil
}

// FindNearbyDrivers returns every stored driver; distance is not modelled.
func (m *MockLocationStore) FindNearbyDrivers(ctx context.Context, lat, lng, radiusKm float64) ([]redis.DriverLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]redis.DriverLocation, 0, len(m.locations))
	for _, l := range m.locations {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DriverID < out[j].DriverID })
	return out, nil
}

func (m *MockLocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locations, driverID)
	return nil
}

// Has reports whether the driver has a stored location.
func (m *MockLocationStore) Has(driverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.locations[driverID]
	return ok
}

// MockLockStore is an in-memory LockStoreInterface.
type MockLockStore struct {
	mu    sync.Mutex
	held  map[string]string
	count int
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{held: make(map[string]string)}
}

func (m *MockLockStore) Acquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[name]; ok {
		return "", false, nil
	}
	m.count++
	token := name + "-" + time.Now().Format(time.RFC3339Nano)
	m.held[name] = token
	return token, true, nil
}

func (m *MockLockStore) Release(ctx context.Context, name, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[name] == token {
		delete(m.held, name)
	}
	return nil
}

// Hold takes the lock as another replica would.
func (m *MockLockStore) Hold(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[name] = "other-replica"
}

// Acquisitions returns how many times a lock was granted.
func (m *MockLockStore) Acquisitions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Ensure mocks implement their interfaces.
var (
	_ repository.RideRepository          = (*MockRideRepository)(nil)
	_ repository.BidRepository           = (*MockBidRepository)(nil)
	_ repository.PaymentRepository       = (*MockPaymentRepository)(nil)
	_ repository.PaymentMethodRepository = (*MockPaymentMethodRepository)(nil)
	_ repository.PayoutRepository        = (*MockPayoutRepository)(nil)
	_ repository.UserRepository          = (*MockUserRepository)(nil)
	_ repository.DriverRepository        = (*MockDriverRepository)(nil)
	_ repository.TxManager               = (*MockTxManager)(nil)
	_ redis.LocationStoreInterface       = (*MockLocationStore)(nil)
	_ redis.LockStoreInterface           = (*MockLockStore)(nil)
	_ service.PaymentGateway             = (*FlakyGateway)(nil)
	_ service.NotificationSink           = (*RecordingSink)(nil)
)
