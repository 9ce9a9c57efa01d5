// Package memstore is an in-process implementation of the fulfillment store.
//
// Writes are applied immediately and undone if the transaction fails, so
// readers outside a transaction may observe uncommitted state. Transitions
// are still serialized per item: LockOrderItem holds the item lock, and
// ClaimPreparerSlot/ReleasePreparerSlot hold the preparer lock, until the
// transaction ends.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/database"
	"github.com/kiwari-pos/kds/internal/fulfillment"
)

var (
	_ fulfillment.Transactor = (*DB)(nil)
	_ fulfillment.Store      = (*Conn)(nil)
)

type DB struct {
	mu         sync.RWMutex
	staff      map[uuid.UUID]database.Staff
	orders     map[uuid.UUID]database.Order
	items      map[uuid.UUID]database.OrderItem
	slots      map[uuid.UUID]database.PreparerSlot
	rejections []database.ItemRejection
	orderSeq   int64

	itemLocks *keyedLocks
	slotLocks *keyedLocks

	now func() time.Time
}

func New() *DB {
	return &DB{
		staff:     make(map[uuid.UUID]database.Staff),
		orders:    make(map[uuid.UUID]database.Order),
		items:     make(map[uuid.UUID]database.OrderItem),
		slots:     make(map[uuid.UUID]database.PreparerSlot),
		itemLocks: newKeyedLocks(),
		slotLocks: newKeyedLocks(),
		now:       time.Now,
	}
}

// Queries returns a connection outside any transaction.
func (db *DB) Queries() *Conn {
	return &Conn{db: db}
}

func (db *DB) Store() fulfillment.Store {
	return db.Queries()
}

func (db *DB) WithTx(ctx context.Context, fn func(fulfillment.Store) error) (err error) {
	tx := &txn{held: make(map[string]func())}
	defer tx.release()

	defer func() {
		if p := recover(); p != nil {
			db.rollback(tx)
			panic(p)
		}
	}()

	if err = fn(&Conn{db: db, tx: tx}); err != nil {
		db.rollback(tx)
	}
	return err
}

func (db *DB) rollback(tx *txn) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// Rejections returns the recorded rejection audit rows.
func (db *DB) Rejections() []database.ItemRejection {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]database.ItemRejection(nil), db.rejections...)
}

// PutStaff, PutOrder and PutItem insert rows as-is, for seeding and tests.
func (db *DB) PutStaff(s database.Staff) {
	db.mu.Lock()
	db.staff[s.ID] = s
	db.mu.Unlock()
}

func (db *DB) PutOrder(o database.Order) {
	db.mu.Lock()
	db.orders[o.ID] = o
	if o.OrderNumber > db.orderSeq {
		db.orderSeq = o.OrderNumber
	}
	db.mu.Unlock()
}

func (db *DB) PutItem(i database.OrderItem) {
	db.mu.Lock()
	db.items[i.ID] = i
	db.mu.Unlock()
}

type txn struct {
	undo []func()
	held map[string]func()
}

func (tx *txn) release() {
	for _, unlock := range tx.held {
		unlock()
	}
	tx.held = nil
}

type keyedLocks struct {
	mu sync.Mutex
	m  map[uuid.UUID]*keyedLock
}

// keyedLock is dropped from the map once no holder or waiter refers to it.
type keyedLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{m: make(map[uuid.UUID]*keyedLock)}
}

func (k *keyedLocks) lock(ctx context.Context, id uuid.UUID) (func(), error) {
	k.mu.Lock()
	l, ok := k.m[id]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		k.m[id] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			k.release(id, l)
		}, nil
	case <-ctx.Done():
		k.release(id, l)
		return nil, ctx.Err()
	}
}

func (k *keyedLocks) release(id uuid.UUID, l *keyedLock) {
	k.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(k.m, id)
	}
	k.mu.Unlock()
}

func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.m)
}
