package admission

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock returns the current time. Components accept a Clock so tests can
// control window expiry and day rollover without sleeping.
type Clock func() time.Time

// SystemClock is the wall clock.
func SystemClock() time.Time { return time.Now() }

// Reservation is a committed charge bound to one (key, amount, timestamp)
// triple. Release undoes the charge exactly once.
type Reservation struct {
	// Key identifies the ledger the charge was made against.
	Key string

	// Amount is the charged amount in its ledger's units.
	Amount string

	// Timestamp is when the charge was committed.
	Timestamp time.Time

	rollback func()
	once     sync.Once
	released atomic.Bool
}

// NewReservation returns a Reservation whose first Release runs rollback.
func NewReservation(key, amount string, ts time.Time, rollback func()) *Reservation {
	return &Reservation{
		Key:       key,
		Amount:    amount,
		Timestamp: ts,
		rollback:  rollback,
	}
}

// Release undoes the charge. Only the first call has an effect; it is safe to
// call from multiple goroutines and on a nil receiver.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		if r.rollback != nil {
			r.rollback()
		}
		r.released.Store(true)
	})
}

// Released reports whether Release has run.
func (r *Reservation) Released() bool {
	if r == nil {
		return true
	}
	return r.released.Load()
}

// Join combines reservations into one whose Release releases every member in
// reverse order of acquisition. Nil members are skipped.
func Join(key string, ts time.Time, members ...*Reservation) *Reservation {
	held := make([]*Reservation, 0, len(members))
	for _, m := range members {
		if m != nil {
			held = append(held, m)
		}
	}
	return NewReservation(key, "", ts, func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release()
		}
	})
}
