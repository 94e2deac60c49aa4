package domain

import "time"

// Key is a prepaid balance of translatable pages.
//
// IsActive is kept equal to PageBalance > 0 && !Deactivated by every ledger
// mutation. Expiry is time based and is folded in by Active.
type Key struct {
	Token       string     `db:"token"`
	PageBalance int        `db:"page_balance"`
	UsedCount   int        `db:"used_count"`
	MaxUses     int        `db:"max_uses"`
	IsActive    bool       `db:"is_active"`
	Deactivated bool       `db:"deactivated"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	ExpiresAt   *time.Time `db:"expires_at"`
}

// Expired reports whether the key is past its expiry at now.
func (k *Key) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// Active reports whether the key can currently authorize work.
func (k *Key) Active(now time.Time) bool {
	return k.IsActive && !k.Expired(now)
}

// Usable returns the reason the key cannot authorize work, or nil.
func (k *Key) Usable(now time.Time) error {
	if k.Deactivated || !k.IsActive {
		return ErrKeyInactive
	}
	if k.Expired(now) {
		return ErrKeyExpired
	}
	return nil
}

// Debit reserves pages against the balance.
func (k *Key) Debit(pages int, now time.Time) error {
	if pages <= 0 {
		return NewValidationError("pages", "must be positive, got %d", pages)
	}
	if err := k.Usable(now); err != nil {
		return err
	}
	if pages > k.PageBalance {
		return &InsufficientBalanceError{Token: k.Token, Available: k.PageBalance, Requested: pages}
	}
	k.PageBalance -= pages
	k.UsedCount++
	k.UpdatedAt = now
	k.syncActive()
	return nil
}

// Credit returns pages of a failed reservation to the balance.
func (k *Key) Credit(pages int, now time.Time) error {
	if pages < 0 {
		return NewValidationError("pages", "must not be negative, got %d", pages)
	}
	k.PageBalance += pages
	if k.UsedCount > 0 {
		k.UsedCount--
	}
	k.UpdatedAt = now
	k.syncActive()
	return nil
}

// Absorb moves the whole balance of src into k and deactivates src.
func (k *Key) Absorb(src *Key, now time.Time) int {
	moved := src.PageBalance
	k.PageBalance += moved
	k.UpdatedAt = now
	k.syncActive()

	src.PageBalance = 0
	src.Deactivate(now)
	return moved
}

// Deactivate marks the key as explicitly deactivated.
func (k *Key) Deactivate(now time.Time) {
	k.Deactivated = true
	k.UpdatedAt = now
	k.syncActive()
}

func (k *Key) syncActive() {
	k.IsActive = k.PageBalance > 0 && !k.Deactivated
}
