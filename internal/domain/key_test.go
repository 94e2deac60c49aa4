package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func newKey(balance int) *Key {
	return &Key{Token: "k1", PageBalance: balance, MaxUses: 1, IsActive: balance > 0, CreatedAt: now, UpdatedAt: now}
}

func TestKey_Debit(t *testing.T) {
	tests := []struct {
		name        string
		key         *Key
		pages       int
		wantErr     error
		wantBalance int
		wantActive  bool
	}{
		{name: "partial debit", key: newKey(10), pages: 8, wantBalance: 2, wantActive: true},
		{name: "exhausts balance", key: newKey(5), pages: 5, wantBalance: 0, wantActive: false},
		{name: "insufficient", key: newKey(5), pages: 8, wantErr: ErrInsufficientBalance, wantBalance: 5, wantActive: true},
		{name: "non-positive pages", key: newKey(5), pages: 0, wantErr: ErrValidation, wantBalance: 5, wantActive: true},
		{
			name: "expired key",
			key: func() *Key {
				k := newKey(5)
				exp := now.Add(-time.Minute)
				k.ExpiresAt = &exp
				return k
			}(),
			pages:       1,
			wantErr:     ErrKeyExpired,
			wantBalance: 5,
			wantActive:  true,
		},
		{
			name: "deactivated key",
			key: func() *Key {
				k := newKey(5)
				k.Deactivate(now)
				return k
			}(),
			pages:       1,
			wantErr:     ErrKeyInactive,
			wantBalance: 5,
			wantActive:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Debit(tt.pages, now)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantBalance, tt.key.PageBalance)
			assert.Equal(t, tt.wantActive, tt.key.IsActive)
		})
	}
}

func TestKey_ExpiredIsInactive(t *testing.T) {
	assert.ErrorIs(t, ErrKeyExpired, ErrKeyInactive)
}

func TestKey_DebitCreditConserves(t *testing.T) {
	k := newKey(10)
	require.NoError(t, k.Debit(4, now))
	require.NoError(t, k.Debit(6, now))
	assert.False(t, k.IsActive)
	assert.Equal(t, 2, k.UsedCount)

	require.NoError(t, k.Credit(6, now))
	require.NoError(t, k.Credit(4, now))
	assert.Equal(t, 10, k.PageBalance)
	assert.Equal(t, 0, k.UsedCount)
	assert.True(t, k.IsActive)
}

func TestKey_CreditKeepsExplicitDeactivation(t *testing.T) {
	k := newKey(3)
	require.NoError(t, k.Debit(3, now))
	k.Deactivate(now)

	require.NoError(t, k.Credit(3, now))
	assert.Equal(t, 3, k.PageBalance)
	assert.False(t, k.IsActive)
}

func TestKey_Absorb(t *testing.T) {
	target := newKey(10)
	src := newKey(4)

	moved := target.Absorb(src, now)

	assert.Equal(t, 4, moved)
	assert.Equal(t, 14, target.PageBalance)
	assert.Equal(t, 0, src.PageBalance)
	assert.False(t, src.IsActive)
	assert.True(t, src.Deactivated)
}

func TestKey_Active(t *testing.T) {
	k := newKey(1)
	exp := now.Add(time.Hour)
	k.ExpiresAt = &exp

	assert.True(t, k.Active(now))
	assert.False(t, k.Active(exp))
}
