package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"endgame-arena/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	checksummedAddr = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	lowerAddr       = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	badChecksum     = "0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
)

func TestNormalizeWalletAddress(t *testing.T) {
	got, err := NormalizeWalletAddress(lowerAddr)
	require.NoError(t, err)
	assert.Equal(t, checksummedAddr, got)

	got, err = NormalizeWalletAddress(checksummedAddr)
	require.NoError(t, err)
	assert.Equal(t, checksummedAddr, got)

	for _, bad := range []string{badChecksum, "0x123", "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", "0xZZaeb6053f3e94c9b9a09f33669435e7ef1beaed"} {
		_, err := NormalizeWalletAddress(bad)
		assert.True(t, errors.Is(err, ErrInvalidInput), "address %q: got %v", bad, err)
	}
}

func TestLinkWallet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	claims := NewClaimTokens("wallet-secret", time.Minute)
	svc := NewWalletService(db, claims)

	a := seedAgent(t, db, "linker", models.WeightClassLight)
	b := seedAgent(t, db, "squatter", models.WeightClassLight)
	tokA, _, err := claims.Issue(a.ID)
	require.NoError(t, err)
	tokB, _, err := claims.Issue(b.ID)
	require.NoError(t, err)

	_, err = svc.LinkWallet(ctx, a.ID, lowerAddr, tokB)
	assert.True(t, errors.Is(err, ErrForbidden), "got %v", err)

	_, err = svc.LinkWallet(ctx, a.ID, lowerAddr, "garbage")
	assert.True(t, errors.Is(err, ErrUnauthorized), "got %v", err)

	linked, err := svc.LinkWallet(ctx, a.ID, lowerAddr, tokA)
	require.NoError(t, err)
	require.NotNil(t, linked.WalletAddress)
	assert.Equal(t, checksummedAddr, *linked.WalletAddress)

	_, err = svc.LinkWallet(ctx, a.ID, "0x0000000000000000000000000000000000000001", tokA)
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)

	_, err = svc.LinkWallet(ctx, b.ID, checksummedAddr, tokB)
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)
}
