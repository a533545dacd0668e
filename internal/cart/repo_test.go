package cart

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

func TestRepositoryFindOrCreateActive(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	user := dbtest.MustCreateUser(t, conn)

	err := conn.Transaction(func(tx *gorm.DB) error {
		first, created, err := repo.WithTx(tx).FindOrCreateActive(ctx, ownerForUser(user.ID))
		require.NoError(t, err)
		assert.True(t, created)

		second, created, err := repo.WithTx(tx).FindOrCreateActive(ctx, ownerForUser(user.ID))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestRepositoryActiveCartUniquePerIdentity(t *testing.T) {
	conn := dbtest.Open(t)
	session := "sess-unique"

	require.NoError(t, conn.Create(&models.Cart{SessionID: &session, Status: enums.CartStatusActive}).Error)
	err := conn.Create(&models.Cart{SessionID: &session, Status: enums.CartStatusActive}).Error
	require.Error(t, err, "a second active cart for the same session must be rejected")

	require.NoError(t, conn.Create(&models.Cart{SessionID: &session, Status: enums.CartStatusMerged}).Error)
}

func TestRepositoryUpdateStatusIsConditional(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	session := "sess-status"
	cart := &models.Cart{SessionID: &session, Status: enums.CartStatusActive}
	require.NoError(t, conn.Create(cart).Error)

	rows, err := repo.UpdateStatus(ctx, cart.ID, enums.CartStatusActive, enums.CartStatusMerged)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rows)

	rows, err = repo.UpdateStatus(ctx, cart.ID, enums.CartStatusActive, enums.CartStatusMerged)
	require.NoError(t, err)
	assert.Zero(t, rows)
}

func TestRepositoryRetention(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	user := dbtest.MustCreateUser(t, conn)
	product := dbtest.MustCreateProduct(t, conn, "10", 5)

	old := time.Now().Add(-60 * 24 * time.Hour)
	merged, idleGuest, freshGuest := "s-merged", "s-idle", "s-fresh"
	carts := []*models.Cart{
		{SessionID: &merged, Status: enums.CartStatusMerged},
		{SessionID: &idleGuest, Status: enums.CartStatusActive},
		{SessionID: &freshGuest, Status: enums.CartStatusActive},
		{UserID: &user.ID, Status: enums.CartStatusActive},
	}
	for _, c := range carts {
		require.NoError(t, conn.Create(c).Error)
	}
	require.NoError(t, conn.Create(&models.CartItem{CartID: carts[1].ID, ProductID: product.ID, Quantity: 1, Price: product.Price}).Error)
	for _, c := range []*models.Cart{carts[0], carts[1], carts[3]} {
		require.NoError(t, conn.Model(&models.Cart{}).Where("id = ?", c.ID).UpdateColumn("updated_at", old).Error)
	}

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	retired, err := repo.DeleteRetiredBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 1, retired)

	idle, err := repo.DeleteIdleGuestCartsBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 1, idle)

	var remaining int64
	require.NoError(t, conn.Model(&models.Cart{}).Count(&remaining).Error)
	assert.EqualValues(t, 2, remaining, "fresh guest and account carts survive")

	var lines int64
	require.NoError(t, conn.Model(&models.CartItem{}).Count(&lines).Error)
	assert.Zero(t, lines, "lines of deleted carts cascade")
}
