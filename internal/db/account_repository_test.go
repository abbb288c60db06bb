package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccountCreateGetAndTouch(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	require.NoError(t, d.CreateAccount(ctx, "Player1", hash, "10.0.0.1"))

	acc, err := d.GetAccount(ctx, "player1")
	require.NoError(t, err)
	require.NotNil(t, acc)
	require.Equal(t, "player1", acc.Login)
	require.True(t, CheckPassword(acc.PasswordHash, "correct horse battery staple"))

	require.NoError(t, d.TouchLastLogin(ctx, "player1", 2, "10.0.0.2"))
	acc, err = d.GetAccount(ctx, "player1")
	require.NoError(t, err)
	require.Equal(t, 2, acc.LastServer)
	require.Equal(t, "10.0.0.2", acc.LastIP)
}

func TestGetAccountMissingReturnsNil(t *testing.T) {
	d := newTestDB(t)
	acc, err := d.GetAccount(context.Background(), "nobody")
	require.NoError(t, err)
	require.Nil(t, acc)
}
