package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ironspire/realmgate/internal/model"
)

// GetAccount retrieves an account by login. Returns nil, nil if the
// account does not exist.
func (d *DB) GetAccount(ctx context.Context, login string) (*model.Account, error) {
	login = strings.ToLower(login)
	var acc model.Account
	err := d.pool.QueryRow(ctx,
		`SELECT login, password_hash, access_level, last_server, last_ip, last_active
		 FROM accounts WHERE login = $1`, login,
	).Scan(&acc.Login, &acc.PasswordHash, &acc.AccessLevel, &acc.LastServer, &acc.LastIP, &acc.LastActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying account %q: %w", login, err)
	}
	return &acc, nil
}

// CreateAccount inserts a new account with the given password hash.
func (d *DB) CreateAccount(ctx context.Context, login, passwordHash, ip string) error {
	login = strings.ToLower(login)
	_, err := d.pool.Exec(ctx,
		`INSERT INTO accounts (login, password_hash, last_active, access_level, last_ip)
		 VALUES ($1, $2, $3, 0, $4)`,
		login, passwordHash, time.Now(), ip,
	)
	if err != nil {
		return fmt.Errorf("creating account %q: %w", login, err)
	}
	return nil
}

// TouchLastLogin updates an account's last-server and last-ip on
// successful authentication.
func (d *DB) TouchLastLogin(ctx context.Context, login string, lastServer int, ip string) error {
	login = strings.ToLower(login)
	_, err := d.pool.Exec(ctx,
		`UPDATE accounts SET last_server = $2, last_ip = $3, last_active = $4 WHERE login = $1`,
		login, lastServer, ip, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("touching last login for %q: %w", login, err)
	}
	return nil
}
