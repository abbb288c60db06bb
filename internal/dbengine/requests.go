package dbengine

import (
	"context"
	"fmt"

	"github.com/ironspire/realmgate/internal/model"
)

// AccountCreateRequest builds the account-create operation (spec.md
// §4.5's tagged parameter union, "create ... for account").
func AccountCreateRequest(conn *Connection, login, passwordHash, ip string) *Request {
	return NewRequest(conn, func(ctx context.Context, c *Connection) (any, error) {
		if err := c.DB().CreateAccount(ctx, login, passwordHash, ip); err != nil {
			return nil, fmt.Errorf("dbengine: account create: %w", err)
		}
		return nil, nil
	})
}

// AccountReadRequest builds the account-read operation.
func AccountReadRequest(conn *Connection, login string) *Request {
	return NewRequest(conn, func(ctx context.Context, c *Connection) (any, error) {
		acc, err := c.DB().GetAccount(ctx, login)
		if err != nil {
			return nil, fmt.Errorf("dbengine: account read: %w", err)
		}
		return acc, nil
	})
}

// AccountTouchRequest builds the account-update operation recorded on
// successful authentication.
func AccountTouchRequest(conn *Connection, login string, lastServer int, ip string) *Request {
	return NewRequest(conn, func(ctx context.Context, c *Connection) (any, error) {
		if err := c.DB().TouchLastLogin(ctx, login, lastServer, ip); err != nil {
			return nil, fmt.Errorf("dbengine: account update: %w", err)
		}
		return nil, nil
	})
}

// CharacterListRequest builds the "character list per world" operation.
func CharacterListRequest(conn *Connection, login string, worldID int) *Request {
	return NewRequest(conn, func(ctx context.Context, c *Connection) (any, error) {
		list, err := c.DB().ListCharacters(ctx, login, worldID)
		if err != nil {
			return nil, fmt.Errorf("dbengine: character list: %w", err)
		}
		return list, nil
	})
}

// CharacterDetailsRequest builds the "character details" operation,
// loading inventory/equipment/quest joins alongside the row.
func CharacterDetailsRequest(conn *Connection, id uint32) *Request {
	return NewRequest(conn, func(ctx context.Context, c *Connection) (any, error) {
		ch, err := c.DB().GetCharacter(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("dbengine: character details: %w", err)
		}
		return ch, nil
	})
}

// CharacterCreateRequest builds the character-creation operation.
func CharacterCreateRequest(conn *Connection, login string, worldID int, name string, classID, slot int) *Request {
	return NewRequest(conn, func(ctx context.Context, c *Connection) (any, error) {
		id, err := c.DB().CreateCharacter(ctx, login, worldID, name, classID, slot)
		if err != nil {
			return nil, fmt.Errorf("dbengine: character create: %w", err)
		}
		return id, nil
	})
}

// MonsterDropsRequest builds the "monster drops" read operation.
func MonsterDropsRequest(conn *Connection, monsterID int) *Request {
	return NewRequest(conn, func(ctx context.Context, c *Connection) (any, error) {
		drops, err := c.DB().MonsterDrops(ctx, monsterID)
		if err != nil {
			return nil, fmt.Errorf("dbengine: monster drops: %w", err)
		}
		return drops, nil
	})
}

// CharacterUpdateRequest builds the heaviest request in the engine: the
// full multi-statement character persistence pipeline (spec.md §4.5
// "Character update request specifics"), delegated to
// internal/db.UpdateCharacter, which implements the soft-delete,
// upsert, generated-id backfill, and join-table rebuild sequence.
func CharacterUpdateRequest(conn *Connection, character *model.Character) *Request {
	return NewRequest(conn, func(ctx context.Context, c *Connection) (any, error) {
		if err := c.DB().UpdateCharacter(ctx, character); err != nil {
			return nil, fmt.Errorf("dbengine: character update: %w", err)
		}
		return character, nil
	})
}
