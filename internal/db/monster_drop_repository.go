package db

import (
	"context"
	"fmt"

	"github.com/ironspire/realmgate/internal/model"
)

// MonsterDrops returns every drop entry configured for a monster
// template, used by the channel process to roll loot on a kill.
func (d *DB) MonsterDrops(ctx context.Context, monsterID int) ([]model.MonsterDrop, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, monster_id, template_id, min_count, max_count, chance
		 FROM monster_drops WHERE monster_id = $1`, monsterID)
	if err != nil {
		return nil, fmt.Errorf("loading drops for monster %d: %w", monsterID, err)
	}
	defer rows.Close()

	var out []model.MonsterDrop
	for rows.Next() {
		var drop model.MonsterDrop
		if err := rows.Scan(&drop.ID, &drop.MonsterID, &drop.TemplateID, &drop.MinCount, &drop.MaxCount, &drop.Chance); err != nil {
			return nil, fmt.Errorf("scanning drop row: %w", err)
		}
		out = append(out, drop)
	}
	return out, rows.Err()
}
