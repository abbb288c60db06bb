// Package channel implements a game channel's client-facing application
// layer (spec.md §4.3): token redemption on a client's first packet,
// room membership via internal/reactor, and logout/capacity reporting
// back to login over internal/control. Game content (maps, item stats,
// monster tables, quest/dialogue scripts) is deliberately abstracted
// behind ContentRepository and ScriptHost — spec.md §1 scopes game
// logic and content data out of the core, so this package never reads
// them directly.
package channel

import "github.com/ironspire/realmgate/internal/model"

// ContentRepository is the read-only seam onto static game data. The
// channel process never implements this itself; it is supplied by
// whatever layer above the core loads map/item/monster definitions.
type ContentRepository interface {
	// MonsterDrops returns the possible drop table for a monster
	// template, used when a monster dies to roll loot.
	MonsterDrops(monsterID int) ([]model.MonsterDrop, error)
}

// ScriptHost is the seam onto dialogue/quest scripting. The core treats
// every script interaction as an opaque request/response exchange keyed
// by a script id the content layer assigns; it never inspects the
// payload.
type ScriptHost interface {
	// Invoke runs the named script against a character, returning
	// whatever reply bytes the script produced for the client.
	Invoke(scriptID string, characterID uint32, request []byte) ([]byte, error)
}
