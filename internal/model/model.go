// Package model holds the plain data structures persisted by internal/db
// and passed between the login and channel processes.
package model

import "time"

// Account is a player's login credential and metadata row.
type Account struct {
	Login        string
	PasswordHash string
	AccessLevel  int
	LastServer   int
	LastIP       string
	LastActive   time.Time
}

// CharacterSummary is the lightweight projection shown in a world's
// character-select list.
type CharacterSummary struct {
	ID        uint32
	Login     string
	Name      string
	Level     int
	ClassID   int
	Slot      int
	DeleteAt  *time.Time
}

// Character is a full character record, including the join data needed
// to reconstruct inventory and equipment state on login.
type Character struct {
	CharacterSummary

	Exp         int64
	SP          int64
	Hp, MaxHp   float64
	Mp, MaxMp   float64
	X, Y, Z     int
	Heading     int

	Inventory []Item
	Equipped  map[EquipSlot]uint32 // item id, keyed by slot
	Quests    []QuestState
}

// Item is one inventory row belonging to a character.
type Item struct {
	ID          uint32 // 0 for a brand-new item not yet assigned an id
	OwnerID     uint32
	TemplateID  int
	Count       int64
	EnchantLvl  int
	Location    string // "inventory", "paperdoll", "warehouse", ...
	SoftDeleted bool
}

// EquipSlot identifies a paperdoll slot.
type EquipSlot int

// QuestState is one quest's progress for a character.
type QuestState struct {
	CharacterID uint32
	QuestID     int
	State       string
	Vars        map[string]string
}

// MonsterDrop is one possible drop entry for a monster template, read
// by the channel process when a monster dies.
type MonsterDrop struct {
	ID                 uint32
	MonsterID          int
	TemplateID         int
	MinCount, MaxCount int64
	Chance             float64 // 0..1
}

// PendingToken mirrors control.TokenIssue on the login side while the
// login process waits for the client to actually connect to the
// channel and redeem it.
type PendingToken struct {
	Token       uint32
	CharacterID uint32
	ChannelID   string
	IssuedAt    time.Time
}
