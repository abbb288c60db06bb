package control

import (
	"sync"
)

// PendingTokens is a channel process's in-memory set of tokens issued
// by login but not yet redeemed by a connecting client (spec.md §4.4
// "Token lifecycle"). It is wiped whenever the channel reconnects fresh
// (handshake byte HandshakeFresh), since login's view of it is stale at
// that point.
type PendingTokens struct {
	mu    sync.Mutex
	byTok map[uint32]uint32 // token -> character id
}

// NewPendingTokens creates an empty pending-token set.
func NewPendingTokens() *PendingTokens {
	return &PendingTokens{byTok: make(map[uint32]uint32)}
}

// Add records a newly issued token.
func (p *PendingTokens) Add(token, characterID uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byTok[token] = characterID
}

// Redeem consumes token exactly once, returning the character id it was
// issued for. ok is false if the token is unknown or already redeemed.
func (p *PendingTokens) Redeem(token uint32) (characterID uint32, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	characterID, ok = p.byTok[token]
	if ok {
		delete(p.byTok, token)
	}
	return characterID, ok
}

// Reset discards every pending token, used when the channel reconnects
// fresh to login and must assume any client waiting on an old token
// will be told to log in again.
func (p *PendingTokens) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byTok = make(map[uint32]uint32)
}

// Len reports the number of tokens currently pending.
func (p *PendingTokens) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byTok)
}
