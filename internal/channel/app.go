package channel

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ironspire/realmgate/internal/control"
	"github.com/ironspire/realmgate/internal/reactor"
)

// mainRoom is the single room every redeemed session joins. Room
// transfer between distinct in-game maps is a content-layer concern
// (spec.md §1 Non-goals); the core only needs one room to demonstrate
// the hand-off machinery end to end.
const mainRoom = "main"

// App is a channel process's reactor.Application: it gates every
// session behind token redemption, then forwards packets to the
// content/script seams.
type App struct {
	pending *control.PendingTokens
	ctl     *control.Client
	content ContentRepository
	scripts ScriptHost

	online atomic.Int64
	max    int64
}

// NewApp builds a channel application. pending is the channel's own
// token set (populated by ctl's TokenHandler callback); ctl is used to
// notify login of logouts and periodic capacity.
func NewApp(pending *control.PendingTokens, ctl *control.Client, content ContentRepository, scripts ScriptHost, maxCapacity int64) *App {
	return &App{pending: pending, ctl: ctl, content: content, scripts: scripts, max: maxCapacity}
}

func (a *App) OnConnect(s *reactor.Session) error {
	s.SetAppData(&clientState{})
	return nil
}

func (a *App) OnDisconnect(s *reactor.Session) {
	cs, _ := s.AppData().(*clientState)
	if cs == nil || !cs.redeemed {
		return
	}
	a.online.Add(-1)
	a.ctl.SendLogout(cs.token)
	slog.Info("channel: session logged out", "remote", s.RemoteAddr, "character", cs.characterID)
}

func (a *App) OnClientJoin(s *reactor.Session, room *reactor.Room) {
	slog.Debug("channel: session joined room", "remote", s.RemoteAddr, "room", room.ID)
}

// OnPacket gates the first packet on token redemption (spec.md §4.4
// "Token lifecycle": "the client... sends the token in its first
// packet"); every packet after that is opaque game content, handled
// through the script seam.
func (a *App) OnPacket(s *reactor.Session, body []byte) error {
	cs, _ := s.AppData().(*clientState)
	if cs == nil {
		return fmt.Errorf("channel: session missing client state")
	}

	if !cs.redeemed {
		return a.handleRedeem(s, cs, body)
	}
	return a.handleGamePacket(s, cs, body)
}

func (a *App) handleRedeem(s *reactor.Session, cs *clientState, body []byte) error {
	token, ok := parseToken(body)
	if !ok {
		return fmt.Errorf("channel: first packet did not carry a token")
	}
	characterID, ok := a.pending.Redeem(token)
	if !ok {
		s.Kick()
		return nil
	}

	cs.redeemed = true
	cs.token = token
	cs.characterID = characterID
	a.online.Add(1)

	s.RequestTransfer(mainRoom)
	slog.Info("channel: token redeemed", "remote", s.RemoteAddr, "character", characterID)
	return nil
}

// handleGamePacket forwards a post-redemption frame to the script host
// as an opaque request. The exact opcode layout of movement, combat,
// and inventory packets belongs to the content layer, not this core
// (spec.md §7 "Non-goals").
func (a *App) handleGamePacket(s *reactor.Session, cs *clientState, body []byte) error {
	if a.scripts == nil {
		return nil
	}
	reply, err := a.scripts.Invoke("packet", cs.characterID, body)
	if err != nil {
		return fmt.Errorf("channel: script invoke: %w", err)
	}
	if len(reply) == 0 {
		return nil
	}
	return s.Write(reply)
}

func parseToken(body []byte) (uint32, bool) {
	if len(body) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(body[:4]), true
}

// RunCapacityReporting periodically advertises current/max online
// counts to login (spec.md §4.4 supplement, CapacityReport) until ctx
// is done.
func (a *App) RunCapacityReporting(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.ctl.SendCapacityReport(uint32(a.online.Load()), uint32(a.max)); err != nil {
				slog.Warn("channel: capacity report failed", "error", err)
			}
		}
	}
}
