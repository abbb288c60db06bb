package login

import (
	"context"
	"encoding/binary"
	"strings"

	"github.com/ironspire/realmgate/internal/config"
	"github.com/ironspire/realmgate/internal/db"
	"github.com/ironspire/realmgate/internal/dbengine"
	"github.com/ironspire/realmgate/internal/model"
	"github.com/ironspire/realmgate/internal/reactor"
)

func trimNullPadded(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return strings.TrimSpace(string(b[:i]))
}

// handleCredentialsLogin services opcode 0x0001 (spec.md §8 scenario 1:
// name, password, then a 10-byte HWID, all fixed-width and
// null-padded).
func (a *App) handleCredentialsLogin(s *reactor.Session, cs *clientState, body []byte) error {
	const loginWidth, passWidth, hwidWidth = 32, 32, 10
	if len(body) < loginWidth+passWidth+hwidWidth {
		s.Write(loginFailPacket(ReasonSystemError))
		return nil
	}

	loginName := strings.ToLower(trimNullPadded(body[:loginWidth]))
	password := trimNullPadded(body[loginWidth : loginWidth+passWidth])
	if loginName == "" || password == "" {
		s.Write(loginFailPacket(ReasonUserOrPassWrong))
		return nil
	}

	req := dbengine.AccountReadRequest(a.conn, loginName)
	ev, result := req.Submit(context.Background())
	ev.Resume = func(status reactor.ReadinessMask) (*reactor.PendingEvent, error) {
		return a.resumeCredentialsLogin(s, cs, loginName, password, result)
	}
	s.SetEvent(&ev)
	return nil
}

func (a *App) resumeCredentialsLogin(s *reactor.Session, cs *clientState, loginName, password string, result *dbengine.Result) (*reactor.PendingEvent, error) {
	if result.Err != nil {
		s.Write(loginFailPacket(ReasonSystemError))
		return nil, nil
	}

	acc, _ := result.Value.(*model.Account)
	if acc == nil {
		if !a.autoCreateAccounts {
			s.Write(loginFailPacket(ReasonUserOrPassWrong))
			return nil, nil
		}
		hash, err := db.HashPassword(password)
		if err != nil {
			s.Write(loginFailPacket(ReasonSystemError))
			return nil, nil
		}
		createReq := dbengine.AccountCreateRequest(a.conn, loginName, hash, s.RemoteAddr)
		createEv, createResult := createReq.Submit(context.Background())
		createEv.Resume = func(status reactor.ReadinessMask) (*reactor.PendingEvent, error) {
			if createResult.Err != nil {
				s.Write(loginFailPacket(ReasonSystemError))
				return nil, nil
			}
			cs.phase = PhaseToSPending
			cs.login = loginName
			s.Write(tosResultPacket(true))
			return nil, nil
		}
		return &createEv, nil
	}

	if acc.AccessLevel < 0 {
		s.Write(loginFailPacket(ReasonAccountBanned))
		s.Kick()
		return nil, nil
	}
	if !db.CheckPassword(acc.PasswordHash, password) {
		s.Write(loginFailPacket(ReasonUserOrPassWrong))
		return nil, nil
	}

	touchReq := dbengine.AccountTouchRequest(a.conn, loginName, 0, s.RemoteAddr)
	touchEv, touchResult := touchReq.Submit(context.Background())
	touchEv.Resume = func(status reactor.ReadinessMask) (*reactor.PendingEvent, error) {
		if touchResult.Err != nil {
			s.Write(loginFailPacket(ReasonSystemError))
			return nil, nil
		}
		cs.phase = PhaseToSPending
		cs.login = loginName
		s.Write(tosResultPacket(true))
		return nil, nil
	}
	return &touchEv, nil
}

// handleAcceptToS services opcode 0x0007.
func (a *App) handleAcceptToS(s *reactor.Session, cs *clientState, body []byte) error {
	if cs.phase != PhaseToSPending {
		s.Write(loginFailPacket(ReasonSystemError))
		return nil
	}
	cs.phase = PhaseAuthenticated
	s.Write(worldListPacket(a.cfg))
	return nil
}

// handleSetGender services opcode 0x0008.
func (a *App) handleSetGender(s *reactor.Session, cs *clientState, body []byte) error {
	cs.genderSet = true
	return nil
}

// handlePinStep services opcode 0x0009.
func (a *App) handlePinStep(s *reactor.Session, cs *clientState, body []byte) error {
	cs.pinVerified = true
	s.Write(pinResultPacket(true))
	return nil
}

// handleWorldList services opcodes 0x0004 and 0x000B.
func (a *App) handleWorldList(s *reactor.Session, cs *clientState) error {
	if cs.phase != PhaseAuthenticated {
		s.Write(loginFailPacket(ReasonSystemError))
		return nil
	}
	s.Write(worldListPacket(a.cfg))
	return nil
}

// handleServerStatus services opcode 0x0006.
func (a *App) handleServerStatus(s *reactor.Session, cs *clientState) error {
	s.Write(serverStatusPacket(0, 0))
	return nil
}

// handleCharacterList services opcode 0x0005: body carries the chosen
// world id.
func (a *App) handleCharacterList(s *reactor.Session, cs *clientState, body []byte) error {
	if cs.phase != PhaseAuthenticated || len(body) < 2 {
		s.Write(loginFailPacket(ReasonSystemError))
		return nil
	}
	worldID := int(binary.LittleEndian.Uint16(body[:2]))
	cs.worldID = worldID

	req := dbengine.CharacterListRequest(a.conn, cs.login, worldID)
	ev, result := req.Submit(context.Background())
	ev.Resume = func(status reactor.ReadinessMask) (*reactor.PendingEvent, error) {
		if result.Err != nil {
			s.Write(loginFailPacket(ReasonSystemError))
			return nil, nil
		}
		list, _ := result.Value.([]model.CharacterSummary)
		s.Write(characterListPacket(list))
		return nil, nil
	}
	s.SetEvent(&ev)
	return nil
}

// handleNameCheck services opcode 0x0015.
func (a *App) handleNameCheck(s *reactor.Session, cs *clientState, body []byte) error {
	name := trimNullPadded(body)
	if name == "" {
		s.Write(nameCheckResultPacket(true))
		return nil
	}
	req := dbengine.NewRequest(a.conn, func(ctx context.Context, conn *dbengine.Connection) (any, error) {
		return conn.DB().NameTaken(ctx, name)
	})
	ev, result := req.Submit(context.Background())
	ev.Resume = func(status reactor.ReadinessMask) (*reactor.PendingEvent, error) {
		taken := true
		if result.Err == nil {
			taken, _ = result.Value.(bool)
		}
		s.Write(nameCheckResultPacket(taken))
		return nil, nil
	}
	s.SetEvent(&ev)
	return nil
}

// handleCreateCharacter services opcode 0x0016: name (16 bytes,
// null-padded), then a 2-byte class id and a 1-byte slot.
func (a *App) handleCreateCharacter(s *reactor.Session, cs *clientState, body []byte) error {
	if cs.phase != PhaseAuthenticated || len(body) < 19 {
		s.Write(createCharacterResultPacket(false, ReasonSystemError, 0))
		return nil
	}
	name := trimNullPadded(body[:16])
	classID := int(binary.LittleEndian.Uint16(body[16:18]))
	slot := int(body[18])

	req := dbengine.CharacterCreateRequest(a.conn, cs.login, cs.worldID, name, classID, slot)
	ev, result := req.Submit(context.Background())
	ev.Resume = func(status reactor.ReadinessMask) (*reactor.PendingEvent, error) {
		if result.Err != nil {
			s.Write(createCharacterResultPacket(false, ReasonNameTaken, 0))
			return nil, nil
		}
		id, _ := result.Value.(uint32)
		s.Write(createCharacterResultPacket(true, 0, id))
		return nil, nil
	}
	s.SetEvent(&ev)
	return nil
}

// handleRegisterPIC services opcode 0x001D.
func (a *App) handleRegisterPIC(s *reactor.Session, cs *clientState, body []byte) error {
	cs.picRegistered = true
	s.Write(picResultPacket(true))
	return nil
}

// handleVerifyPIC services opcode 0x001E: body carries a 1-byte
// channel id within the previously chosen world. On success, login
// issues a token to that channel and, once acknowledged, replies with
// the channel's address (spec.md §8 scenario 1). If login drops the
// channel before the ack arrives, the client gets
// ReasonChannelUnreachable instead.
func (a *App) handleVerifyPIC(s *reactor.Session, cs *clientState, body []byte) error {
	if !cs.picRegistered || len(body) < 1 {
		s.Write(picResultPacket(false))
		return nil
	}
	cs.channelID = int(body[0])

	ch, err := a.cfg.ChannelAt(cs.worldID, cs.channelID)
	if err != nil {
		s.Write(loginFailPacket(ReasonChannelUnreachable))
		return nil
	}

	req := dbengine.CharacterListRequest(a.conn, cs.login, cs.worldID)
	ev, result := req.Submit(context.Background())
	ev.Resume = func(status reactor.ReadinessMask) (*reactor.PendingEvent, error) {
		if result.Err != nil {
			s.Write(loginFailPacket(ReasonSystemError))
			return nil, nil
		}
		list, _ := result.Value.([]model.CharacterSummary)
		if len(list) == 0 {
			s.Write(loginFailPacket(ReasonSystemError))
			return nil, nil
		}

		token, acked, err := a.control.IssueToken(config.ChannelKey(cs.worldID, cs.channelID), list[0].ID)
		if err != nil {
			s.Write(loginFailPacket(ReasonChannelUnreachable))
			return nil, nil
		}

		return &reactor.PendingEvent{
			Ready: ackToReadyChan(acked),
			Resume: func(status reactor.ReadinessMask) (*reactor.PendingEvent, error) {
				// the ack channel is also closed when login drops the
				// channel without an ack (control.Server.dropLoggedInView)
				if !a.control.ChannelConnected(config.ChannelKey(cs.worldID, cs.channelID)) {
					s.Write(loginFailPacket(ReasonChannelUnreachable))
					return nil, nil
				}
				s.Write(channelIPPacket(ch.IP, ch.Port, token))
				return nil, nil
			},
		}, nil
	}
	s.SetEvent(&ev)
	return nil
}

// ackToReadyChan adapts a close-on-ack signal channel to the
// ReadinessMask-valued channel PendingEvent expects.
func ackToReadyChan(acked <-chan struct{}) <-chan reactor.ReadinessMask {
	out := make(chan reactor.ReadinessMask, 1)
	go func() {
		<-acked
		out <- reactor.Readable
	}()
	return out
}
