package login

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/ironspire/realmgate/internal/config"
	"github.com/ironspire/realmgate/internal/control"
	"github.com/ironspire/realmgate/internal/dbengine"
	"github.com/ironspire/realmgate/internal/reactor"
)

// App wires the login opcode handlers to the database engine and the
// control channel, and implements reactor.Application.
type App struct {
	cfg     *config.Config
	conn    *dbengine.Connection
	control *control.Server

	autoCreateAccounts bool
}

// NewApp builds the login application.
func NewApp(cfg *config.Config, conn *dbengine.Connection, ctl *control.Server, autoCreateAccounts bool) *App {
	return &App{cfg: cfg, conn: conn, control: ctl, autoCreateAccounts: autoCreateAccounts}
}

func (a *App) OnConnect(s *reactor.Session) error {
	s.SetAppData(&clientState{phase: PhaseConnected})
	return nil
}

func (a *App) OnDisconnect(s *reactor.Session) {
	slog.Debug("login: session disconnected", "remote", s.RemoteAddr)
}

// OnClientJoin is unused by login — sessions here never belong to a
// room, so this hook is never invoked; it exists only to satisfy
// reactor.Application.
func (a *App) OnClientJoin(s *reactor.Session, room *reactor.Room) {}

func (a *App) OnPacket(s *reactor.Session, opcodePayload []byte) error {
	if len(opcodePayload) < 2 {
		return fmt.Errorf("login: packet too short")
	}
	opcode := binary.LittleEndian.Uint16(opcodePayload[:2])
	body := opcodePayload[2:]

	cs, _ := s.AppData().(*clientState)
	if cs == nil {
		return fmt.Errorf("login: session missing client state")
	}

	switch opcode {
	case OpCredentialsLogin:
		return a.handleCredentialsLogin(s, cs, body)
	case OpAcceptToS:
		return a.handleAcceptToS(s, cs, body)
	case OpSetGender:
		return a.handleSetGender(s, cs, body)
	case OpPinStep:
		return a.handlePinStep(s, cs, body)
	case OpWorldList, OpWorldListAlt:
		return a.handleWorldList(s, cs)
	case OpCharacterList:
		return a.handleCharacterList(s, cs, body)
	case OpServerStatus:
		return a.handleServerStatus(s, cs)
	case OpNameCheck:
		return a.handleNameCheck(s, cs, body)
	case OpCreateCharacter:
		return a.handleCreateCharacter(s, cs, body)
	case OpRegisterPIC:
		return a.handleRegisterPIC(s, cs, body)
	case OpVerifyPIC:
		return a.handleVerifyPIC(s, cs, body)
	default:
		slog.Warn("login: unknown opcode", "opcode", fmt.Sprintf("0x%04X", opcode), "remote", s.RemoteAddr)
		return nil
	}
}
