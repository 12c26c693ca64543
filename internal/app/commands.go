package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/rhodes-client/internal/connection"
	"github.com/ent0n29/rhodes-client/internal/voice"
)

// ErrUsage reports a local command with missing arguments.
var ErrUsage = errors.New("usage")

// HandleLine runs one line of terminal input. An empty line toggles
// push-to-talk capture; a handful of slash commands are handled locally;
// everything else, including interrupt and model-switch commands, goes to
// the connection.
func (a *App) HandleLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		a.togglePushToTalk()
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		a.Conn.SendText(line)
		return nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch strings.ToLower(name) {
	case "handsfree":
		a.Voice.SetMode(voice.ModeHandsFree)
	case "ptt":
		a.Voice.SetMode(voice.ModePushToTalk)
	case "voice":
		switch strings.ToLower(rest) {
		case "on":
			a.Voice.SetVoiceEnabled(true)
		case "off":
			a.Voice.SetVoiceEnabled(false)
		default:
			return fmt.Errorf("%w: /voice on|off", ErrUsage)
		}
	case "retry":
		return a.Conn.Retry()
	case "new":
		a.Conn.NewSession()
	case "logout":
		a.Voice.Stop()
		a.Conn.Logout()
	case "sessions":
		return a.listSessions(ctx)
	case "resume":
		if len(args) != 1 {
			return fmt.Errorf("%w: /resume <session-id>", ErrUsage)
		}
		a.Conn.ResumeSession(args[0])
	case "login":
		if len(args) != 2 {
			return fmt.Errorf("%w: /login <username> <password>", ErrUsage)
		}
		return a.Conn.Login(args[0], args[1])
	case "register":
		if len(args) != 3 {
			return fmt.Errorf("%w: /register <username> <email> <password>", ErrUsage)
		}
		return a.Conn.Register(args[0], args[1], args[2])
	case "join":
		if len(args) != 1 {
			return fmt.Errorf("%w: /join <room-id>", ErrUsage)
		}
		a.Conn.JoinRoom(args[0])
	case "leave":
		a.Conn.LeaveRoom()
	case "room":
		a.Conn.CreateRoom(rest)
	case "model":
		if rest == "" {
			return fmt.Errorf("%w: /model <name>", ErrUsage)
		}
		a.Conn.SetModel(rest)
	default:
		a.Conn.SendText(line)
	}
	return nil
}

func (a *App) togglePushToTalk() {
	snap := a.Voice.Snapshot()
	if snap.Mode != voice.ModePushToTalk {
		return
	}
	if snap.State == voice.StateCapturing {
		a.Voice.Release()
		return
	}
	a.Voice.StartCapture()
}

func (a *App) listSessions(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.Config.RequestTimeout)
	defer cancel()
	sessions, err := a.Conn.ListSessions(ctx)
	if err != nil {
		if errors.Is(err, connection.ErrGuestUnsupported) {
			a.renderer.Notify("Saved sessions need a signed-in account.")
			return nil
		}
		return err
	}
	if len(sessions) == 0 {
		a.renderer.Notify("No saved sessions.")
		return nil
	}
	var b strings.Builder
	b.WriteString("Saved sessions:")
	for _, s := range sessions {
		fmt.Fprintf(&b, "\n  %s  %s", s.SessionID, s.Title)
	}
	a.renderer.Notify(b.String())
	return nil
}
