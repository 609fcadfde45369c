package slave

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/testforge/internal/channel"
	"github.com/ppiankov/testforge/internal/config"
	"github.com/ppiankov/testforge/internal/proc"
	"github.com/ppiankov/testforge/internal/runner"
)

// ErrHandshake is returned when the master does not answer the
// configuration request with a usable configuration.
var ErrHandshake = errors.New("handshake failed")

// Server is the remote end: it runs a runner over ch.
type Server struct {
	ch       *channel.Channel
	runnerID string
	launcher *proc.Launcher
}

// NewServer returns a server identifying itself as runnerID, normally the
// host name.
func NewServer(ch *channel.Channel, runnerID string, launcher *proc.Launcher) *Server {
	return &Server{ch: ch, runnerID: runnerID, launcher: launcher}
}

// Handshake requests and decodes the configuration from the master.
func (s *Server) Handshake() (*config.Configuration, error) {
	if err := s.ch.Write(channel.NewMessage(channel.CmdSlaveConfiguration, "runner_id", s.runnerID)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	msg, err := s.ch.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: master closed the connection", ErrHandshake)
	}
	if msg.Command() != channel.CmdConfiguration {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrHandshake, channel.CmdConfiguration, msg.Command())
	}

	cfg, err := config.FromMap(msg.Map("configuration"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	return cfg, nil
}

// Run performs the handshake and then runs a runner until the master is done.
func (s *Server) Run(ctx context.Context) error {
	cfg, err := s.Handshake()
	if err != nil {
		return err
	}
	return runner.New(s.runnerID, cfg, s.ch, s.launcher).Run(ctx)
}
