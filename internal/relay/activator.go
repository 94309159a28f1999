package relay

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/rmacdonaldsmith/pumprelay-go/pkg/relay"
	"go.uber.org/zap"
)

// CommandActivator starts a configured program when activity is requested.
// With no program configured it only logs the request.
type CommandActivator struct {
	argv   []string
	logger *zap.Logger
}

// NewCommandActivator creates an activator running argv (program and arguments,
// no shell involved).
func NewCommandActivator(argv []string, logger *zap.Logger) *CommandActivator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandActivator{argv: argv, logger: logger}
}

// Activate starts the program without waiting for it to exit.
func (a *CommandActivator) Activate(ctx context.Context) error {
	if len(a.argv) == 0 {
		a.logger.Info("activity requested, no activity command configured")
		return nil
	}

	cmd := exec.Command(a.argv[0], a.argv[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", a.argv[0], err)
	}
	a.logger.Info("activity started", zap.Strings("argv", a.argv), zap.Int("pid", cmd.Process.Pid))

	go func() { _ = cmd.Wait() }()
	return nil
}

// Verify that CommandActivator implements the relay.Activator interface at compile time
var _ relay.Activator = (*CommandActivator)(nil)
