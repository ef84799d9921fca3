// Package activation picks up sockets passed by systemd socket activation.
package activation

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// firstFD is the first passed descriptor (0=stdin, 1=stdout, 2=stderr)
const firstFD = 3

// environment is the socket activation protocol as set by systemd
type environment struct {
	PID     int    `env:"LISTEN_PID"`
	FDs     int    `env:"LISTEN_FDS"`
	FDNames string `env:"LISTEN_FDNAMES"`
}

// Listener returns the first socket passed to this process, or nil when the
// process was not socket activated. Additional passed sockets are ignored.
func Listener(ctx context.Context, lookuper envconfig.Lookuper) (net.Listener, error) {
	var env environment
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &env,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("invalid socket activation environment: %w", err)
	}

	if env.PID == 0 || env.PID != os.Getpid() || env.FDs < 1 {
		return nil, nil
	}

	file := os.NewFile(uintptr(firstFD), socketName(env.FDNames))
	if file == nil {
		return nil, fmt.Errorf("failed to create file for fd %d", firstFD)
	}
	// The listener holds its own duplicate of the descriptor.
	defer func() {
		_ = file.Close()
	}()

	listener, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener from fd %d: %w", firstFD, err)
	}

	// Child processes such as git must not inherit the activation.
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listener, nil
}

// socketName returns the first name of LISTEN_FDNAMES or a generic one
func socketName(names string) string {
	if name, _, _ := strings.Cut(names, ":"); name != "" {
		return name
	}
	return "systemd-socket"
}
