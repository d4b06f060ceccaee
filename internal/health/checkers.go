package health

import (
	"context"
	"fmt"
	"os"

	"github.com/voxwire/voxwire/pkg/types"
)

// ConnectionChecker reports ready only while the streaming connection is
// up. state is polled on each /readyz request; reconnecting counts as
// not ready but alive.
func ConnectionChecker(state func() types.ConnectionState) Check {
	return Check{
		Name: "server_connection",
		Run: func(context.Context) error {
			if s := state(); s != types.ConnConnected {
				return fmt.Errorf("connection is %s", s)
			}
			return nil
		},
	}
}

// HistoryDirChecker reports ready while the session history directory
// exists (creating it if needed) and accepts writes. A full or read-only
// disk would otherwise surface only when a transcript is lost.
func HistoryDirChecker(dir string) Check {
	return Check{
		Name: "history_dir",
		Run: func(context.Context) error {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create history dir: %w", err)
			}
			f, err := os.CreateTemp(dir, ".readyz-*")
			if err != nil {
				return fmt.Errorf("history dir not writable: %w", err)
			}
			name := f.Name()
			f.Close()
			return os.Remove(name)
		},
	}
}
