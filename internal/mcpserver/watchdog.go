package mcpserver

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// WatchParent monitors for the parent process dying (the MCP client
// disconnecting or restarting) and cancels cancelFn when it does. It must
// not touch stdin: the SDK's StdioTransport owns stdin exclusively, and
// reading from it here would steal bytes out of the JSON-RPC stream.
func WatchParent(ctx context.Context, logger *slog.Logger, cancelFn context.CancelFunc) {
	ppid := os.Getppid()
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if os.Getppid() != ppid {
					logger.Warn("parent process died, shutting down", "was_pid", ppid)
					cancelFn()
					return
				}
			}
		}
	}()
}
