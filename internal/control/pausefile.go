package control

import (
	"context"
	"os"
	"strings"
	"time"
)

// Control file commands. Matching is case-insensitive after trimming
// whitespace.
const (
	commandPause  = "pause"
	commandResume = "resume"
	commandStop   = "stop"
)

// WatchFile polls path every interval and applies the command it
// contains. A missing file means no command. Malformed content is
// logged once per distinct content and otherwise ignored, so a typo
// never stops a long run. Returns once ctx is done.
func (c *Controller) WatchFile(ctx context.Context, path string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastWarned string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				c.logger.Warn("failed to read control file", "path", path, "error", err)
			}
			continue
		}

		switch cmd := strings.ToLower(strings.TrimSpace(string(data))); cmd {
		case commandPause:
			c.Pause()
		case commandResume:
			c.Resume()
		case "":
			// An empty file carries no command. Resuming here would
			// silently undo a deliberate pause after a truncation.
		case commandStop:
			c.Stop()
			return
		default:
			if cmd != lastWarned {
				c.logger.Warn("unrecognized control file command", "path", path, "command", cmd)
				lastWarned = cmd
			}
		}
	}
}
