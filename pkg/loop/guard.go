package loop

import (
	"fmt"
	"log/slog"
)

// Guard detects re-entrant mutation of a single-writer structure.
//
// A re-entrant Enter is a programming error. In strict mode (tests) it
// panics; otherwise it is logged and Enter reports false so the caller can
// back out without mutating.
type Guard struct {
	name   string
	strict bool
	logger *slog.Logger
	held   bool
}

// NewGuard returns a standalone guard.
func NewGuard(name string, strict bool, logger *slog.Logger) *Guard {
	return &Guard{name: name, strict: strict, logger: logger}
}

// Enter marks the guarded section as held. It returns false if the section
// was already held.
func (g *Guard) Enter() bool {
	if g.held {
		if g.strict {
			panic(fmt.Sprintf("loop: re-entrant mutation of %s", g.name))
		}
		if g.logger != nil {
			g.logger.Error("loop: re-entrant mutation rejected", "section", g.name)
		}
		return false
	}
	g.held = true
	return true
}

// Exit releases the guarded section.
func (g *Guard) Exit() {
	g.held = false
}

// Held reports whether the section is currently held.
func (g *Guard) Held() bool {
	return g.held
}
