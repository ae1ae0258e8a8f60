package common

import "errors"

var (
	ErrModulePaused   = errors.New("module paused")
	ErrReentrantEntry = errors.New("reentrant call")
)

// PauseView reports whether a module has been halted by governance.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects operations against a paused module. A nil view means pausing
// is not wired and every module is considered live.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// ReentryGuard protects value-moving entry points. Operations run fully
// serialized, so a set flag means an external collaborator called back into
// the ledger before the outer operation finished its transfers.
type ReentryGuard struct {
	entered bool
}

// Enter marks the guard as taken. Callers must pair it with Exit.
func (g *ReentryGuard) Enter() error {
	if g == nil {
		return nil
	}
	if g.entered {
		return ErrReentrantEntry
	}
	g.entered = true
	return nil
}

// Exit releases the guard.
func (g *ReentryGuard) Exit() {
	if g == nil {
		return
	}
	g.entered = false
}
