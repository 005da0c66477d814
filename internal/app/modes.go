package app

import "sync/atomic"

// ModeController is the runtime dry-run flag. It starts from the configured
// mode and is flipped only by the operator shell; every execution consults it
// at fire time.
type ModeController struct {
	dryRun atomic.Bool
}

// NewModeController builds a ModeController with the given initial mode.
func NewModeController(dryRun bool) *ModeController {
	m := &ModeController{}
	m.dryRun.Store(dryRun)
	return m
}

// DryRun reports whether order placement is simulated.
func (m *ModeController) DryRun() bool { return m.dryRun.Load() }

// SetDryRun flips the mode.
func (m *ModeController) SetDryRun(dryRun bool) { m.dryRun.Store(dryRun) }
