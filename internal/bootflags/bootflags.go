// Package bootflags manages the persisted boot-state markers described in
// spec.md §6: flag files under /run/iplock/ recording which of
// {basic, firewall, default} has been applied this boot, and a
// network.status file recording whether non-loopback interfaces were
// already up at first apply.
package bootflags

import (
	"os"
	"path/filepath"
	"time"

	"github.com/m2osw/ipload/internal/apperr"
)

// Stage is one of the three firewall states the daemon/compiler tracks
// across a boot.
type Stage string

const (
	StageBasic    Stage = "basic"
	StageFirewall Stage = "firewall"
	StageDefault  Stage = "default"
)

// Tracker reads and writes the flag files under one run directory.
type Tracker struct {
	runDir string
}

// NewTracker binds a Tracker to the given run directory (spec default
// /run/iplock).
func NewTracker(runDir string) *Tracker {
	return &Tracker{runDir: runDir}
}

func (t *Tracker) flagPath(stage Stage) string {
	return filepath.Join(t.runDir, string(stage)+".flag")
}

// Mark records that stage has been applied this boot.
func (t *Tracker) Mark(stage Stage) error {
	if err := os.MkdirAll(t.runDir, 0o755); err != nil {
		return apperr.Wrap(apperr.CodeFilesystem, t.runDir, "failed to create run directory", err)
	}
	content := []byte(time.Now().UTC().Format(time.RFC3339) + "\n")
	if err := os.WriteFile(t.flagPath(stage), content, 0o644); err != nil {
		return apperr.Wrap(apperr.CodeFilesystem, string(stage), "failed to write boot flag", err)
	}
	return nil
}

// Applied reports whether stage's flag file exists for this boot.
func (t *Tracker) Applied(stage Stage) bool {
	_, err := os.Stat(t.flagPath(stage))
	return err == nil
}

// Clear removes every boot flag, used by `--flush`.
func (t *Tracker) Clear() error {
	for _, stage := range []Stage{StageBasic, StageFirewall, StageDefault} {
		if err := os.Remove(t.flagPath(stage)); err != nil && !os.IsNotExist(err) {
			return apperr.Wrap(apperr.CodeFilesystem, string(stage), "failed to clear boot flag", err)
		}
	}
	return nil
}

func (t *Tracker) networkStatusPath() string {
	return filepath.Join(t.runDir, "network.status")
}

// RecordNetworkStatus persists whether non-loopback interfaces were
// already up at first apply (a security signal: a firewall applied after
// the network is already live had a window of exposure).
func (t *Tracker) RecordNetworkStatus(alreadyUp bool) error {
	if err := os.MkdirAll(t.runDir, 0o755); err != nil {
		return apperr.Wrap(apperr.CodeFilesystem, t.runDir, "failed to create run directory", err)
	}
	value := "down\n"
	if alreadyUp {
		value = "up\n"
	}
	if err := os.WriteFile(t.networkStatusPath(), []byte(value), 0o644); err != nil {
		return apperr.Wrap(apperr.CodeFilesystem, "network.status", "failed to write network status", err)
	}
	return nil
}

// NetworkWasAlreadyUp reads back the recorded network status, if any.
func (t *Tracker) NetworkWasAlreadyUp() (bool, error) {
	data, err := os.ReadFile(t.networkStatusPath())
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(apperr.CodeFilesystem, "network.status", "failed to read network status", err)
	}
	return string(data) == "up\n", nil
}
