// Package sshcmd builds argument vectors for ssh/sftp invocations and runs
// them as subprocesses. SSH connectivity is always an external capability:
// this package never speaks the protocol itself.
package sshcmd

import (
	"fmt"

	"github.com/Ast111/gpu-monitor/internal/config"
	"github.com/Ast111/gpu-monitor/internal/sshconf"
)

// Builder produces argv slices for ssh and sftp invocations. It is immutable
// after construction; one builder is shared by all concurrent operations.
type Builder struct {
	configPath     string
	connectTimeout int
	controlPath    string
	controlPersist string
	useControl     bool
	users          sshconf.UserBindings

	// SSHBinary and SFTPBinary default to "ssh" and "sftp". Overridable so
	// tests can point at stub executables.
	SSHBinary  string
	SFTPBinary string
}

// NewBuilder creates a Builder from the resolved settings and user bindings.
func NewBuilder(settings config.Settings, users sshconf.UserBindings) *Builder {
	return &Builder{
		configPath:     settings.SSHConfigPath,
		connectTimeout: settings.ConnectTimeoutSec,
		controlPath:    settings.ControlPath,
		controlPersist: settings.ControlPersist,
		useControl:     settings.UseControl(),
		users:          users,
		SSHBinary:      "ssh",
		SFTPBinary:     "sftp",
	}
}

// SSHArgs returns the argv for an ssh invocation targeting host, up to but not
// including the host itself. Always non-interactive with forwarding disabled:
// a monitoring probe must not become a pivot.
func (b *Builder) SSHArgs(host string) []string {
	args := []string{
		b.SSHBinary,
		"-F", b.configPath,
		"-o", "BatchMode=yes",
		"-o", fmt.Sprintf("ConnectTimeout=%d", b.connectTimeout),
		"-o", "ClearAllForwardings=yes",
	}
	if user := b.users.UserFor(host); user != "" {
		args = append(args, "-o", "User="+user)
	}
	if b.useControl {
		args = append(args,
			"-o", "ControlMaster=auto",
			"-o", "ControlPersist="+b.controlPersist,
			"-o", "ControlPath="+b.controlPath,
		)
	}
	return args
}

// SFTPArgs returns the argv for an sftp invocation targeting host, up to but
// not including any batch flags or the host. Multiplexing options are omitted:
// file transfers hold a connection long enough that sharing a master with
// telemetry polls buys nothing.
func (b *Builder) SFTPArgs(host string) []string {
	args := []string{
		b.SFTPBinary,
		"-F", b.configPath,
		"-o", fmt.Sprintf("ConnectTimeout=%d", b.connectTimeout),
		"-o", "BatchMode=yes",
		"-o", "ClearAllForwardings=yes",
	}
	if user := b.users.UserFor(host); user != "" {
		args = append(args, "-o", "User="+user)
	}
	return args
}
