package sshcmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ast111/gpu-monitor/internal/config"
	"github.com/Ast111/gpu-monitor/internal/sshconf"
)

func testSettings() config.Settings {
	return config.Settings{
		SSHConfigPath:     "/home/op/.ssh/config",
		ControlPersist:    "60s",
		ConnectTimeoutSec: 15,
	}
}

func TestSSHArgsHardening(t *testing.T) {
	b := NewBuilder(testSettings(), sshconf.NewUserBindings(nil, ""))

	args := b.SSHArgs("alpha")
	assert.Equal(t, []string{
		"ssh",
		"-F", "/home/op/.ssh/config",
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=15",
		"-o", "ClearAllForwardings=yes",
	}, args)
}

func TestSSHArgsUserOverride(t *testing.T) {
	users := sshconf.NewUserBindings(map[string]string{"alpha": "root"}, "guest")
	b := NewBuilder(testSettings(), users)

	assert.Contains(t, b.SSHArgs("alpha"), "User=root")
	// Unknown host falls back to the wildcard default.
	assert.Contains(t, b.SSHArgs("delta"), "User=guest")
}

func TestSSHArgsControlMaster(t *testing.T) {
	settings := testSettings()
	settings.ControlPath = "/tmp/gpu-monitor-%r@%h:%p"
	if !settings.UseControl() {
		t.Skip("control sockets unsupported on this platform")
	}
	b := NewBuilder(settings, sshconf.NewUserBindings(nil, ""))

	args := b.SSHArgs("alpha")
	assert.Contains(t, args, "ControlMaster=auto")
	assert.Contains(t, args, "ControlPersist=60s")
	assert.Contains(t, args, "ControlPath=/tmp/gpu-monitor-%r@%h:%p")

	// sftp invocations never multiplex.
	sftpArgs := b.SFTPArgs("alpha")
	assert.NotContains(t, sftpArgs, "ControlMaster=auto")
}

func TestSFTPArgs(t *testing.T) {
	users := sshconf.NewUserBindings(map[string]string{"beta": "ops"}, "")
	b := NewBuilder(testSettings(), users)

	args := b.SFTPArgs("beta")
	assert.Equal(t, []string{
		"sftp",
		"-F", "/home/op/.ssh/config",
		"-o", "ConnectTimeout=15",
		"-o", "BatchMode=yes",
		"-o", "ClearAllForwardings=yes",
		"-o", "User=ops",
	}, args)
}
