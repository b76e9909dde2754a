// Package config resolves the process configuration once at startup.
// Settings is an immutable value passed into every component that needs it;
// nothing re-reads the environment mid-request.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Ast111/gpu-monitor/internal/errors"
)

// Defaults for environment-tunable settings.
const (
	DefaultControlPersist = "60s"
	DefaultConnectTimeout = 15
	DefaultFileTimeout    = 45 * time.Second
	DefaultPort           = 8000
)

// Settings holds the resolved process configuration.
type Settings struct {
	// SSHConfigPath is the SSH client configuration file consulted for host
	// aliases and user bindings, and passed to ssh/sftp via -F.
	SSHConfigPath string

	// ControlPath is the connection-multiplexing control socket template.
	// Empty disables multiplexing.
	ControlPath string

	// ControlPersist is how long a multiplexed master connection stays alive
	// after the last session closes (ssh ControlPersist syntax, e.g. "60s").
	ControlPersist string

	// ConnectTimeoutSec is the ssh/sftp ConnectTimeout option, in seconds.
	ConnectTimeoutSec int

	// FileTimeout bounds size probes and sftp downloads.
	FileTimeout time.Duration

	// Port is the HTTP listen port.
	Port int

	// WebDir is the directory served for static assets. Empty disables
	// static serving.
	WebDir string
}

// UseControl reports whether connection multiplexing should be used.
// Control sockets are a Unix domain socket feature; Windows is excluded.
func (s Settings) UseControl() bool {
	return s.ControlPath != "" && runtime.GOOS != "windows"
}

// Load resolves Settings from the environment. Every value has a default so a
// bare invocation works against ~/.ssh/config.
func Load() (Settings, error) {
	v := viper.New()
	v.SetDefault("ssh_config_path", filepath.Join(homeDir(), ".ssh", "config"))
	v.SetDefault("ssh_control_persist", DefaultControlPersist)
	v.SetDefault("ssh_connect_timeout", DefaultConnectTimeout)
	v.SetDefault("ssh_file_timeout", DefaultFileTimeout)
	v.SetDefault("port", DefaultPort)

	// Bind the exact environment variable names the tool documents.
	bind := map[string]string{
		"ssh_config_path":     "SSH_CONFIG_PATH",
		"ssh_control_path":    "SSH_CONTROL_PATH",
		"ssh_control_persist": "SSH_CONTROL_PERSIST",
		"ssh_connect_timeout": "SSH_CONNECT_TIMEOUT",
		"ssh_file_timeout":    "SSH_FILE_TIMEOUT",
		"port":                "PORT",
		"web_dir":             "WEB_DIR",
	}
	for key, env := range bind {
		if err := v.BindEnv(key, env); err != nil {
			return Settings{}, errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to bind environment variable "+env, "")
		}
	}

	s := Settings{
		SSHConfigPath:     expandPath(v.GetString("ssh_config_path")),
		ControlPath:       expandPath(v.GetString("ssh_control_path")),
		ControlPersist:    v.GetString("ssh_control_persist"),
		ConnectTimeoutSec: v.GetInt("ssh_connect_timeout"),
		FileTimeout:       secondsOrDuration(v, "ssh_file_timeout", DefaultFileTimeout),
		Port:              v.GetInt("port"),
		WebDir:            v.GetString("web_dir"),
	}

	if s.ConnectTimeoutSec <= 0 {
		return Settings{}, errors.New(errors.ErrConfig,
			"SSH_CONNECT_TIMEOUT must be a positive number of seconds",
			"Unset it to use the default of 15")
	}
	if s.FileTimeout <= 0 {
		return Settings{}, errors.New(errors.ErrConfig,
			"SSH_FILE_TIMEOUT must be a positive number of seconds",
			"Unset it to use the default of 45")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return Settings{}, errors.New(errors.ErrConfig,
			"PORT must be a valid TCP port",
			"Unset it to use the default of 8000")
	}

	return s, nil
}

// secondsOrDuration reads a value that may be a bare integer (seconds, the
// documented form) or a Go duration string.
func secondsOrDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	raw := v.GetString(key)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if n := v.GetInt(key); n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}
