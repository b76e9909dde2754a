// Package sshconf resolves host aliases and login users from an SSH client
// configuration file.
//
// Only the flat Host/User directive grammar is supported. Include, Match, and
// nested blocks are intentionally out of scope: connection parameter
// resolution is delegated to the external ssh client at invocation time, so
// this package only needs the alias inventory and the effective login user.
package sshconf

import (
	"bytes"
	"os"
	"strings"

	"github.com/kevinburke/ssh_config"

	"github.com/Ast111/gpu-monitor/internal/errors"
)

// wildcardChars mark a Host token as a pattern rather than a concrete alias.
const wildcardChars = "*?!"

// Resolver reads host aliases and user bindings from one SSH config file.
// A missing file degrades to empty results rather than an error, so the tool
// is usable before any hosts are configured.
type Resolver struct {
	path string
}

// NewResolver creates a resolver for the given SSH config path.
func NewResolver(path string) *Resolver {
	return &Resolver{path: path}
}

// Path returns the config file path this resolver reads.
func (r *Resolver) Path() string {
	return r.path
}

// Hosts returns the concrete host aliases declared via Host directives,
// de-duplicated and in first-seen order. Tokens containing a wildcard
// character are excluded.
func (r *Resolver) Hosts() ([]string, error) {
	content, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read SSH config "+r.path,
			"Check the file permissions")
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to parse SSH config "+r.path,
			"Check the file for syntax errors")
	}

	var hosts []string
	seen := make(map[string]bool)
	for _, host := range cfg.Hosts {
		for _, pattern := range host.Patterns {
			alias := pattern.String()
			if strings.ContainsAny(alias, wildcardChars) {
				continue
			}
			if seen[alias] {
				continue
			}
			seen[alias] = true
			hosts = append(hosts, alias)
		}
	}
	return hosts, nil
}

// UserBindings maps hosts to login users, with a fleet-wide default captured
// from the first wildcard block that sets a user.
type UserBindings struct {
	byHost      map[string]string
	defaultUser string
}

// NewUserBindings constructs bindings directly. Primarily useful for tests
// and for callers composing bindings from another source.
func NewUserBindings(byHost map[string]string, defaultUser string) UserBindings {
	if byHost == nil {
		byHost = make(map[string]string)
	}
	return UserBindings{byHost: byHost, defaultUser: defaultUser}
}

// UserFor returns the effective login user for a host: the explicit binding
// if one exists, otherwise the wildcard default, otherwise "".
func (b UserBindings) UserFor(host string) string {
	if host == "" {
		return ""
	}
	if user, ok := b.byHost[host]; ok {
		return user
	}
	return b.defaultUser
}

// DefaultUser returns the fleet-wide default user, if any.
func (b UserBindings) DefaultUser() string {
	return b.defaultUser
}

// Users parses the per-host and default user bindings.
//
// This is a flat line scan rather than a full config lookup: the dashboard
// invariant is that an explicit Host/User pairing always beats a wildcard
// default, even when the wildcard block appears first in the file. A
// first-match-wins lookup (what ssh itself and ssh_config.Get do) would
// return the wildcard user in that case.
func (r *Resolver) Users() (UserBindings, error) {
	bindings := UserBindings{byHost: make(map[string]string)}

	content, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return bindings, nil
		}
		return bindings, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read SSH config "+r.path,
			"Check the file permissions")
	}

	var currentHosts []string
	currentWildcard := false

	for _, rawLine := range strings.Split(string(content), "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		keyword := strings.ToLower(fields[0])
		switch keyword {
		case "host":
			currentHosts = nil
			currentWildcard = false
			for _, host := range fields[1:] {
				if strings.ContainsAny(host, wildcardChars) {
					currentWildcard = true
					continue
				}
				currentHosts = append(currentHosts, host)
			}
		case "user":
			if len(fields) < 2 {
				continue
			}
			user := fields[1]
			if len(currentHosts) > 0 {
				for _, host := range currentHosts {
					if _, ok := bindings.byHost[host]; !ok {
						bindings.byHost[host] = user
					}
				}
			} else if currentWildcard && bindings.defaultUser == "" {
				bindings.defaultUser = user
			}
		}
	}

	return bindings, nil
}
