package sshcmd

import "strings"

// ShellQuote wraps a string in single quotes, escaping any embedded single
// quotes. Safe for POSIX shells: 'foo'"'"'bar' round-trips to foo'bar.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// SFTPQuote wraps a path in double quotes with backslash-escaped embedded
// quotes, the grammar sftp batch scripts expect. This is a different
// sub-language from shell quoting; the two must not be conflated.
func SFTPQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
