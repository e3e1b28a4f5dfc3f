package config

import "fmt"

// MaxHostnameLength is the longest hostname accepted anywhere a hostname or
// origin string is validated (origin allowlist entries, server URLs).
const MaxHostnameLength = 253

// SanitizeHostname validates a bare hostname per the rule shared by the
// origin allowlist (§4.A) and the admin control plane's input validation
// (§4.K): ASCII letters, digits, '.' and '-' only, no control characters,
// no length over MaxHostnameLength.
func SanitizeHostname(host string) error {
	if host == "" {
		return fmt.Errorf("hostname cannot be empty")
	}
	if len(host) > MaxHostnameLength {
		return fmt.Errorf("hostname exceeds %d characters", MaxHostnameLength)
	}
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-':
		default:
			return fmt.Errorf("hostname contains invalid character %q", r)
		}
	}
	return nil
}
