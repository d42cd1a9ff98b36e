//go:build darwin

package config

import "os/exec"

// keychainExec reads a secret from the macOS Keychain. Users store API keys
// with `security add-generic-password -s seraface -a <name> -w <key>`.
func keychainExec(service, account string) ([]byte, error) {
	out, err := exec.Command(
		"security", "find-generic-password",
		"-s", service,
		"-a", account,
		"-w",
	).Output()
	if err != nil {
		return nil, err
	}
	return out, nil
}
