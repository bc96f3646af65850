//go:build darwin

package config

import (
	"fmt"
	"os/exec"
)

func keychainExec(service, account string) ([]byte, error) {
	return exec.Command(
		"security", "find-generic-password",
		"-s", service,
		"-a", account,
		"-w",
	).Output()
}

func keychainStore(service, account, value string) error {
	// -U updates an existing item instead of failing on duplicates.
	out, err := exec.Command(
		"security", "add-generic-password",
		"-s", service,
		"-a", account,
		"-w", value,
		"-U",
	).CombinedOutput()
	if err != nil {
		return fmt.Errorf("storing keychain item %s/%s: %w, output: %s", service, account, err, out)
	}
	return nil
}
