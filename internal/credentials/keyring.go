package credentials

import (
	"bytes"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// keyringService is the service name under which Zeke's secrets are
// filed in the platform keyring.
const keyringService = "zeke"

// keyringBackend abstracts the platform secret agent. Implementations
// shell out to the agent's CLI the same way the macOS keychain is read
// with `security`.
type keyringBackend interface {
	get(account string) (string, error)
	set(account, value string) error
	delete(account string) error
}

// probeKeyring looks for a usable secret agent. Returns
// ErrKeyringUnavailable when none is present; callers downgrade to the
// file backend.
func probeKeyring() (keyringBackend, error) {
	switch runtime.GOOS {
	case "darwin":
		if _, err := exec.LookPath("security"); err == nil {
			return &macKeychain{}, nil
		}
	case "linux":
		// secret-tool fronts both the GNOME keyring and KWallet via the
		// Secret Service D-Bus API.
		if _, err := exec.LookPath("secret-tool"); err == nil {
			return &secretService{}, nil
		}
	}
	return nil, ErrKeyringUnavailable
}

type macKeychain struct{}

func (k *macKeychain) get(account string) (string, error) {
	out, err := exec.Command("security", "find-generic-password",
		"-s", keyringService, "-a", account, "-w").Output()
	if err != nil {
		return "", fmt.Errorf("keychain read: %w", err)
	}
	return strings.TrimSuffix(string(out), "\n"), nil
}

func (k *macKeychain) set(account, value string) error {
	// -U updates in place when the item exists.
	if err := exec.Command("security", "add-generic-password",
		"-U", "-s", keyringService, "-a", account, "-w", value).Run(); err != nil {
		return fmt.Errorf("keychain write: %w", err)
	}
	return nil
}

func (k *macKeychain) delete(account string) error {
	if err := exec.Command("security", "delete-generic-password",
		"-s", keyringService, "-a", account).Run(); err != nil {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}

type secretService struct{}

func (k *secretService) get(account string) (string, error) {
	out, err := exec.Command("secret-tool", "lookup",
		"service", keyringService, "account", account).Output()
	if err != nil {
		return "", fmt.Errorf("secret-tool lookup: %w", err)
	}
	return strings.TrimSuffix(string(out), "\n"), nil
}

func (k *secretService) set(account, value string) error {
	cmd := exec.Command("secret-tool", "store",
		"--label", "zeke "+account,
		"service", keyringService, "account", account)
	cmd.Stdin = bytes.NewBufferString(value)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("secret-tool store: %w", err)
	}
	return nil
}

func (k *secretService) delete(account string) error {
	if err := exec.Command("secret-tool", "clear",
		"service", keyringService, "account", account).Run(); err != nil {
		return fmt.Errorf("secret-tool clear: %w", err)
	}
	return nil
}
