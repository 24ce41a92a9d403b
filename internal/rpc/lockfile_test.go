package rpc

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLockFileRoundTrip(t *testing.T) {
	stateDir := t.TempDir()
	lock := LockFile{PID: 4242, SocketOrPort: "/run/zeke.sock", AuthToken: "tok"}

	path, err := WriteLockFile(stateDir, "7777", lock)
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("lock file mode = %o, want 0600", perm)
	}
	if filepath.Dir(path) != filepath.Join(stateDir, "sessions") {
		t.Errorf("lock path = %q", path)
	}

	locks, err := ReadLockFiles(stateDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(locks) != 1 || locks[0] != lock {
		t.Errorf("locks = %+v", locks)
	}

	if err := RemoveLockFile(stateDir, "7777"); err != nil {
		t.Fatal(err)
	}
	locks, err = ReadLockFiles(stateDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(locks) != 0 {
		t.Errorf("locks after remove = %+v", locks)
	}
}

func TestReadLockFilesMissingDir(t *testing.T) {
	locks, err := ReadLockFiles(filepath.Join(t.TempDir(), "nope"))
	if err != nil || locks != nil {
		t.Errorf("missing dir: %v, %v", locks, err)
	}
}
