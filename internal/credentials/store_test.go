package credentials

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Options{ConfigDir: t.TempDir(), NoKeyring: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestSetGetDelete(t *testing.T) {
	store := newTestStore(t)

	if err := store.Set(Credential{Provider: "openai", Kind: KindAPIKey, Value: "sk-one"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	cred, err := store.Get("openai", KindAPIKey)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cred.Value != "sk-one" {
		t.Errorf("got %q, want sk-one", cred.Value)
	}

	// set/get/set/get returns the latest value.
	if err := store.Set(Credential{Provider: "openai", Kind: KindAPIKey, Value: "sk-two"}); err != nil {
		t.Fatalf("set second: %v", err)
	}
	cred, err = store.Get("openai", KindAPIKey)
	if err != nil {
		t.Fatalf("get second: %v", err)
	}
	if cred.Value != "sk-two" {
		t.Errorf("got %q, want sk-two", cred.Value)
	}

	if err := store.Delete("openai", KindAPIKey); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get("openai", KindAPIKey); err != ErrNotFound {
		t.Errorf("get after delete: got %v, want ErrNotFound", err)
	}
}

func TestGetSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(Options{ConfigDir: dir, NoKeyring: true})
	if err != nil {
		t.Fatal(err)
	}
	expires := time.Now().Add(8 * time.Hour).Truncate(time.Second)
	if err := store.Set(Credential{
		Provider:  "anthropic",
		Kind:      KindOAuthAccess,
		Value:     "token-a",
		ExpiresAt: expires,
	}); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(Options{ConfigDir: dir, NoKeyring: true})
	if err != nil {
		t.Fatal(err)
	}
	cred, err := reopened.Get("anthropic", KindOAuthAccess)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if cred.Value != "token-a" {
		t.Errorf("value = %q, want token-a", cred.Value)
	}
	if !cred.ExpiresAt.Equal(expires) {
		t.Errorf("expires = %v, want %v", cred.ExpiresAt, expires)
	}
}

func TestFileModeIs0600(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(Options{ConfigDir: dir, NoKeyring: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Set(Credential{Provider: "xai", Kind: KindAPIKey, Value: "xk"}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(dir, credentialsFile))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("credentials file mode = %o, want 0600", perm)
	}
}

func TestEnvironmentFallback(t *testing.T) {
	store := newTestStore(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cred, err := store.Get("openai", KindAPIKey)
	if err != nil {
		t.Fatalf("get from env: %v", err)
	}
	if cred.Value != "sk-env" {
		t.Errorf("value = %q, want sk-env", cred.Value)
	}

	// A stored key wins over the environment.
	if err := store.Set(Credential{Provider: "openai", Kind: KindAPIKey, Value: "sk-file"}); err != nil {
		t.Fatal(err)
	}
	cred, err = store.Get("openai", KindAPIKey)
	if err != nil {
		t.Fatal(err)
	}
	if cred.Value != "sk-file" {
		t.Errorf("value = %q, want sk-file", cred.Value)
	}
}

func TestListReturnsMetadataOnly(t *testing.T) {
	// List also reports environment-only keys; clear them so only the
	// two stored credentials are counted.
	for _, env := range envKeys {
		t.Setenv(env, "")
	}
	store := newTestStore(t)
	expires := time.Now().Add(time.Hour)
	if err := store.Set(Credential{Provider: "anthropic", Kind: KindOAuthAccess, Value: "secret", ExpiresAt: expires}); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(Credential{Provider: "openai", Kind: KindAPIKey, Value: "sk"}); err != nil {
		t.Fatal(err)
	}

	metas := store.List()
	if len(metas) != 2 {
		t.Fatalf("len = %d, want 2", len(metas))
	}
	// Sorted by provider.
	if metas[0].Provider != "anthropic" || metas[1].Provider != "openai" {
		t.Errorf("unexpected order: %+v", metas)
	}
	if metas[0].ExpiresAt == nil {
		t.Error("oauth metadata should carry expires_at")
	}
}

func TestLogoutRemovesAllKinds(t *testing.T) {
	store := newTestStore(t)
	for _, kind := range []Kind{KindAPIKey, KindOAuthAccess, KindOAuthRefresh} {
		if err := store.Set(Credential{Provider: "github", Kind: kind, Value: "v"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Logout("github"); err != nil {
		t.Fatal(err)
	}
	for _, kind := range []Kind{KindAPIKey, KindOAuthAccess, KindOAuthRefresh} {
		if _, err := store.Get("github", kind); err != ErrNotFound {
			t.Errorf("kind %s survived logout: %v", kind, err)
		}
	}
}

func TestExpired(t *testing.T) {
	cred := Credential{ExpiresAt: time.Now().Add(30 * time.Second)}
	if !cred.Expired(60 * time.Second) {
		t.Error("credential 30s from expiry should be expired with 60s skew")
	}
	if cred.Expired(0) {
		t.Error("credential not yet expired without skew")
	}
	if (Credential{}).Expired(time.Hour) {
		t.Error("zero expiry never expires")
	}
}
