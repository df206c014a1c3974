package secrets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fernet/fernet-go"
	"go.uber.org/zap"

	"crm-automation/internal/storage"
)

type fakePhraseSource struct {
	phrase string
}

func (f *fakePhraseSource) DocumentText(context.Context, string) (string, error) {
	return f.phrase, nil
}

type fakeCredentialStore struct {
	creds    []storage.EncryptedCredential
	inserted []storage.EncryptedCredential
}

func (f *fakeCredentialStore) ActiveEmployeeCredentials(context.Context) ([]storage.EncryptedCredential, error) {
	return f.creds, nil
}

func (f *fakeCredentialStore) InsertEmployees(_ context.Context, creds []storage.EncryptedCredential) error {
	f.inserted = append(f.inserted, creds...)
	return nil
}

func encryptWith(t *testing.T, phrase, password string) string {
	t.Helper()
	key, err := keyFromPhrase(phrase)
	if err != nil {
		t.Fatal(err)
	}
	token, err := fernet.EncryptAndSign([]byte(password), key)
	if err != nil {
		t.Fatal(err)
	}
	return string(token)
}

func TestCredentialsRoundTrip(t *testing.T) {
	const phrase = "секретная фраза"

	store := &fakeCredentialStore{
		creds: []storage.EncryptedCredential{
			{Email: "manager@str-art.ru", Password: encryptWith(t, phrase, "app-pass-1")},
			{Email: "sales@str-art.ru", Password: encryptWith(t, phrase, "app-pass-2")},
		},
	}
	vault := NewVault(store, &fakePhraseSource{phrase: phrase}, "doc-1", zap.NewNop())

	creds, err := vault.Credentials(context.Background())
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if len(creds) != 2 {
		t.Fatalf("expected 2 credentials, got %d", len(creds))
	}
	if creds[0].Password != "app-pass-1" || creds[1].Password != "app-pass-2" {
		t.Errorf("decrypted passwords: %+v", creds)
	}
}

func TestCredentialsWrongPhrase(t *testing.T) {
	store := &fakeCredentialStore{
		creds: []storage.EncryptedCredential{
			{Email: "manager@str-art.ru", Password: encryptWith(t, "правильная фраза", "pass")},
		},
	}
	vault := NewVault(store, &fakePhraseSource{phrase: "другая фраза"}, "doc-1", zap.NewNop())

	if _, err := vault.Credentials(context.Background()); err == nil {
		t.Error("expected decryption failure with wrong phrase")
	}
}

func TestCredentialsKeepMailboxOrder(t *testing.T) {
	const phrase = "фраза"
	store := &fakeCredentialStore{
		creds: []storage.EncryptedCredential{
			{Email: "first@str-art.ru", Password: encryptWith(t, phrase, "pass-1")},
			{Email: "second@str-art.ru", Password: encryptWith(t, phrase, "pass-2")},
		},
	}
	vault := NewVault(store, &fakePhraseSource{phrase: phrase}, "doc-1", zap.NewNop())

	creds, err := vault.Credentials(context.Background())
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if len(creds) != 2 {
		t.Fatalf("got %d credentials, want 2", len(creds))
	}
	if creds[0].Email != "first@str-art.ru" || creds[0].Password != "pass-1" {
		t.Errorf("first credential = %+v", creds[0])
	}
	if creds[1].Email != "second@str-art.ru" || creds[1].Password != "pass-2" {
		t.Errorf("second credential = %+v", creds[1])
	}
}

func TestImportCSV(t *testing.T) {
	const phrase = "фраза импорта"

	path := filepath.Join(t.TempDir(), "employees_pass.csv")
	content := "email;password\nnew@str-art.ru;plain-pass\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	store := &fakeCredentialStore{}
	vault := NewVault(store, &fakePhraseSource{phrase: phrase}, "doc-1", zap.NewNop())

	if err := vault.ImportCSV(context.Background(), path); err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}

	if len(store.inserted) != 1 {
		t.Fatalf("expected 1 inserted credential, got %d", len(store.inserted))
	}
	if store.inserted[0].Email != "new@str-art.ru" {
		t.Errorf("email: %q", store.inserted[0].Email)
	}

	key, err := keyFromPhrase(phrase)
	if err != nil {
		t.Fatal(err)
	}
	decrypted := fernet.VerifyAndDecrypt([]byte(store.inserted[0].Password), 0, []*fernet.Key{key})
	if string(decrypted) != "plain-pass" {
		t.Errorf("stored password does not decrypt: %q", decrypted)
	}

	// The file must be truncated back to its header.
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(after)) != "email;password" {
		t.Errorf("file not truncated: %q", after)
	}
	if strings.Contains(string(after), "plain-pass") {
		t.Error("plain password survived the import")
	}
}
