package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/fernet/fernet-go"
	"go.uber.org/zap"

	"crm-automation/internal/models"
	"crm-automation/internal/storage"
)

// PhraseSource supplies the key phrase the mailbox passwords are encrypted
// with. In production it reads a Google Doc, so credentials never live in the
// repository or the environment.
type PhraseSource interface {
	DocumentText(ctx context.Context, docID string) (string, error)
}

type credentialStore interface {
	ActiveEmployeeCredentials(ctx context.Context) ([]storage.EncryptedCredential, error)
	InsertEmployees(ctx context.Context, creds []storage.EncryptedCredential) error
}

// Vault decrypts and encrypts employee mailbox passwords.
type Vault struct {
	store   credentialStore
	phrases PhraseSource
	docID   string
	logger  *zap.Logger
}

func NewVault(store credentialStore, phrases PhraseSource, docID string, logger *zap.Logger) *Vault {
	return &Vault{
		store:   store,
		phrases: phrases,
		docID:   docID,
		logger:  logger,
	}
}

// keyFromPhrase derives the fernet key: base64url over the sha256 digest of
// the phrase.
func keyFromPhrase(phrase string) (*fernet.Key, error) {
	digest := sha256.Sum256([]byte(phrase))
	encoded := base64.URLEncoding.EncodeToString(digest[:])

	key, err := fernet.DecodeKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

func (v *Vault) key(ctx context.Context) (*fernet.Key, error) {
	phrase, err := v.phrases.DocumentText(ctx, v.docID)
	if err != nil {
		return nil, fmt.Errorf("read key phrase: %w", err)
	}
	return keyFromPhrase(strings.TrimSpace(phrase))
}

// Credentials returns every active mailbox with its decrypted app password.
func (v *Vault) Credentials(ctx context.Context) ([]models.Credential, error) {
	key, err := v.key(ctx)
	if err != nil {
		return nil, err
	}

	encrypted, err := v.store.ActiveEmployeeCredentials(ctx)
	if err != nil {
		return nil, err
	}

	creds := make([]models.Credential, 0, len(encrypted))
	for _, c := range encrypted {
		password := fernet.VerifyAndDecrypt([]byte(c.Password), 0, []*fernet.Key{key})
		if password == nil {
			return nil, fmt.Errorf("decrypt password for %s", c.Email)
		}
		creds = append(creds, models.Credential{Email: c.Email, Password: string(password)})
	}

	v.logger.Debug("Loaded mailbox credentials", zap.Int("count", len(creds)))
	return creds, nil
}

// Encrypt produces a fernet token for a new password.
func (v *Vault) Encrypt(ctx context.Context, password string) (string, error) {
	key, err := v.key(ctx)
	if err != nil {
		return "", err
	}

	token, err := fernet.EncryptAndSign([]byte(password), key)
	if err != nil {
		return "", fmt.Errorf("encrypt password: %w", err)
	}
	return string(token), nil
}

// ImportCSV reads a semicolon-delimited employees file, stores each row with
// an encrypted password and truncates the file back to its header so plain
// passwords do not outlive the import.
func (v *Vault) ImportCSV(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open employees file: %w", err)
	}

	reader := csv.NewReader(file)
	reader.Comma = ';'

	records, err := reader.ReadAll()
	file.Close()
	if err != nil {
		return fmt.Errorf("read employees file: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("employees file %s is empty", path)
	}

	header := records[0]
	emailCol, passwordCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "email":
			emailCol = i
		case "password":
			passwordCol = i
		}
	}
	if emailCol == -1 || passwordCol == -1 {
		return fmt.Errorf("employees file %s: email and password columns required", path)
	}

	var creds []storage.EncryptedCredential
	for _, row := range records[1:] {
		if len(row) <= emailCol || len(row) <= passwordCol {
			continue
		}
		encrypted, err := v.Encrypt(ctx, row[passwordCol])
		if err != nil {
			return err
		}
		creds = append(creds, storage.EncryptedCredential{
			Email:    row[emailCol],
			Password: encrypted,
		})
	}

	if len(creds) == 0 {
		v.logger.Info("No new employees to import")
		return nil
	}

	if err := v.store.InsertEmployees(ctx, creds); err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(strings.Join(header, ";")+"\n"), 0o600); err != nil {
		return fmt.Errorf("truncate employees file: %w", err)
	}

	v.logger.Info("Imported employees", zap.Int("count", len(creds)))
	return nil
}
