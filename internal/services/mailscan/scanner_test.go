package mailscan

import (
	"testing"

	"go.uber.org/zap"

	"crm-automation/internal/config"
	"crm-automation/internal/models"
)

func TestDecodeFolderName(t *testing.T) {
	tests := []struct {
		name     string
		encoded  string
		expected string
	}{
		{"ascii", "INBOX", "INBOX"},
		{"cyrillic", "&BB4EQgQ,BEAEMAQyBDsENQQ9BD0ESwQ1-", "Отправленные"},
		{"escaped ampersand", "Tom &- Jerry", "Tom & Jerry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeFolderName(tt.encoded); got != tt.expected {
				t.Errorf("decodeFolderName(%q) = %q, want %q", tt.encoded, got, tt.expected)
			}
		})
	}
}

func TestSkipFolder(t *testing.T) {
	cfg := config.MailConfig{
		SkipFolders: []string{"Drafts", "Spam", "Trash", "Archive", "Черновики"},
	}
	s := NewScanner(cfg, models.Credential{}, nil, zap.NewNop())

	if !s.skipFolder("Spam") {
		t.Error("Spam should be skipped")
	}
	if !s.skipFolder("spam") {
		t.Error("skip list should be case insensitive")
	}
	if s.skipFolder("INBOX") {
		t.Error("INBOX should not be skipped")
	}
	// Encoded form of a skipped Cyrillic folder.
	if !s.skipFolder("&BCcENQRABD0EPgQyBDgEOgQ4-") {
		t.Error("encoded folder name should match decoded skip entry")
	}
}
