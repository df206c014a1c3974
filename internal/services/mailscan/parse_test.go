package mailscan

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"crm-automation/internal/models"
)

type fakeFileStore struct {
	known    map[string]int64
	inserted []models.Attachment
	nextID   int64
}

func (f *fakeFileStore) FileByHash(_ context.Context, hash string) (int64, error) {
	return f.known[hash], nil
}

func (f *fakeFileStore) InsertFile(_ context.Context, att models.Attachment) (int64, error) {
	f.inserted = append(f.inserted, att)
	f.nextID++
	return f.nextID, nil
}

func buildMessage(t *testing.T, pdfPayload []byte) string {
	t.Helper()

	var b strings.Builder
	write := func(lines ...string) {
		for _, line := range lines {
			b.WriteString(line)
			b.WriteString("\r\n")
		}
	}

	write(
		"From: Ivan Petrov <ivan@example.com>",
		"To: sales@str-art.ru",
		"Subject: Re: Запрос КП",
		"Message-Id: <reply-1@example.com>",
		"In-Reply-To: <msg-1@str-art.ru>",
		"References: <msg-1@str-art.ru>",
		"Date: Mon, 02 Jun 2025 15:04:05 +0300",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="frontier"`,
		"",
		"--frontier",
		`Content-Type: text/plain; charset="utf-8"`,
		"",
		"Добрый день! Расчет во вложении.",
		"",
		"--frontier",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="offer.pdf"`,
		"Content-Transfer-Encoding: base64",
		"",
		base64.StdEncoding.EncodeToString(pdfPayload),
		"--frontier--",
	)
	return b.String()
}

func TestParseMessage(t *testing.T) {
	store := &fakeFileStore{known: map[string]int64{}}
	parser := NewParser(store, "https://str-art.ru", zap.NewNop())

	payload := append([]byte("%PDF-1.4 "), make([]byte, 200)...)
	raw := buildMessage(t, payload)

	email, err := parser.Parse(context.Background(), strings.NewReader(raw), time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if email == nil {
		t.Fatal("expected parsed email")
	}

	if email.MessageID != "<reply-1@example.com>" {
		t.Errorf("message id: %q", email.MessageID)
	}
	if email.InReplyTo != "<msg-1@str-art.ru>" {
		t.Errorf("in reply to: %q", email.InReplyTo)
	}
	if email.From != "ivan@example.com" {
		t.Errorf("from: %q", email.From)
	}
	if len(email.To) != 1 || email.To[0] != "sales@str-art.ru" {
		t.Errorf("to: %v", email.To)
	}
	if email.Subject != "Запрос КП" {
		t.Errorf("subject: %q", email.Subject)
	}
	if !strings.Contains(email.TextBody, "Расчет во вложении") {
		t.Errorf("body: %q", email.TextBody)
	}

	if email.Attachments != 1 || len(email.FileIDs) != 1 {
		t.Fatalf("attachments: %d, file ids: %v", email.Attachments, email.FileIDs)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("expected 1 inserted file, got %d", len(store.inserted))
	}
	if store.inserted[0].Filename != "offer.pdf" {
		t.Errorf("filename: %q", store.inserted[0].Filename)
	}
	if store.inserted[0].Size != len(payload) {
		t.Errorf("size: %d, want %d", store.inserted[0].Size, len(payload))
	}
}

func TestParseMessageDeduplicatesFiles(t *testing.T) {
	payload := append([]byte("%PDF-1.4 "), make([]byte, 200)...)

	first := &fakeFileStore{known: map[string]int64{}}
	parser := NewParser(first, "https://str-art.ru", zap.NewNop())
	email, err := parser.Parse(context.Background(), strings.NewReader(buildMessage(t, payload)), time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Second store already holds the payload hash, no new insert expected.
	second := &fakeFileStore{known: map[string]int64{first.inserted[0].Hash: 42}}
	parser = NewParser(second, "https://str-art.ru", zap.NewNop())
	repeat, err := parser.Parse(context.Background(), strings.NewReader(buildMessage(t, payload)), time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(second.inserted) != 0 {
		t.Errorf("expected no inserts, got %d", len(second.inserted))
	}
	if len(repeat.FileIDs) != 1 || repeat.FileIDs[0] != 42 {
		t.Errorf("file ids: %v", repeat.FileIDs)
	}
	if email.FileIDs[0] == repeat.FileIDs[0] {
		t.Errorf("fresh insert and dedup hit should differ: %v vs %v", email.FileIDs, repeat.FileIDs)
	}
}

func TestParseMessageSkipsBeforeCutoff(t *testing.T) {
	store := &fakeFileStore{known: map[string]int64{}}
	parser := NewParser(store, "https://str-art.ru", zap.NewNop())

	raw := buildMessage(t, append([]byte("%PDF-1.4 "), make([]byte, 200)...))
	cutoff := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	email, err := parser.Parse(context.Background(), strings.NewReader(raw), cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if email != nil {
		t.Error("expected message before cutoff to be skipped")
	}
}

func TestIsAllowedAttachment(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		expected    bool
	}{
		{"pdf", "offer.pdf", "application/pdf", true},
		{"xlsx", "table.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", true},
		{"octet stream with xls name", "table.xls", "application/octet-stream", true},
		{"octet stream with exe name", "setup.exe", "application/octet-stream", false},
		{"image", "logo.png", "image/png", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAllowedAttachment(tt.filename, tt.contentType); got != tt.expected {
				t.Errorf("isAllowedAttachment(%q, %q) = %v, want %v", tt.filename, tt.contentType, got, tt.expected)
			}
		})
	}
}

func TestFallbackFilename(t *testing.T) {
	got := fallbackFilename("��.xlsx", []string{"Запрос КП", "ivan@example.com"})
	if got != "Запрос КП.xlsx" {
		t.Errorf("got %q", got)
	}

	if got := fallbackFilename("", nil); got != "unknown.txt" {
		t.Errorf("got %q", got)
	}
}
