package jobs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"crm-automation/internal/config"
	"crm-automation/internal/models"
	"crm-automation/internal/services/bitrix"
	"crm-automation/internal/services/sender"
	"crm-automation/internal/storage"
)

func TestRegistryNames(t *testing.T) {
	names := Names()
	if len(names) != len(registry) {
		t.Fatalf("Names() returned %d entries, registry has %d", len(names), len(registry))
	}
	for _, name := range []string{"scan", "book", "send", "bitrixsync", "export"} {
		job, err := New(name, &Deps{})
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if job.Name() != name {
			t.Errorf("job for %q reports name %q", name, job.Name())
		}
	}
	if _, err := New("nosuch", &Deps{}); err == nil {
		t.Error("expected error for unknown job name")
	}
}

func TestMatchReply(t *testing.T) {
	pending := map[string]bool{
		"<req-1@str-art.ru>": true,
		"<req-2@str-art.ru>": true,
	}

	tests := []struct {
		name  string
		email models.Email
		want  string
	}{
		{
			name:  "in-reply-to match",
			email: models.Email{InReplyTo: "<req-1@str-art.ru>"},
			want:  "<req-1@str-art.ru>",
		},
		{
			name: "references match when in-reply-to is foreign",
			email: models.Email{
				InReplyTo:  "<other@example.com>",
				References: []string{"<other@example.com>", "<req-2@str-art.ru>"},
			},
			want: "<req-2@str-art.ru>",
		},
		{
			name:  "no match",
			email: models.Email{InReplyTo: "<other@example.com>"},
			want:  "",
		},
		{
			name:  "empty headers",
			email: models.Email{},
			want:  "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := matchReply(tc.email, pending); got != tc.want {
				t.Errorf("matchReply() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestItemHelpers(t *testing.T) {
	item := map[string]any{
		"ID":          "135",
		"TITLE":       "ООО Ромашка",
		"DATE_MODIFY": "2026-03-15T10:30:00+03:00",
		"UF_REGIONS":  []any{"77", "50"},
		"UF_NMN":      "бетон",
		"EMPTY":       "",
	}

	id, err := itemID(item)
	if err != nil {
		t.Fatalf("itemID: %v", err)
	}
	if id != 135 {
		t.Errorf("itemID = %d, want 135", id)
	}
	if _, err := itemID(map[string]any{"ID": "abc"}); err == nil {
		t.Error("expected error for non-numeric ID")
	}
	if _, err := itemID(map[string]any{}); err == nil {
		t.Error("expected error for missing ID")
	}

	if got := itemString(item, "TITLE"); got != "ООО Ромашка" {
		t.Errorf("itemString(TITLE) = %q", got)
	}
	if got := itemString(item, "MISSING"); got != "" {
		t.Errorf("itemString(MISSING) = %q, want empty", got)
	}

	if got := itemStrings(item, "UF_REGIONS"); len(got) != 2 || got[0] != "77" || got[1] != "50" {
		t.Errorf("itemStrings(UF_REGIONS) = %v", got)
	}
	if got := itemStrings(item, "UF_NMN"); len(got) != 1 || got[0] != "бетон" {
		t.Errorf("itemStrings(UF_NMN) = %v", got)
	}
	if got := itemStrings(item, "EMPTY"); got != nil {
		t.Errorf("itemStrings(EMPTY) = %v, want nil", got)
	}
	if got := itemStrings(item, ""); got != nil {
		t.Errorf("itemStrings with empty key = %v, want nil", got)
	}

	ts := itemTime(item, "DATE_MODIFY")
	want := time.Date(2026, 3, 15, 10, 30, 0, 0, time.FixedZone("", 3*3600))
	if !ts.Equal(want) {
		t.Errorf("itemTime = %v, want %v", ts, want)
	}
	if !itemTime(item, "MISSING").IsZero() {
		t.Error("itemTime(MISSING) should be zero")
	}
}

func TestRequestBuilderRequiresAttachment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracking.html")
	template := "<html><body><p>Здравствуйте, {{.ContactName}}!</p></body></html>"
	if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
		t.Fatal(err)
	}

	deps := &Deps{
		Config: &config.Config{
			Sender: config.SenderConfig{
				TemplateFile:    path,
				DefaultDocName:  "Запрос",
				MessageIDDomain: "str-art.ru",
			},
		},
		Logger: zap.NewNop(),
	}

	builder, err := newRequestBuilder(deps)
	if err != nil {
		t.Fatalf("newRequestBuilder: %v", err)
	}

	values := sender.Values{
		Subject:     "Запрос КП",
		Sender:      "manager@str-art.ru",
		Receiver:    "ivan@example.com",
		ContactName: "Иван",
	}

	// A booked request without its deal document must not be sendable.
	if _, err := builder.Build(values, nil); err == nil {
		t.Error("expected error building a request without an attachment")
	}

	msg, err := builder.Build(values, []byte("spreadsheet bytes"))
	if err != nil {
		t.Fatalf("Build with attachment: %v", err)
	}
	if msg.HTMLBody == "" {
		t.Error("built message has no html body")
	}
}

func TestResolveEnum(t *testing.T) {
	fields := map[string]bitrix.FieldInfo{
		"UF_REGIONS": {Items: []bitrix.EnumField{
			{ID: "101", Value: "Москва"},
			{ID: "102", Value: "Санкт-Петербург"},
		}},
	}

	tests := []struct {
		name  string
		field string
		raw   []string
		want  []string
	}{
		{"resolves ids", "UF_REGIONS", []string{"101", "102"}, []string{"Москва", "Санкт-Петербург"}},
		{"non-enum field keeps raw", "UF_OTHER", []string{"77"}, []string{"77"}},
		{"literal values kept", "UF_REGIONS", []string{"Москва"}, []string{"Москва"}},
		{"unknown id keeps raw", "UF_REGIONS", []string{"999"}, []string{"999"}},
		{"empty", "UF_REGIONS", nil, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := resolveEnum(fields, tc.field, tc.raw)
			if len(got) != len(tc.want) {
				t.Fatalf("resolveEnum() = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("resolveEnum()[%d] = %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestDocumentRef(t *testing.T) {
	item := map[string]any{
		"UF_DOC_FILE": map[string]any{"id": float64(15), "downloadUrl": "/bitrix/tools/disk/file.xlsx"},
		"UF_DOC_ID":   "1AbCdEf",
	}

	if got := documentRef(item, "UF_DOC_FILE"); got != "/bitrix/tools/disk/file.xlsx" {
		t.Errorf("documentRef(file value) = %q", got)
	}
	if got := documentRef(item, "UF_DOC_ID"); got != "1AbCdEf" {
		t.Errorf("documentRef(string value) = %q", got)
	}
	if got := documentRef(item, "MISSING"); got != "" {
		t.Errorf("documentRef(missing) = %q, want empty", got)
	}
	if got := documentRef(item, ""); got != "" {
		t.Errorf("documentRef(no field configured) = %q, want empty", got)
	}
}

func TestRawAnswers(t *testing.T) {
	texts := []storage.ReplyText{
		{CompanyName: "Альфа", Body: "Готовы поставить за 10 дней."},
		{CompanyName: "Бета", Body: "Цена 250 000."},
	}
	got := rawAnswers(texts)
	want := "Альфа:\nГотовы поставить за 10 дней.\n\nБета:\nЦена 250 000."
	if got != want {
		t.Errorf("rawAnswers() = %q, want %q", got, want)
	}
	if rawAnswers(nil) != "" {
		t.Error("rawAnswers(nil) should be empty")
	}
}
