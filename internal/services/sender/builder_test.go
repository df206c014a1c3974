package sender

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"crm-automation/internal/config"
	"crm-automation/internal/models"
)

const testTemplate = `<html><body>
<p>Здравствуйте, {{.ContactName}}!</p>
<p>Просим подготовить предложение до {{.DateStr}}.</p>
<p>{{.Name}} {{.SecondName}}</p>
{{.PhoneLine}}
{{.PostLine}}
{{.ExtraLine}}
</body></html>`

func newTestBuilder(t *testing.T, mandatoryAttach bool) *Builder {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tracking.html")
	if err := os.WriteFile(path, []byte(testTemplate), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.SenderConfig{
		TemplateFile:    path,
		DefaultDocName:  "Запрос",
		MessageIDDomain: "str-art.ru",
	}
	b, err := NewBuilder(cfg, mandatoryAttach, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	return b
}

func testValues() Values {
	return Values{
		Subject:     "Запрос КП",
		Sender:      "manager@str-art.ru",
		Receiver:    "ivan@example.com",
		ContactName: "Иван",
		Deadline:    time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC),
		Employee: &models.Employee{
			Name:       "Петр",
			SecondName: "Сидоров",
			Phone:      "+7 900 000-00-00",
			Post:       "Менеджер",
		},
	}
}

func TestBuildMessage(t *testing.T) {
	b := newTestBuilder(t, true)

	attachment := bytes.Repeat([]byte{0xd0, 0xcf, 0x11, 0xe0}, 64)
	msg, err := b.Build(testValues(), attachment)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if !strings.HasPrefix(msg.ID, "<") || !strings.HasSuffix(msg.ID, "@str-art.ru>") {
		t.Errorf("message id: %q", msg.ID)
	}
	if !strings.Contains(msg.HTMLBody, "Иван") {
		t.Errorf("contact name not rendered: %q", msg.HTMLBody)
	}
	if !strings.Contains(msg.HTMLBody, "20-06-2025") {
		t.Errorf("deadline not rendered: %q", msg.HTMLBody)
	}
	if !strings.Contains(msg.HTMLBody, "Телефон: +7 900 000-00-00") {
		t.Errorf("phone line not rendered: %q", msg.HTMLBody)
	}

	reader, err := mail.CreateReader(bytes.NewReader(msg.Raw))
	if err != nil {
		t.Fatalf("parse built message: %v", err)
	}

	if got := reader.Header.Get("Message-Id"); got != msg.ID {
		t.Errorf("header message id %q, want %q", got, msg.ID)
	}

	var sawHTML, sawAttachment bool
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next part: %v", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			if contentType == "text/html" {
				body, _ := io.ReadAll(part.Body)
				if !strings.Contains(string(body), "Иван") {
					t.Errorf("html part lost content")
				}
				sawHTML = true
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			if filename != "Запрос.xls" {
				t.Errorf("attachment filename %q", filename)
			}
			body, _ := io.ReadAll(part.Body)
			if !bytes.Equal(body, attachment) {
				t.Error("attachment payload mismatch")
			}
			sawAttachment = true
		}
	}

	if !sawHTML || !sawAttachment {
		t.Errorf("html=%v attachment=%v", sawHTML, sawAttachment)
	}
}

func TestBuildRequiresAttachment(t *testing.T) {
	b := newTestBuilder(t, true)

	if _, err := b.Build(testValues(), nil); err == nil {
		t.Error("expected missing attachment error")
	}
}

func TestBuildWithoutEmployeeLines(t *testing.T) {
	b := newTestBuilder(t, false)

	values := testValues()
	values.Employee = &models.Employee{Name: "Петр", SecondName: "Сидоров"}

	msg, err := b.Build(values, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if strings.Contains(msg.HTMLBody, "Телефон") {
		t.Errorf("empty phone should not render a line: %q", msg.HTMLBody)
	}
}

func TestMessageIDsAreUnique(t *testing.T) {
	b := newTestBuilder(t, false)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := b.newMessageID()
		if seen[id] {
			t.Fatalf("duplicate message id %q", id)
		}
		seen[id] = true
	}
}
