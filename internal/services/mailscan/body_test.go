package mailscan

import (
	"strings"
	"testing"
)

func TestCleanSubject(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		expected string
	}{
		{"reply prefix", "Re: Запрос КП", "Запрос КП"},
		{"forward prefix", "Fwd: Запрос КП", "Запрос КП"},
		{"stacked prefixes", "RE: FWD: Запрос КП", "Запрос КП"},
		{"no prefix", "Запрос КП", "Запрос КП"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanSubject(tt.subject); got != tt.expected {
				t.Errorf("cleanSubject(%q) = %q, want %q", tt.subject, got, tt.expected)
			}
		})
	}
}

func TestCleanSubjectCapsLength(t *testing.T) {
	long := strings.Repeat("а", 600)
	got := cleanSubject(long)
	if n := len([]rune(got)); n != maxSubjectLen {
		t.Errorf("expected %d runes, got %d", maxSubjectLen, n)
	}
}

func TestExtractAddress(t *testing.T) {
	got, err := extractAddress("Ivan Petrov <ivan.petrov@example.com>")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ivan.petrov@example.com" {
		t.Errorf("got %q", got)
	}

	if _, err := extractAddress("no address here"); err == nil {
		t.Error("expected error for value without address")
	}
}

func TestSplitReferences(t *testing.T) {
	refs := splitReferences("<a@x>  <b@y>\r\n <c@z>")
	if len(refs) != 3 {
		t.Fatalf("expected 3 references, got %d: %v", len(refs), refs)
	}
	if refs[1] != "<b@y>" {
		t.Errorf("got %q", refs[1])
	}
}

func TestDecodeHeaderCP1251(t *testing.T) {
	// "Привет" encoded as windows-1251 base64.
	got := decodeHeader("=?windows-1251?B?z/Do4uXy?=")
	if got != "Привет" {
		t.Errorf("got %q", got)
	}
}

func TestHTMLToText(t *testing.T) {
	in := "<html><body><p>Первая строка</p><div>Вторая</div>Третья<br>Четвертая</body></html>"
	got := htmlToText(in)
	lines := strings.Split(got, "\n")
	if len(lines) < 4 {
		t.Fatalf("expected at least 4 lines, got %d: %q", len(lines), got)
	}
	if lines[0] != "Первая строка" {
		t.Errorf("got %q", lines[0])
	}
}

func TestStripQuoted(t *testing.T) {
	body := strings.Join([]string{
		"Добрый день!",
		"Высылаем расчет.",
		"",
		"От: sales@str-art.ru",
		"> старый текст",
		"еще цитата",
	}, "\n")

	text, _ := stripQuoted(body, "https://str-art.ru")
	if strings.Contains(text, "старый текст") || strings.Contains(text, "еще цитата") {
		t.Errorf("quoted text not stripped: %q", text)
	}
	if !strings.Contains(text, "Высылаем расчет.") {
		t.Errorf("own text lost: %q", text)
	}
}

func TestExtractSignature(t *testing.T) {
	body := "Текст письма\n--\nИван Петров\nООО Ромашка\nhttps://str-art.ru\nлишний хвост"
	got := extractSignature(body, "https://str-art.ru")
	if !strings.HasPrefix(got, "Иван Петров") {
		t.Errorf("got %q", got)
	}
	if strings.Contains(got, "лишний хвост") {
		t.Errorf("signature not cut at marker: %q", got)
	}
}

func TestExtractSignatureRequiresMarker(t *testing.T) {
	body := "Текст письма\n--\nИван Петров\nООО Ромашка"
	if got := extractSignature(body, "https://str-art.ru"); got != "" {
		t.Errorf("expected empty signature, got %q", got)
	}
}

func TestExtractSignatureRejectsQuotedText(t *testing.T) {
	body := "Текст\n--\nКому: ivan@example.com\nhttps://str-art.ru"
	if got := extractSignature(body, "https://str-art.ru"); got != "" {
		t.Errorf("expected invalid signature to be dropped, got %q", got)
	}
}

func TestExtractLastMessage(t *testing.T) {
	if got := extractLastMessage("Свежий ответ\n--\nстарая переписка"); got != "Свежий ответ" {
		t.Errorf("got %q", got)
	}
	if got := extractLastMessage("   "); got != "Пустое сообщение" {
		t.Errorf("got %q", got)
	}
}
