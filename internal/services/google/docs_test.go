package google

import (
	"testing"

	"google.golang.org/api/docs/v1"
)

func TestExtractText(t *testing.T) {
	doc := &docs.Document{
		Body: &docs.Body{
			Content: []*docs.StructuralElement{
				{Paragraph: &docs.Paragraph{Elements: []*docs.ParagraphElement{
					{TextRun: &docs.TextRun{Content: "первая часть "}},
					{TextRun: &docs.TextRun{Content: "фразы\n"}},
				}}},
				{SectionBreak: &docs.SectionBreak{}},
				{Paragraph: &docs.Paragraph{Elements: []*docs.ParagraphElement{
					{TextRun: &docs.TextRun{Content: "вторая строка"}},
				}}},
			},
		},
	}

	got := extractText(doc)
	if got != "первая часть фразы\nвторая строка" {
		t.Errorf("got %q", got)
	}
}

func TestExtractTextEmptyBody(t *testing.T) {
	if got := extractText(&docs.Document{}); got != "" {
		t.Errorf("got %q", got)
	}
}
