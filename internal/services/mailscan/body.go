package mailscan

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	quoteSeparator = regexp.MustCompile(`^-{5,}$`)
	forwardHeader  = regexp.MustCompile(`^(Кому:|Тема:|От:|From:|To:|Subject:|Date:)`)
	replyStamp     = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4},\s+\d{2}:\d{2}`)
	wroteLine      = regexp.MustCompile(`^On\s+\w+,\s+\w+\s+\d+,\s+\d+\s+at\s+\d+:\d+\s+[AP]M.*?wrote:$`)
	blankRuns      = regexp.MustCompile(`\n{3,}`)
)

// htmlToText flattens an HTML body into plain text. br, p and div produce
// line breaks so the quoted-reply filter below still sees line structure.
func htmlToText(body string) string {
	if body == "" {
		return ""
	}

	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return body
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "head":
				return
			case "br":
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && (n.Data == "p" || n.Data == "div") {
			b.WriteByte('\n')
		}
	}
	walk(root)

	return strings.TrimSpace(b.String())
}

// stripQuoted removes quoted replies and forwarded-message headers from a
// body, returning the remaining text and the extracted sender signature. The
// signature is pulled out before filtering because the "--" separator also
// switches the filter into skip mode.
func stripQuoted(body, signatureMark string) (text, signature string) {
	signature = extractSignature(body, signatureMark)

	var kept []string
	skip := false
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case quoteSeparator.MatchString(line),
			forwardHeader.MatchString(line),
			replyStamp.MatchString(line),
			wroteLine.MatchString(line):
			skip = true
			continue
		case strings.HasPrefix(line, ">"):
			continue
		}
		if !skip {
			kept = append(kept, line)
		}
	}

	text = strings.Join(kept, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), signature
}

// extractSignature finds the "--" separator and returns the signature block
// up to and including the marker URL. Anything that does not carry the marker
// or fails the sanity checks is not a signature.
func extractSignature(text, mark string) string {
	if text == "" || mark == "" {
		return ""
	}

	pos := strings.Index(text, " -- ")
	if pos != -1 {
		pos++
	} else if pos = strings.Index(text, "--"); pos == -1 {
		return ""
	}

	candidate := text[pos:]
	markPos := strings.Index(candidate, mark)
	if markPos == -1 {
		return ""
	}

	signature := candidate[:markPos+len(mark)]
	signature = strings.TrimSpace(strings.TrimLeft(signature, "- "))

	if !validSignature(signature) {
		return ""
	}
	return signature
}

func validSignature(signature string) bool {
	if n := len([]rune(signature)); n < 10 || n > 500 {
		return false
	}
	lowered := strings.ToLower(signature)
	for _, keyword := range []string{"кому:", "от:", "тема:", "wrote:", "отправлено:", "переслано:", "re:", "fwd:"} {
		if strings.Contains(lowered, keyword) {
			return false
		}
	}
	return strings.Count(signature, "\n") < 10
}

// extractLastMessage cuts the text at the first "--" separator so only the
// newest message of a thread remains.
func extractLastMessage(text string) string {
	if pos := strings.Index(text, "--"); pos != -1 {
		text = text[:pos]
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "Пустое сообщение"
	}
	return text
}
