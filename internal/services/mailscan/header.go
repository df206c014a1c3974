package mailscan

import (
	"fmt"
	"io"
	"mime"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/charmap"
)

const maxSubjectLen = 500

var emailPattern = regexp.MustCompile(`[\w.\-]+@[\w.\-]+`)

var headerDecoder = mime.WordDecoder{
	CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(charset) {
		case "cp1251", "windows-1251":
			return charmap.Windows1251.NewDecoder().Reader(input), nil
		case "koi8-r":
			return charmap.KOI8R.NewDecoder().Reader(input), nil
		case "cp866", "ibm866":
			return charmap.CodePage866.NewDecoder().Reader(input), nil
		case "iso-8859-5":
			return charmap.ISO8859_5.NewDecoder().Reader(input), nil
		case "iso-8859-1", "latin1":
			return charmap.ISO8859_1.NewDecoder().Reader(input), nil
		}
		return nil, fmt.Errorf("unhandled charset %q", charset)
	},
}

// decodeHeader unfolds and decodes a MIME-encoded header value. Broken
// encodings fall back to the raw text rather than failing the message.
func decodeHeader(value string) string {
	if value == "" {
		return ""
	}
	replacer := strings.NewReplacer("\n", " ", "\r", " ", "\t", " ")
	cleaned := strings.TrimSpace(replacer.Replace(value))

	decoded, err := headerDecoder.DecodeHeader(cleaned)
	if err != nil {
		return cleaned
	}
	return decoded
}

// cleanSubject strips reply and forward prefixes and caps the length to what
// the message log stores.
func cleanSubject(subject string) string {
	replacer := strings.NewReplacer("Re:", "", "RE:", "", "Fwd:", "", "FWD:", "")
	cleaned := strings.TrimSpace(replacer.Replace(subject))

	if runes := []rune(cleaned); len(runes) > maxSubjectLen {
		cleaned = string(runes[:maxSubjectLen])
	}
	return cleaned
}

// extractAddress pulls the bare address out of a From/To header value.
func extractAddress(value string) (string, error) {
	match := emailPattern.FindString(value)
	if match == "" {
		return "", fmt.Errorf("no email address in %q", value)
	}
	return match, nil
}

// extractReceivers collects addresses from To, CC and BCC. A message with no
// receivers at all is malformed.
func extractReceivers(header mail.Header) ([]string, error) {
	var receivers []string
	for _, key := range []string{"To", "Cc", "Bcc"} {
		value := decodeHeader(header.Get(key))
		if value == "" {
			continue
		}
		addr, err := extractAddress(value)
		if err != nil {
			continue
		}
		receivers = append(receivers, addr)
	}
	if len(receivers) == 0 {
		return nil, fmt.Errorf("message has no receivers")
	}
	return receivers, nil
}

// splitReferences splits the References header into individual message IDs.
func splitReferences(value string) []string {
	fields := strings.Fields(decodeHeader(value))
	refs := make([]string, 0, len(fields))
	refs = append(refs, fields...)
	return refs
}

// decodeTextFallback decodes a text part payload, trying utf-8 first and the
// common Cyrillic codepage when the bytes are not valid utf-8.
func decodeTextFallback(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	decoded, err := charmap.Windows1251.NewDecoder().Bytes(data)
	if err == nil {
		return string(decoded)
	}
	return string(data)
}
