package mailscan

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"crm-automation/internal/models"
)

// minAttachmentSize filters out tracking pixels and empty inline parts.
const minAttachmentSize = 100

var allowedExtensions = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx"}

var allowedMIMETypes = map[string]bool{
	"application/pdf":          true,
	"application/msword":       true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-word.document.macroEnabled.12":                        true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
	"application/vnd.ms-excel.sheet.macroEnabled.12":                          true,
	"application/vnd.ms-excel.sheet.binary.macroEnabled.12":                   true,
	"application/octet-stream":                                                true,
}

// FileStore deduplicates attachment payloads by content hash.
type FileStore interface {
	FileByHash(ctx context.Context, hash string) (int64, error)
	InsertFile(ctx context.Context, att models.Attachment) (int64, error)
}

// Parser turns a raw RFC 5322 message into a models.Email, persisting
// document attachments through the file store.
type Parser struct {
	files         FileStore
	signatureMark string
	logger        *zap.Logger
}

func NewParser(files FileStore, signatureMark string, logger *zap.Logger) *Parser {
	return &Parser{
		files:         files,
		signatureMark: signatureMark,
		logger:        logger,
	}
}

// Parse reads one message. It returns nil without error when the message is
// dated before cutoff, meaning a previous scan already ingested it.
func (p *Parser) Parse(ctx context.Context, raw io.Reader, cutoff time.Time) (*models.Email, error) {
	reader, err := mail.CreateReader(raw)
	if err != nil {
		return nil, fmt.Errorf("create reader: %w", err)
	}

	header := reader.Header

	dateSent, err := header.Date()
	if err != nil {
		return nil, fmt.Errorf("parse date: %w", err)
	}
	if !cutoff.IsZero() && dateSent.Before(cutoff) {
		p.logger.Debug("Message already scanned",
			zap.Time("date_sent", dateSent), zap.Time("cutoff", cutoff))
		return nil, nil
	}

	from, err := extractAddress(decodeHeader(header.Get("From")))
	if err != nil {
		return nil, fmt.Errorf("parse sender: %w", err)
	}
	receivers, err := extractReceivers(header)
	if err != nil {
		return nil, err
	}

	subject := cleanSubject(decodeHeader(header.Get("Subject")))

	email := &models.Email{
		MessageID:  strings.TrimSpace(header.Get("Message-Id")),
		InReplyTo:  strings.TrimSpace(header.Get("In-Reply-To")),
		References: splitReferences(header.Get("References")),
		From:       from,
		To:         receivers,
		DateSent:   dateSent,
		Subject:    subject,
	}

	plainBody, htmlBody, err := p.walkParts(ctx, reader, email, []string{subject, from})
	if err != nil {
		return nil, err
	}

	// Plain text wins over HTML when both parts are present.
	body := plainBody
	if body == "" {
		body = htmlToText(htmlBody)
	}

	text, signature := stripQuoted(body, p.signatureMark)
	email.TextBody = extractLastMessage(text)
	email.Signature = signature

	return email, nil
}

func (p *Parser) walkParts(ctx context.Context, reader *mail.Reader, email *models.Email, reservedNames []string) (plainBody, htmlBody string, err error) {
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Keep what was already parsed: a single broken part should not
			// discard the whole message.
			p.logger.Warn("Failed to read message part", zap.Error(err))
			break
		}

		switch h := part.Header.(type) {
		case *mail.AttachmentHeader:
			p.collectAttachment(ctx, part.Body, h, email, reservedNames)

		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			switch {
			case contentType == "text/plain" && plainBody == "":
				plainBody = readPartText(part.Body)
			case contentType == "text/html" && htmlBody == "":
				htmlBody = readPartText(part.Body)
			case !strings.HasPrefix(contentType, "text/") && !strings.HasPrefix(contentType, "multipart/"):
				// An inline binary part is still a document when large enough.
				p.collectAttachment(ctx, part.Body, h, email, reservedNames)
			}
		}
	}
	return plainBody, htmlBody, nil
}

type partHeader interface {
	ContentType() (string, map[string]string, error)
	Get(key string) string
}

func (p *Parser) collectAttachment(ctx context.Context, body io.Reader, header partHeader, email *models.Email, reservedNames []string) {
	payload, err := io.ReadAll(body)
	if err != nil {
		p.logger.Warn("Failed to read attachment payload", zap.Error(err))
		return
	}
	if len(payload) <= minAttachmentSize {
		return
	}

	contentType, _, _ := header.ContentType()
	filename := partFilename(header, reservedNames)

	if !isAllowedAttachment(filename, contentType) {
		p.logger.Info("Skipping non-document attachment",
			zap.String("filename", filename),
			zap.String("content_type", contentType))
		return
	}

	sum := blake2b.Sum512(payload)
	hash := hex.EncodeToString(sum[:])

	att := models.Attachment{
		Filename:    filename,
		ContentType: contentType,
		Size:        len(payload),
		Hash:        hash,
		Content:     payload,
	}

	fileID, err := p.storeFile(ctx, att)
	if err != nil {
		p.logger.Error("Failed to store attachment",
			zap.String("filename", filename), zap.Error(err))
		return
	}

	email.FileIDs = append(email.FileIDs, fileID)
	email.Attachments++

	p.logger.Info("Stored attachment",
		zap.String("filename", filename),
		zap.String("content_type", contentType),
		zap.Int("size", len(payload)),
		zap.Int64("file_id", fileID))
}

func (p *Parser) storeFile(ctx context.Context, att models.Attachment) (int64, error) {
	fileID, err := p.files.FileByHash(ctx, att.Hash)
	if err != nil {
		return 0, err
	}
	if fileID != 0 {
		return fileID, nil
	}
	return p.files.InsertFile(ctx, att)
}

// partFilename decodes the attachment filename, falling back to a name built
// from the subject or sender when the original is missing or undecodable.
func partFilename(header partHeader, reservedNames []string) string {
	var filename string
	if ah, ok := header.(*mail.AttachmentHeader); ok {
		filename, _ = ah.Filename()
	}
	if filename == "" {
		filename = decodeHeader(header.Get("Content-Description"))
	}
	if filename == "" {
		return fallbackFilename("", reservedNames)
	}

	filename = decodeHeader(filename)
	if strings.ContainsRune(filename, '�') {
		return fallbackFilename(filename, reservedNames)
	}
	return filename
}

func fallbackFilename(broken string, reservedNames []string) string {
	ext := ".txt"
	if i := strings.LastIndexByte(broken, '.'); i != -1 {
		ext = broken[i:]
	}
	for _, name := range reservedNames {
		if name == "" {
			continue
		}
		if runes := []rune(name); len(runes) > 40 {
			name = string(runes[:40])
		}
		return name + ext
	}
	return "unknown" + ext
}

func isAllowedAttachment(filename, contentType string) bool {
	if !allowedMIMETypes[contentType] {
		return false
	}
	if contentType != "application/octet-stream" {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range allowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func readPartText(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return ""
	}
	return decodeTextFallback(data)
}
