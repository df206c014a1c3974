package sender

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"crm-automation/internal/config"
	"crm-automation/internal/models"
)

const (
	imageFetchTimeout = 10 * time.Second
	embeddedImageCID  = "<embedded_image>"
	embeddedImageName = "bitrix_image.png"
)

// Values carries everything rendered into one tracking email. A non-empty
// MsgID keeps the Message-ID already booked for the tracked message,
// otherwise a fresh one is generated.
type Values struct {
	MsgID       string
	Subject     string
	Sender      string
	Receiver    string
	ContactName string
	Deadline    time.Time
	Employee    *models.Employee
}

// templateData is what the HTML template sees. The conditional signature
// lines are prebuilt so an employee without a phone or post leaves no empty
// paragraph behind.
type templateData struct {
	Subject     string
	ContactName string
	DateStr     string
	Name        string
	SecondName  string
	PhoneLine   template.HTML
	PostLine    template.HTML
	ExtraLine   template.HTML
}

// Message is a fully built email ready for SMTP submission.
type Message struct {
	ID       string
	From     string
	To       string
	HTMLBody string
	Raw      []byte

	hasHTML       bool
	hasAttachment bool
}

// Builder renders the tracking email template and assembles the
// multipart/mixed message around it.
type Builder struct {
	template        *template.Template
	config          config.SenderConfig
	httpClient      *http.Client
	mandatoryAttach bool
	logger          *zap.Logger
}

func NewBuilder(cfg config.SenderConfig, mandatoryAttach bool, logger *zap.Logger) (*Builder, error) {
	raw, err := os.ReadFile(cfg.TemplateFile)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}

	tmpl, err := template.New("tracking").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	return &Builder{
		template:        tmpl,
		config:          cfg,
		httpClient:      &http.Client{Timeout: imageFetchTimeout},
		mandatoryAttach: mandatoryAttach,
		logger:          logger,
	}, nil
}

// Build renders the HTML body and assembles the message. A nil attachment is
// allowed only when the builder does not demand one. The embedded image is
// best effort: a fetch failure sends the mail without it.
func (b *Builder) Build(values Values, attachment []byte) (*Message, error) {
	htmlBody, err := b.renderBody(values)
	if err != nil {
		return nil, err
	}

	msgID := values.MsgID
	if msgID == "" {
		msgID = b.newMessageID()
	}

	msg := &Message{
		ID:       msgID,
		From:     values.Sender,
		To:       values.Receiver,
		HTMLBody: htmlBody,
	}

	var buf bytes.Buffer

	var header mail.Header
	header.SetDate(time.Now())
	header.SetSubject(values.Subject)
	header.SetAddressList("From", []*mail.Address{{Address: values.Sender}})
	header.SetAddressList("To", []*mail.Address{{Address: values.Receiver}})
	header.Set("Message-Id", msg.ID)

	writer, err := mail.CreateWriter(&buf, header)
	if err != nil {
		return nil, fmt.Errorf("create writer: %w", err)
	}

	var inline mail.InlineHeader
	inline.Set("Content-Type", "text/html; charset=utf-8")
	part, err := writer.CreateSingleInline(inline)
	if err != nil {
		return nil, fmt.Errorf("create html part: %w", err)
	}
	if _, err := io.WriteString(part, htmlBody); err != nil {
		return nil, fmt.Errorf("write html part: %w", err)
	}
	if err := part.Close(); err != nil {
		return nil, fmt.Errorf("close html part: %w", err)
	}
	msg.hasHTML = true

	if image := b.fetchImage(); image != nil {
		if err := writeEmbeddedImage(writer, image); err != nil {
			b.logger.Warn("Failed to embed image, sending without it", zap.Error(err))
		}
	}

	if attachment != nil {
		name := b.config.DefaultDocName
		if err := writeAttachment(writer, attachment, name); err != nil {
			return nil, fmt.Errorf("attach document: %w", err)
		}
		msg.hasAttachment = true
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}
	msg.Raw = buf.Bytes()

	if err := b.checkMessage(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (b *Builder) renderBody(values Values) (string, error) {
	data := templateData{
		Subject:     values.Subject,
		ContactName: values.ContactName,
	}
	if !values.Deadline.IsZero() {
		data.DateStr = values.Deadline.Format("02-01-2006")
	}
	if emp := values.Employee; emp != nil {
		data.Name = emp.Name
		data.SecondName = emp.SecondName
		data.PhoneLine = signatureLine("Телефон: " + emp.Phone, emp.Phone)
		data.PostLine = signatureLine(emp.Post, emp.Post)
		data.ExtraLine = signatureLine(emp.ExtraField, emp.ExtraField)
	}

	var body strings.Builder
	if err := b.template.Execute(&body, data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return body.String(), nil
}

func signatureLine(text, guard string) template.HTML {
	if guard == "" {
		return ""
	}
	escaped := template.HTMLEscapeString(text)
	return template.HTML("<p style='margin: 0; padding: 0; line-height: 1.2;'>" + escaped + "</p>")
}

func (b *Builder) fetchImage() []byte {
	if b.config.ImageURL == "" {
		return nil
	}

	resp, err := b.httpClient.Get(b.config.ImageURL)
	if err != nil {
		b.logger.Warn("Failed to fetch embedded image", zap.Error(err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b.logger.Warn("Unexpected image response", zap.Int("status", resp.StatusCode))
		return nil
	}

	image, err := io.ReadAll(resp.Body)
	if err != nil {
		b.logger.Warn("Failed to read embedded image", zap.Error(err))
		return nil
	}
	return image
}

func writeEmbeddedImage(writer *mail.Writer, image []byte) error {
	var header mail.AttachmentHeader
	header.Set("Content-Type", "image/png")
	header.Set("Content-Id", embeddedImageCID)
	header.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", embeddedImageName))

	part, err := writer.CreateAttachment(header)
	if err != nil {
		return err
	}
	if _, err := part.Write(image); err != nil {
		return err
	}
	return part.Close()
}

// writeAttachment adds the spreadsheet under a forced .xls name so mail
// clients open it with a spreadsheet application regardless of the stored
// content type.
func writeAttachment(writer *mail.Writer, content []byte, name string) error {
	if name == "" {
		name = "Table"
	}
	filename := name + ".xls"

	var header mail.AttachmentHeader
	header.Set("Content-Type", "application/vnd.ms-excel")
	header.SetFilename(filename)

	part, err := writer.CreateAttachment(header)
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	return part.Close()
}

// checkMessage verifies the required elements are in place before the mail
// reaches SMTP. A tracked message with a missing Message-ID would never match
// its reply.
func (b *Builder) checkMessage(msg *Message) error {
	switch {
	case msg.ID == "":
		return fmt.Errorf("message has no Message-ID")
	case msg.From == "":
		return fmt.Errorf("message has no sender")
	case msg.To == "":
		return fmt.Errorf("message has no receiver")
	case !msg.hasHTML:
		return fmt.Errorf("message has no html body")
	case b.mandatoryAttach && !msg.hasAttachment:
		return fmt.Errorf("message has no attachment")
	}
	return nil
}

func (b *Builder) newMessageID() string {
	return NewMessageID(b.config.MessageIDDomain)
}

// NewMessageID generates an RFC 5322 message id under the given domain.
func NewMessageID(domain string) string {
	if domain == "" {
		domain = "localhost"
	}

	entropy := make([]byte, 8)
	if _, err := rand.Read(entropy); err != nil {
		return fmt.Sprintf("<%d@%s>", time.Now().UnixNano(), domain)
	}
	return fmt.Sprintf("<%d.%s@%s>", time.Now().UnixNano(), hex.EncodeToString(entropy), domain)
}
