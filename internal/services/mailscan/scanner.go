package mailscan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/utf7"
	"go.uber.org/zap"

	"crm-automation/internal/config"
	"crm-automation/internal/models"
)

const (
	defaultRetries      = 3
	retryPause          = 2 * time.Second
	defaultMaxPerFolder = 1000
)

// Scanner polls one mailbox over IMAP and returns parsed messages.
type Scanner struct {
	config  config.MailConfig
	account models.Credential
	parser  *Parser
	logger  *zap.Logger
}

func NewScanner(cfg config.MailConfig, account models.Credential, parser *Parser, logger *zap.Logger) *Scanner {
	return &Scanner{
		config:  cfg,
		account: account,
		parser:  parser,
		logger:  logger,
	}
}

// Scan walks every non-skipped folder, searches for messages received since
// the given date and parses each one. Messages dated before cutoff are
// dropped so a rescan never duplicates already ingested mail. Read flags are
// left untouched.
func (s *Scanner) Scan(ctx context.Context, since, cutoff time.Time) ([]models.Email, time.Time, error) {
	imapClient, err := s.connect(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer s.logout(imapClient)

	folders, err := s.listFolders(imapClient)
	if err != nil {
		return nil, time.Time{}, err
	}

	var emails []models.Email
	for _, folder := range folders {
		if ctx.Err() != nil {
			return nil, time.Time{}, ctx.Err()
		}

		parsed, err := s.scanFolder(ctx, imapClient, folder, since, cutoff)
		if err != nil {
			s.logger.Error("Failed to scan folder",
				zap.String("account", s.account.Email),
				zap.String("folder", decodeFolderName(folder)),
				zap.Error(err))
			continue
		}
		emails = append(emails, parsed...)
	}

	return emails, time.Now(), nil
}

func (s *Scanner) connect(ctx context.Context) (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", s.config.IMAPHost, s.config.IMAPPort)

	retries := s.config.ConnectRetries
	if retries == 0 {
		retries = defaultRetries
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			pause := retryPause * time.Duration(attempt+1)
			s.logger.Info("Retrying IMAP connection",
				zap.String("account", s.account.Email),
				zap.Duration("pause", pause))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(pause):
			}
		}

		imapClient, err := client.DialTLS(addr, nil)
		if err != nil {
			lastErr = err
			s.logger.Warn("Failed to connect to IMAP server",
				zap.String("addr", addr), zap.Error(err))
			continue
		}

		if err := imapClient.Login(s.account.Email, s.account.Password); err != nil {
			lastErr = err
			s.logger.Warn("Failed to login",
				zap.String("account", s.account.Email), zap.Error(err))
			s.logout(imapClient)
			continue
		}

		s.logger.Info("Connected to mailbox", zap.String("account", s.account.Email))
		return imapClient, nil
	}

	return nil, fmt.Errorf("connect %s after %d attempts: %w", s.account.Email, retries, lastErr)
}

func (s *Scanner) logout(imapClient *client.Client) {
	if err := imapClient.Logout(); err != nil {
		s.logger.Warn("Failed to logout from IMAP server", zap.Error(err))
	}
}

func (s *Scanner) listFolders(imapClient *client.Client) ([]string, error) {
	mailboxes := make(chan *imap.MailboxInfo, 16)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.List("", "*", mailboxes)
	}()

	var folders []string
	for mb := range mailboxes {
		if s.skipFolder(mb.Name) {
			continue
		}
		folders = append(folders, mb.Name)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	return folders, nil
}

func (s *Scanner) skipFolder(name string) bool {
	decoded := decodeFolderName(name)
	for _, skip := range s.config.SkipFolders {
		if strings.EqualFold(name, skip) || strings.EqualFold(decoded, skip) {
			return true
		}
	}
	return false
}

func (s *Scanner) scanFolder(ctx context.Context, imapClient *client.Client, folder string, since, cutoff time.Time) ([]models.Email, error) {
	if _, err := imapClient.Select(folder, true); err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	max := s.config.MaxPerFolder
	if max == 0 {
		max = defaultMaxPerFolder
	}
	if len(ids) > max {
		s.logger.Warn("Folder message cap reached",
			zap.String("folder", decodeFolderName(folder)),
			zap.Int("found", len(ids)),
			zap.Int("cap", max))
		ids = ids[:max]
	}

	s.logger.Info("Found messages",
		zap.String("account", s.account.Email),
		zap.String("folder", decodeFolderName(folder)),
		zap.Int("count", len(ids)))

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	// BODY.PEEK[] keeps the \Seen flag untouched on shared mailboxes.
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchFlags}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset, items, messages)
	}()

	var emails []models.Email
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			s.logger.Warn("Message has no body section", zap.Uint32("seq", msg.SeqNum))
			continue
		}

		email, err := s.parser.Parse(ctx, body, cutoff)
		if err != nil {
			s.logger.Error("Failed to parse message",
				zap.Uint32("seq", msg.SeqNum), zap.Error(err))
			continue
		}
		if email == nil {
			continue
		}
		email.Folder = decodeFolderName(folder)
		emails = append(emails, *email)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return emails, nil
}

// decodeFolderName turns a modified UTF-7 mailbox name into readable text.
func decodeFolderName(name string) string {
	decoded, err := utf7.Encoding.NewDecoder().String(name)
	if err != nil {
		return name
	}
	return decoded
}
