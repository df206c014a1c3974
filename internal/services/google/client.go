package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"crm-automation/internal/config"
)

const (
	retryAttempts = 5
	retryInitial  = 2 * time.Second
	retryBackoff  = 2
)

var scopes = []string{
	drive.DriveScope,
	docs.DocumentsScope,
	sheets.SpreadsheetsScope,
}

// Service wraps the Docs, Drive and Sheets APIs behind one authorized
// client.
type Service struct {
	docs   *docs.Service
	drive  *drive.Service
	sheets *sheets.Service
	config config.GoogleConfig
	logger *zap.Logger
}

// NewService builds the API clients from a stored OAuth token. Batch jobs
// cannot open a browser, so a missing or revoked token is an error: the token
// file has to be produced once by hand.
func NewService(ctx context.Context, cfg config.GoogleConfig, logger *zap.Logger) (*Service, error) {
	credentials, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth credentials: %w", err)
	}

	oauthConfig, err := google.ConfigFromJSON(credentials, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse oauth credentials: %w", err)
	}

	token, err := readToken(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("read token (run the authorization helper first): %w", err)
	}

	source := &savingTokenSource{
		source: oauthConfig.TokenSource(ctx, token),
		path:   cfg.TokenFile,
		last:   token.AccessToken,
		logger: logger,
	}
	client := oauth2.NewClient(ctx, source)

	docsService, err := docs.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("docs service: %w", err)
	}
	driveService, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	sheetsService, err := sheets.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Service{
		docs:   docsService,
		drive:  driveService,
		sheets: sheetsService,
		config: cfg,
		logger: logger,
	}, nil
}

func readToken(path string) (*oauth2.Token, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	token := &oauth2.Token{}
	if err := json.NewDecoder(file).Decode(token); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return token, nil
}

// savingTokenSource writes refreshed tokens back to disk so the next run
// does not start from an expired access token.
type savingTokenSource struct {
	source oauth2.TokenSource
	path   string
	last   string
	logger *zap.Logger
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.source.Token()
	if err != nil {
		return nil, err
	}

	if token.AccessToken != s.last {
		s.last = token.AccessToken
		if err := s.save(token); err != nil {
			s.logger.Warn("Failed to persist refreshed token", zap.Error(err))
		}
	}
	return token, nil
}

func (s *savingTokenSource) save(token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// withRetry repeats an API call on transient failures with exponential
// backoff.
func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	delay := retryInitial

	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			s.logger.Warn("Retrying Google API call",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Duration("pause", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= retryBackoff
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return fmt.Errorf("%s: %w", op, lastErr)
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", op, retryAttempts, lastErr)
}

func isTransient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
