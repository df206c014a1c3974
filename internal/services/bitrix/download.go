package bitrix

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"crm-automation/internal/fileformat"
)

// File download from the portal UI needs a browser session: the REST webhook
// has no access to disk files attached through the old interface.

// Download fetches a portal file after a form login and classifies the
// payload by magic bytes. Unknown formats are rejected.
func (c *Client) Download(ctx context.Context, downloadPath string) ([]byte, string, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, "", fmt.Errorf("cookie jar: %w", err)
	}

	session := &http.Client{Timeout: requestTimeout, Jar: jar}
	if err := c.login(ctx, session); err != nil {
		return nil, "", err
	}

	fullURL := fmt.Sprintf("https://%s%s", c.config.Domain, downloadPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}

	resp, err := session.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}

	kind, err := classifyDocument(content)
	if err != nil {
		return nil, "", err
	}

	c.logger.Info("Portal file downloaded",
		zap.String("path", downloadPath),
		zap.String("kind", kind),
		zap.Int("size", len(content)))
	return content, kind, nil
}

func (c *Client) login(ctx context.Context, session *http.Client) error {
	loginURL := fmt.Sprintf("https://%s/auth/?backurl=%%2F", c.config.Domain)

	// Prime the session cookie before posting credentials.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginURL, nil)
	if err != nil {
		return fmt.Errorf("build login page request: %w", err)
	}
	resp, err := session.Do(req)
	if err != nil {
		return fmt.Errorf("fetch login page: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	form := url.Values{
		"USER_LOGIN":    {c.config.Session.Username},
		"USER_PASSWORD": {c.config.Session.Password},
		"AUTH_FORM":     {"Y"},
		"TYPE":          {"AUTH"},
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err = session.Do(req)
	if err != nil {
		return fmt.Errorf("portal login: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read login response: %w", err)
	}

	// The portal re-renders the auth form on bad credentials.
	if resp.StatusCode != http.StatusOK || strings.Contains(string(body), "Авторизация") {
		return fmt.Errorf("portal login rejected for %s", c.config.Session.Username)
	}
	return nil
}

// classifyDocument names a downloaded document by its signature: pdf,
// doc_or_xls for OLE2 containers, docx/xlsx for Office Open XML.
func classifyDocument(content []byte) (string, error) {
	switch {
	case bytes.HasPrefix(content, []byte("%PDF")):
		return "pdf", nil
	case bytes.HasPrefix(content, []byte("\xd0\xcf\x11\xe0\xa1\xb1\x1a\xe1")):
		return "doc_or_xls", nil
	case bytes.HasPrefix(content, []byte("PK\x03\x04")):
		format := fileformat.Detect(content)
		switch format.Extension {
		case "docx", "xlsx":
			return format.Extension, nil
		default:
			return "", fmt.Errorf("unknown ZIP-based office format")
		}
	default:
		return "", fmt.Errorf("unknown file format")
	}
}
