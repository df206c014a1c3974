package google

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/drive/v3"
)

// DocumentText reads a document and concatenates its paragraph text runs.
func (s *Service) DocumentText(ctx context.Context, docID string) (string, error) {
	var doc *docs.Document
	err := s.withRetry(ctx, "get document", func() error {
		var err error
		doc, err = s.docs.Documents.Get(docID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}

	return extractText(doc), nil
}

func extractText(doc *docs.Document) string {
	var text strings.Builder
	if doc.Body != nil {
		for _, element := range doc.Body.Content {
			if element.Paragraph == nil {
				continue
			}
			for _, pe := range element.Paragraph.Elements {
				if pe.TextRun != nil {
					text.WriteString(pe.TextRun.Content)
				}
			}
		}
	}
	return text.String()
}

// CreateDoc creates a document in a folder, fills it with text and transfers
// ownership to the configured account. Extra readers get per-user
// permissions.
func (s *Service) CreateDoc(ctx context.Context, name, folderID, content string, readers []Permission) (string, error) {
	var doc *docs.Document
	err := s.withRetry(ctx, "create document", func() error {
		var err error
		doc, err = s.docs.Documents.Create(&docs.Document{Title: name}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}
	docID := doc.DocumentId

	if err := s.moveFile(ctx, docID, folderID); err != nil {
		return "", err
	}

	if content != "" {
		update := &docs.BatchUpdateDocumentRequest{
			Requests: []*docs.Request{{
				InsertText: &docs.InsertTextRequest{
					Location: &docs.Location{Index: 1},
					Text:     content,
				},
			}},
		}
		err = s.withRetry(ctx, "write document content", func() error {
			_, err := s.docs.Documents.BatchUpdate(docID, update).Context(ctx).Do()
			return err
		})
		if err != nil {
			return "", err
		}
	}

	if err := s.transferOwnership(ctx, docID); err != nil {
		return "", err
	}
	if err := s.grantPermissions(ctx, docID, readers); err != nil {
		return "", err
	}

	s.logger.Info("Document created",
		zap.String("name", name), zap.String("doc_id", docID))
	return docID, nil
}

func (s *Service) moveFile(ctx context.Context, fileID, folderID string) error {
	var file *drive.File
	err := s.withRetry(ctx, "get file parents", func() error {
		var err error
		file, err = s.drive.Files.Get(fileID).Fields("parents").Context(ctx).Do()
		return err
	})
	if err != nil {
		return err
	}

	previous := strings.Join(file.Parents, ",")
	return s.withRetry(ctx, "move file", func() error {
		_, err := s.drive.Files.Update(fileID, nil).
			AddParents(folderID).
			RemoveParents(previous).
			Fields("id, parents").
			Context(ctx).Do()
		return err
	})
}

func (s *Service) transferOwnership(ctx context.Context, fileID string) error {
	if s.config.OwnerEmail == "" {
		return nil
	}
	permission := &drive.Permission{
		Type:         "user",
		Role:         "owner",
		EmailAddress: s.config.OwnerEmail,
	}
	return s.withRetry(ctx, "transfer ownership", func() error {
		_, err := s.drive.Permissions.Create(fileID, permission).
			TransferOwnership(true).
			Context(ctx).Do()
		return err
	})
}

func (s *Service) grantPermissions(ctx context.Context, fileID string, perms []Permission) error {
	for _, p := range perms {
		role := p.Role
		if role == "" {
			role = "reader"
		}
		permission := &drive.Permission{
			Type:         "user",
			Role:         role,
			EmailAddress: p.Email,
		}
		err := s.withRetry(ctx, fmt.Sprintf("grant %s to %s", role, p.Email), func() error {
			_, err := s.drive.Permissions.Create(fileID, permission).Fields("id").Context(ctx).Do()
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}
