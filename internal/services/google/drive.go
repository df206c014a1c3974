package google

import (
	"bytes"
	"context"
	"io"

	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const docxMIMEType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Permission grants one account access to a created file or folder.
type Permission struct {
	Email string
	Role  string
}

// ExportFile downloads a Drive file converted to the given MIME type.
func (s *Service) ExportFile(ctx context.Context, fileID, mimeType string) ([]byte, error) {
	var content []byte
	err := s.withRetry(ctx, "export file", func() error {
		resp, err := s.drive.Files.Export(fileID, mimeType).Context(ctx).Download()
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		content, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// UploadAsDoc stores a binary document in a folder, converting it to a
// Google Doc on upload. Returns the file ID and a view link.
func (s *Service) UploadAsDoc(ctx context.Context, data []byte, filename, folderID string) (string, string, error) {
	metadata := &drive.File{
		Name:     filename,
		MimeType: "application/vnd.google-apps.document",
		Parents:  []string{folderID},
	}

	var file *drive.File
	err := s.withRetry(ctx, "upload document", func() error {
		var err error
		file, err = s.drive.Files.Create(metadata).
			Media(bytes.NewReader(data), googleapi.ContentType(docxMIMEType)).
			Fields("id, webViewLink").
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", "", err
	}

	s.logger.Info("Uploaded document to Drive",
		zap.String("name", filename), zap.String("file_id", file.Id))
	return file.Id, file.WebViewLink, nil
}

// CreateFolder creates a Drive folder. Without explicit permissions the
// folder becomes link-readable for anyone, the way shared deal folders are
// handed out.
func (s *Service) CreateFolder(ctx context.Context, name, parentID string, perms []Permission) (string, error) {
	metadata := &drive.File{
		Name:     name,
		MimeType: "application/vnd.google-apps.folder",
	}
	if parentID != "" {
		metadata.Parents = []string{parentID}
	}

	var folder *drive.File
	err := s.withRetry(ctx, "create folder", func() error {
		var err error
		folder, err = s.drive.Files.Create(metadata).Fields("id").Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}

	if len(perms) == 0 {
		permission := &drive.Permission{Type: "anyone", Role: "reader"}
		err = s.withRetry(ctx, "share folder", func() error {
			_, err := s.drive.Permissions.Create(folder.Id, permission).Fields("id").Context(ctx).Do()
			return err
		})
		if err != nil {
			return "", err
		}
	} else if err := s.grantPermissions(ctx, folder.Id, perms); err != nil {
		return "", err
	}

	s.logger.Info("Folder created",
		zap.String("name", name), zap.String("folder_id", folder.Id))
	return folder.Id, nil
}
