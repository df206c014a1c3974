// Package fileformat classifies raw payloads by their magic bytes.
package fileformat

import (
	"archive/zip"
	"bytes"
	"strings"
	"unicode/utf8"

	"crm-automation/internal/models"
)

type signature struct {
	magic       []byte
	mimeType    string
	extension   string
	description string
}

var signatures = []signature{
	{[]byte("\x89PNG\r\n\x1a\n"), "image/png", "png", "PNG image"},
	{[]byte("\xff\xd8\xff"), "image/jpeg", "jpg", "JPEG image"},
	{[]byte("GIF87a"), "image/gif", "gif", "GIF image (87a)"},
	{[]byte("GIF89a"), "image/gif", "gif", "GIF image (89a)"},
	{[]byte("%PDF"), "application/pdf", "pdf", "PDF document"},
	{[]byte("\xd0\xcf\x11\xe0\xa1\xb1\x1a\xe1"), "application/vnd.ms-excel", "xls", "Microsoft Excel (XLS/DOC/PPT)"},
	{[]byte("\x1f\x8b\x08"), "application/gzip", "gz", "GZIP archive"},
	{[]byte("Rar!\x1a\x07"), "application/x-rar-compressed", "rar", "RAR archive"},
	{[]byte("ID3"), "audio/mpeg", "mp3", "MP3 audio"},
	{[]byte("RIFF"), "audio/wav", "wav", "WAV audio"},
}

var zipMagic = []byte("PK\x03\x04")

// Detect resolves the MIME type and extension of data. Office Open XML
// containers are disambiguated before falling back to plain ZIP.
func Detect(data []byte) models.FileFormat {
	for _, sig := range signatures {
		if bytes.HasPrefix(data, sig.magic) {
			return models.FileFormat{MIMEType: sig.mimeType, Extension: sig.extension, Description: sig.description}
		}
	}

	if bytes.HasPrefix(data, zipMagic) {
		chunk := data
		if len(chunk) > 2048 {
			chunk = chunk[:2048]
		}
		switch {
		case bytes.Contains(chunk, []byte("xl/")) || bytes.Contains(chunk, []byte("workbook")):
			return models.FileFormat{
				MIMEType:    "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
				Extension:   "xlsx",
				Description: "Microsoft Excel (XLSX)",
			}
		case bytes.Contains(chunk, []byte("word/")) || bytes.Contains(chunk, []byte("document.xml")):
			return models.FileFormat{
				MIMEType:    "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
				Extension:   "docx",
				Description: "Microsoft Word (DOCX)",
			}
		case bytes.Contains(chunk, []byte("ppt/")) || bytes.Contains(chunk, []byte("presentation")):
			return models.FileFormat{
				MIMEType:    "application/vnd.openxmlformats-officedocument.presentationml.presentation",
				Extension:   "pptx",
				Description: "Microsoft PowerPoint (PPTX)",
			}
		}
		return models.FileFormat{MIMEType: "application/zip", Extension: "zip", Description: "ZIP archive"}
	}

	probe := data
	if len(probe) > 1024 {
		probe = probe[:1024]
	}
	if utf8.Valid(probe) {
		return models.FileFormat{MIMEType: "text/plain", Extension: "txt", Description: "Plain text"}
	}

	return models.FileFormat{MIMEType: "application/octet-stream", Extension: "bin", Description: "Unknown binary data"}
}

// IsExcel reports whether data looks like a spreadsheet and which flavor.
func IsExcel(data []byte) (bool, string) {
	if len(data) < 8 {
		return false, "empty"
	}
	if bytes.HasPrefix(data, zipMagic) || bytes.HasPrefix(data, []byte("PK")) {
		return true, "xlsx"
	}
	if bytes.HasPrefix(data, []byte("\xd0\xcf\x11\xe0")) {
		return true, "xls"
	}
	return false, "unknown"
}

// ValidateExcel confirms the payload actually opens as the detected flavor.
// For xlsx the ZIP directory must contain a workbook entry; for xls the OLE2
// header check from IsExcel is as deep as we go without a full CFB reader.
func ValidateExcel(data []byte, flavor string) bool {
	switch flavor {
	case "xlsx":
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return false
		}
		for _, f := range zr.File {
			if strings.HasPrefix(f.Name, "xl/") {
				return true
			}
		}
		return false
	case "xls":
		return bytes.HasPrefix(data, []byte("\xd0\xcf\x11\xe0"))
	default:
		return false
	}
}
