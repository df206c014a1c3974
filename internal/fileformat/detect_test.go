package fileformat

import (
	"archive/zip"
	"bytes"
	"testing"
)

func xlsxFixture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"[Content_Types].xml", "xl/workbook.xml", "xl/worksheets/sheet1.xml"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		if _, err := w.Write([]byte("<xml/>")); err != nil {
			t.Fatalf("write zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		mime string
		ext  string
	}{
		{"pdf", []byte("%PDF-1.7 rest"), "application/pdf", "pdf"},
		{"png", append([]byte("\x89PNG\r\n\x1a\n"), 0x00), "image/png", "png"},
		{"ole2", []byte("\xd0\xcf\x11\xe0\xa1\xb1\x1a\xe1tail"), "application/vnd.ms-excel", "xls"},
		{"text", []byte("hello world"), "text/plain", "txt"},
		{"binary", []byte{0x00, 0xff, 0xfe, 0x01}, "application/octet-stream", "bin"},
	}

	for _, tt := range tests {
		got := Detect(tt.data)
		if got.MIMEType != tt.mime || got.Extension != tt.ext {
			t.Errorf("%s: Detect = %s/%s, want %s/%s", tt.name, got.MIMEType, got.Extension, tt.mime, tt.ext)
		}
	}
}

func TestDetectXLSX(t *testing.T) {
	got := Detect(xlsxFixture(t))
	if got.Extension != "xlsx" {
		t.Errorf("Detect xlsx fixture = %s, want xlsx", got.Extension)
	}
}

func TestIsExcel(t *testing.T) {
	if ok, flavor := IsExcel([]byte("\xd0\xcf\x11\xe0rest-of-header")); !ok || flavor != "xls" {
		t.Errorf("IsExcel OLE2 = %v/%s, want true/xls", ok, flavor)
	}
	if ok, flavor := IsExcel(xlsxFixture(t)); !ok || flavor != "xlsx" {
		t.Errorf("IsExcel zip = %v/%s, want true/xlsx", ok, flavor)
	}
	if ok, _ := IsExcel([]byte("%PDF-1.4 not excel")); ok {
		t.Error("IsExcel accepted a PDF")
	}
	if ok, flavor := IsExcel([]byte("tiny")); ok || flavor != "empty" {
		t.Errorf("IsExcel short input = %v/%s, want false/empty", ok, flavor)
	}
}

func TestValidateExcel(t *testing.T) {
	if !ValidateExcel(xlsxFixture(t), "xlsx") {
		t.Error("ValidateExcel rejected a valid xlsx")
	}

	// A ZIP with no xl/ entries is not a spreadsheet.
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("readme.txt")
	_, _ = w.Write([]byte("nope"))
	_ = zw.Close()
	if ValidateExcel(buf.Bytes(), "xlsx") {
		t.Error("ValidateExcel accepted a plain ZIP as xlsx")
	}

	if ValidateExcel([]byte("not a zip at all"), "xlsx") {
		t.Error("ValidateExcel accepted garbage as xlsx")
	}
	if !ValidateExcel([]byte("\xd0\xcf\x11\xe0more"), "xls") {
		t.Error("ValidateExcel rejected OLE2 header as xls")
	}
}
