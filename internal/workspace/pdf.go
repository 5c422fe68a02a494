package workspace

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// maxImportBytes caps the text kept from one imported document.
const maxImportBytes = 256 * 1024

// ImportPDF extracts the plain text of the PDF at path and stores it as a
// note owned by owner, titled after the file name.
func (s *Store) ImportPDF(ctx context.Context, owner, path string) (Entry, error) {
	text, err := readPDFText(path)
	if err != nil {
		return Entry{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Entry{}, fmt.Errorf("no extractable text in %s", path)
	}

	base := filepath.Base(path)
	return s.Create(ctx, Entry{
		OwnerUserID: owner,
		Kind:        KindNote,
		Title:       strings.TrimSuffix(base, filepath.Ext(base)),
		Body:        text,
		Source:      "pdf:" + base,
	})
}

func readPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(plain, maxImportBytes)); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
