package gateway

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

// OCRExtractor implements the ocr_extract tool. Inline document text is
// passed through untouched; PDF documents are read page by page with
// go-fitz; other files are read verbatim. The selected backend name is
// echoed back for the audit trail.
type OCRExtractor struct {
	maxPages int
	logger   *zap.Logger
}

// NewOCRExtractor creates the OCR tool handler.
func NewOCRExtractor(logger *zap.Logger) *OCRExtractor {
	return &OCRExtractor{
		maxPages: 4,
		logger:   logger,
	}
}

func (o *OCRExtractor) Name() string { return ToolOCRExtract }

func (o *OCRExtractor) RequiredArgs() []string { return []string{"document_ref"} }

// Invoke extracts raw text from the referenced document.
func (o *OCRExtractor) Invoke(ctx context.Context, args Args) (Result, error) {
	ref := stringArg(args, "document_ref")
	backend := stringArg(args, "backend")

	// Inline text short-circuits file access entirely.
	if inline := stringArg(args, "document_text"); inline != "" {
		return Result{"text": inline, "backend": backend}, nil
	}

	if _, err := os.Stat(ref); err != nil {
		return nil, fmt.Errorf("document %q is not readable: %w", ref, err)
	}

	var text string
	var err error
	if strings.HasSuffix(strings.ToLower(ref), ".pdf") {
		text, err = o.extractPDFText(ref)
	} else {
		var data []byte
		data, err = os.ReadFile(ref)
		text = string(data)
	}
	if err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	o.logger.Debug("Extracted document text",
		zap.String("document_ref", ref),
		zap.Int("bytes", len(text)))

	return Result{"text": text, "backend": backend}, nil
}

// extractPDFText concatenates the text content of the first pages.
func (o *OCRExtractor) extractPDFText(path string) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages > o.maxPages {
		pages = o.maxPages
	}

	var sb strings.Builder
	for i := 0; i < pages; i++ {
		pageText, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("failed to extract text from page %d: %w", i, err)
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}

	return sb.String(), nil
}
