// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
PDF text extraction.

# Problem Statement

Uploaded documents arrive as PDFs but the model consumes plain text.
PDFs are hostile input: they can be huge, have thousands of pages, carry
malformed pages mid-document, or contain no extractable text at all.
Extraction must survive all of that with hard ceilings on pages and
output size, and a single bad page must not sink the document.

# Solution

PDFExtractor reads the document with pdfcpu in relaxed validation mode,
walks pages up to a fixed cap, pulls text shown by Tj/TJ/' operators out
of each page's content stream, and skips pages that fail individually.
Output is truncated at a character ceiling and sanitized before leaving
this package.

Text is recovered from literal and hex strings in the content stream;
documents whose fonts use custom encodings may come out garbled, which
the model tolerates far better than an outright failure would.
*/
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/kodiakml/docbrief/pkg/logging"
	"github.com/kodiakml/docbrief/pkg/validation"
)

// Extraction ceilings. A document hitting a ceiling is truncated, not
// rejected; partial text still produces a useful analysis.
const (
	// MaxUploadBytes is the largest accepted document.
	MaxUploadBytes = 50 * 1024 * 1024

	// MaxPages bounds how many pages are read.
	MaxPages = 100

	// MaxExtractedChars bounds the total extracted text.
	MaxExtractedChars = 500_000
)

// TextExtractor pulls plain text out of a stored document.
type TextExtractor interface {
	// Extract returns the document's text, bounded and sanitized.
	Extract(ctx context.Context, path string) (string, error)
}

// PDFExtractor implements TextExtractor for PDF files using pdfcpu.
type PDFExtractor struct {
	logger *logging.Logger
	conf   *model.Configuration
}

// NewPDFExtractor creates a PDF text extractor.
//
// Validation runs relaxed: real-world PDFs are widely non-conformant
// and strict mode rejects documents every other viewer opens fine.
func NewPDFExtractor(logger *logging.Logger) *PDFExtractor {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFExtractor{logger: logger, conf: conf}
}

// Extract returns the PDF's text content.
//
// # Description
//
// Reads up to MaxPages pages and at most MaxExtractedChars characters.
// Pages that fail to parse are logged and skipped. A document yielding
// no text at all (scanned images, empty pages) is an error, since there
// is nothing to analyze.
//
// # Outputs
//
//   - string: sanitized text, at most MaxExtractedChars characters
//   - error: *PipelineError with KindTooLarge, KindExtractionFailed, or
//     KindExtractionEmpty
func (e *PDFExtractor) Extract(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", newPipelineError(KindExtractionFailed, "document not found", err)
	}
	if info.Size() > MaxUploadBytes {
		return "", newPipelineError(KindTooLarge,
			fmt.Sprintf("document too large (max %dMB)", MaxUploadBytes/(1024*1024)), nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", newPipelineError(KindExtractionFailed, "failed to open document", err)
	}
	defer f.Close()

	pdfCtx, err := api.ReadContext(f, e.conf)
	if err != nil {
		return "", newPipelineError(KindExtractionFailed, "failed to parse document", err)
	}

	pages := pdfCtx.PageCount
	readPages := pages
	if readPages > MaxPages {
		readPages = MaxPages
	}
	e.logger.Info("extracting document text", "pages", pages, "reading", readPages, "bytes", info.Size())

	var sb strings.Builder
	for pageNr := 1; pageNr <= readPages; pageNr++ {
		if ctx.Err() != nil {
			return "", newPipelineError(KindExtractionFailed, "extraction cancelled", ctx.Err())
		}

		reader, err := pdfcpu.ExtractPageContent(pdfCtx, pageNr)
		if err != nil {
			e.logger.Warn("failed to extract page, skipping", "page", pageNr, "error", err)
			continue
		}
		if reader == nil {
			continue
		}
		content, err := io.ReadAll(io.LimitReader(reader, MaxExtractedChars*4))
		if err != nil {
			e.logger.Warn("failed to read page content, skipping", "page", pageNr, "error", err)
			continue
		}

		pageText := textFromContentStream(content)
		if pageText != "" {
			sb.WriteString(pageText)
			sb.WriteString("\n")
		}
		if sb.Len() > MaxExtractedChars {
			e.logger.Info("extraction character ceiling reached", "page", pageNr)
			break
		}
	}

	text := validation.SanitizeText(sb.String(), MaxExtractedChars)
	if strings.TrimSpace(text) == "" {
		return "", newPipelineError(KindExtractionEmpty,
			"no text could be extracted from document", nil)
	}
	e.logger.Info("document text extracted", "chars", len(text))
	return text, nil
}

// textFromContentStream scans a PDF content stream for text-showing
// operators (Tj, TJ, ') and decodes the strings they show.
//
// The scanner understands the two PDF string syntaxes:
//
//	(literal \050with\051 escapes)   and   <48657820737472696E67>
//
// It tracks which strings are consumed by a text operator so string
// arguments of non-text operators are not mistaken for content.
func textFromContentStream(content []byte) string {
	var out strings.Builder
	var pending []string // strings seen since the last operator

	i := 0
	n := len(content)
	for i < n {
		c := content[i]
		switch {
		case c == '(':
			s, next := parseLiteralString(content, i)
			pending = append(pending, s)
			i = next
		case c == '<' && i+1 < n && content[i+1] != '<':
			s, next := parseHexString(content, i)
			pending = append(pending, s)
			i = next
		case c == '<': // dictionary start, skip both brackets
			i += 2
		case c == '%': // comment runs to end of line
			for i < n && content[i] != '\n' && content[i] != '\r' {
				i++
			}
		case isOperatorChar(c):
			start := i
			for i < n && isOperatorChar(content[i]) {
				i++
			}
			op := string(content[start:i])
			switch op {
			case "Tj", "'", "\"":
				for _, s := range pending {
					out.WriteString(s)
				}
			case "TJ":
				// Array form: strings interleaved with kerning numbers.
				for _, s := range pending {
					out.WriteString(s)
				}
			case "Td", "TD", "T*":
				out.WriteString("\n")
			case "ET":
				out.WriteString("\n")
			}
			pending = pending[:0]
		case c == ']':
			// Keep pending strings: the TJ operator follows the array.
			i++
		case c == '[' || c == ')' || c == '>':
			i++
		default:
			if !isWhitespace(c) && (c < '0' || c > '9') && c != '.' && c != '-' && c != '+' && c != '/' {
				// Unknown token, drop any stranded strings.
				pending = pending[:0]
			}
			i++
		}
	}
	return out.String()
}

// parseLiteralString decodes a ( ... ) string starting at content[i].
// Returns the decoded text and the index past the closing paren.
func parseLiteralString(content []byte, i int) (string, int) {
	var sb strings.Builder
	depth := 0
	n := len(content)
	for ; i < n; i++ {
		c := content[i]
		switch c {
		case '\\':
			if i+1 >= n {
				return sb.String(), n
			}
			i++
			switch content[i] {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b', 'f':
				// Backspace and form feed carry no text value.
			case '(', ')', '\\':
				sb.WriteByte(content[i])
			case '0', '1', '2', '3', '4', '5', '6', '7':
				// Up to three octal digits.
				val := 0
				digits := 0
				for digits < 3 && i < n && content[i] >= '0' && content[i] <= '7' {
					val = val*8 + int(content[i]-'0')
					i++
					digits++
				}
				i--
				if val > 0 && val < 128 {
					sb.WriteByte(byte(val))
				}
			}
		case '(':
			if depth > 0 {
				sb.WriteByte(c)
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), n
}

// parseHexString decodes a < ... > string starting at content[i].
// Returns the decoded text and the index past the closing bracket.
func parseHexString(content []byte, i int) (string, int) {
	var sb strings.Builder
	i++ // skip '<'
	n := len(content)
	var hi int = -1
	for ; i < n; i++ {
		c := content[i]
		if c == '>' {
			// Odd digit count: final digit pairs with an implied zero.
			if hi >= 0 {
				b := byte(hi << 4)
				if b >= 32 && b < 127 {
					sb.WriteByte(b)
				}
			}
			return sb.String(), i + 1
		}
		v := hexVal(c)
		if v < 0 {
			continue
		}
		if hi < 0 {
			hi = v
		} else {
			b := byte(hi<<4 | v)
			if b >= 32 && b < 127 || b == '\n' || b == '\t' {
				sb.WriteByte(b)
			}
			hi = -1
		}
	}
	return sb.String(), n
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return -1
	}
}

func isOperatorChar(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c == '\'' || c == '"' || c == '*'
}

func isWhitespace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

// MockExtractor is a TextExtractor test double.
type MockExtractor struct {
	ExtractFunc func(ctx context.Context, path string) (string, error)
}

func (m *MockExtractor) Extract(ctx context.Context, path string) (string, error) {
	if m.ExtractFunc == nil {
		return "", fmt.Errorf("MockExtractor.ExtractFunc not set")
	}
	return m.ExtractFunc(ctx, path)
}

// Compile-time interface compliance checks.
var (
	_ TextExtractor = (*PDFExtractor)(nil)
	_ TextExtractor = (*MockExtractor)(nil)
)
