// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextFromContentStream(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "simple Tj",
			content: "BT /F1 12 Tf (Hello World) Tj ET",
			want:    "Hello World\n",
		},
		{
			name:    "TJ array with kerning",
			content: "BT [(Hel) -20 (lo) 5 ( World)] TJ ET",
			want:    "Hello World\n",
		},
		{
			name:    "quote operator shows string",
			content: "BT (line one) ' ET",
			want:    "line one\n",
		},
		{
			name:    "escaped parens",
			content: `BT (balance \(net\)) Tj ET`,
			want:    "balance (net)\n",
		},
		{
			name:    "escaped newline and tab",
			content: `BT (a\nb\tc) Tj ET`,
			want:    "a\nb\tc\n",
		},
		{
			name:    "octal escape",
			content: `BT (\101\102\103) Tj ET`,
			want:    "ABC\n",
		},
		{
			name:    "hex string",
			content: "BT <48656C6C6F> Tj ET",
			want:    "Hello\n",
		},
		{
			name:    "hex string odd digits",
			content: "BT <48656C6C6F2> Tj ET", // trailing digit pads with 0
			want:    "Hello \n",
		},
		{
			name:    "nested literal parens",
			content: "BT (outer (inner) tail) Tj ET",
			want:    "outer (inner) tail\n",
		},
		{
			name:    "Td inserts line break",
			content: "BT (first) Tj 0 -14 Td (second) Tj ET",
			want:    "first\nsecond\n",
		},
		{
			name:    "string argument of non-text operator ignored",
			content: "BT /GS1 gs (shown) Tj ET (not shown) unknownop",
			want:    "shown\n",
		},
		{
			name:    "comment skipped",
			content: "BT % (commented out) Tj\n(real) Tj ET",
			want:    "real\n",
		},
		{
			name:    "empty stream",
			content: "",
			want:    "",
		},
		{
			name:    "no text operators",
			content: "q 1 0 0 1 50 50 cm /Im1 Do Q",
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, textFromContentStream([]byte(tt.content)))
		})
	}
}

func TestParseLiteralString_Unterminated(t *testing.T) {
	s, next := parseLiteralString([]byte("(never closed"), 0)
	assert.Equal(t, "never closed", s)
	assert.Equal(t, len("(never closed"), next)
}

func TestParseHexString_IgnoresWhitespace(t *testing.T) {
	s, _ := parseHexString([]byte("<48 65 6C 6C 6F>"), 0)
	assert.Equal(t, "Hello", s)
}

func TestNewPDFExtractor_RelaxedValidation(t *testing.T) {
	e := NewPDFExtractor(testLogger(t))
	require.NotNil(t, e.conf)
	assert.Equal(t, model.ValidationRelaxed, e.conf.ValidationMode)
}

func TestExtract_MissingFile(t *testing.T) {
	e := NewPDFExtractor(testLogger(t))

	_, err := e.Extract(context.Background(), filepath.Join(t.TempDir(), "absent.pdf"))
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindExtractionFailed, kind)
}

func TestExtract_NotAPDF(t *testing.T) {
	e := NewPDFExtractor(testLogger(t))
	path := filepath.Join(t.TempDir(), "fake.pdf")
	require.NoError(t, os.WriteFile(path, []byte("this is plain text, not a pdf"), 0o600))

	_, err := e.Extract(context.Background(), path)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindExtractionFailed, kind)
}
