package extract

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeDocx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestTextFormats(t *testing.T) {
	docx := makeDocx(t,
		`<w:p><w:r><w:t>First</w:t></w:r><w:r><w:t xml:space="preserve"> paragraph</w:t></w:r></w:p>`+
			`<w:p><w:r><w:t>Second</w:t><w:tab/><w:t>tabbed</w:t></w:r></w:p>`)

	tests := []struct {
		name string
		file string
		data []byte
		want string
	}{
		{"txt", "notes.txt", []byte("plain text"), "plain text"},
		{"markdown with bom", "README.MD", []byte("\xef\xbb\xbf# Title"), "# Title"},
		{"docx", "report.docx", docx, "First paragraph\nSecond\ttabbed"},
		{"html", "page.html", []byte(`<html><head><title>T</title><style>p{}</style></head>
<body><h1>Heading</h1><p>Body   text</p><script>alert(1)</script></body></html>`), "Heading\n\nBody text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Text(tt.file, bytes.NewReader(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTextErrors(t *testing.T) {
	_, err := Text("slides.pptx", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Text("blank.txt", strings.NewReader(" \n\t "))
	assert.ErrorIs(t, err, ErrEmptyDocument)

	_, err = Text("empty.docx", bytes.NewReader(makeDocx(t, `<w:p></w:p>`)))
	assert.ErrorIs(t, err, ErrEmptyDocument)

	_, err = Text("binary.txt", bytes.NewReader([]byte{0xff, 0xfe, 0xfd}))
	assert.ErrorIs(t, err, ErrUnreadable)

	_, err = Text("broken.docx", strings.NewReader("not a zip"))
	assert.ErrorIs(t, err, ErrUnreadable)

	_, err = Text("broken.pdf", strings.NewReader("%PDF-1.4 garbage"))
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestSupported(t *testing.T) {
	for _, ext := range Extensions() {
		assert.True(t, Supported("file"+ext), ext)
	}
	assert.True(t, Supported("FILE.PDF"))
	assert.False(t, Supported("file.doc"))
	assert.False(t, Supported("noext"))
}
