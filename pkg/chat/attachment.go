package chat

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxInlineSize caps how much of a text attachment is inlined into a message.
const MaxInlineSize = 256 * 1024

// Attachment is a file or image attached to a user message.
// Text attachments carry their content; binary ones only a name and MIME type.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Content  string `json:"content,omitempty"`
}

func (a Attachment) IsText() bool {
	return strings.HasPrefix(a.MimeType, "text/") || a.MimeType == "application/json"
}

// ReadAttachment loads path as an attachment, sniffing its type from the first bytes.
func ReadAttachment(path string) (Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("reading attachment: %w", err)
	}

	a := Attachment{
		Name:     filepath.Base(path),
		MimeType: detectMimeType(path, data),
	}
	if a.IsText() {
		if len(data) > MaxInlineSize {
			data = data[:MaxInlineSize]
		}
		a.Content = string(data)
	}
	return a, nil
}

func detectMimeType(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "application/json"
	case ".md", ".markdown", ".go", ".py", ".ts", ".yaml", ".yml", ".toml", ".sh", ".csv":
		return "text/plain"
	}
	if len(data) == 0 || (utf8.Valid(data) && !strings.ContainsRune(string(data), 0)) {
		return "text/plain"
	}
	mt, _, _ := strings.Cut(http.DetectContentType(data), ";")
	return mt
}

// InlineAttachments returns the message text with attachments appended under
// delimiter blocks, so backends without attachment support still see them.
func InlineAttachments(m *Message) string {
	if len(m.Attachments) == 0 {
		return m.Content
	}

	var sb strings.Builder
	sb.WriteString(m.Content)
	for _, a := range m.Attachments {
		sb.WriteString("\n\n--- Attached file: ")
		sb.WriteString(a.Name)
		sb.WriteString(" ---\n")
		if a.IsText() {
			sb.WriteString(a.Content)
		} else {
			fmt.Fprintf(&sb, "[%s content not included]", a.MimeType)
		}
		sb.WriteString("\n--- End of file: ")
		sb.WriteString(a.Name)
		sb.WriteString(" ---")
	}
	return sb.String()
}
