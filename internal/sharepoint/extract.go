package sharepoint

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// binaryExts are formats with no text extractor; they are skipped.
var binaryExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".zip": true, ".docx": true, ".xlsx": true, ".pptx": true, ".doc": true,
	".xls": true, ".ppt": true, ".mp4": true, ".exe": true,
}

var multiNewline = regexp.MustCompile(`\n{3,}`)

// Supported reports whether a file's text can be extracted.
func Supported(name string) bool {
	return !binaryExts[strings.ToLower(filepath.Ext(name))]
}

// ExtractText returns the plain text of a downloaded file, chosen by
// extension: PDF and HTML are parsed, anything else is read as UTF-8.
func ExtractText(name string, body []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return pdfText(body)
	case ".html", ".htm":
		return htmlText(body)
	default:
		return strings.ToValidUTF8(string(body), ""), nil
	}
}

func pdfText(body []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return strings.TrimSpace(string(text)), nil
}

func htmlText(body []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	var sb strings.Builder
	walkText(doc, &sb)
	return strings.TrimSpace(multiNewline.ReplaceAllString(sb.String(), "\n\n")), nil
}

func walkText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
			sb.WriteString(t)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "svg", "head":
			return
		case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "table", "ul", "ol":
			sb.WriteString("\n\n")
		case "br", "li", "tr":
			sb.WriteString("\n")
		case "td", "th":
			sb.WriteString("| ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, sb)
	}
}
