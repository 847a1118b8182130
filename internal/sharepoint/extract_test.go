package sharepoint

import "testing"

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"notes.txt", "plain text", "plain text"},
		{"NOTES.MD", "# heading", "# heading"},
		{"bad.txt", "ok\xffok", "okok"},
		{"page.htm", "<p>one</p><p>two</p>", "one \n\ntwo"},
		{"table.html", "<table><tr><td>a</td><td>b</td></tr></table>", "| a | b"},
	}
	for _, tt := range tests {
		got, err := ExtractText(tt.name, []byte(tt.body))
		if err != nil {
			t.Errorf("ExtractText(%q): %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ExtractText(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestExtractText_InvalidPDF(t *testing.T) {
	if _, err := ExtractText("report.pdf", []byte("not a pdf")); err == nil {
		t.Error("expected error for invalid pdf")
	}
}

func TestSupported(t *testing.T) {
	for name, want := range map[string]bool{
		"a.pdf": true, "a.txt": true, "a.html": true, "a.csv": true,
		"a.png": false, "a.DOCX": false,
	} {
		if got := Supported(name); got != want {
			t.Errorf("Supported(%q) = %v, want %v", name, got, want)
		}
	}
}
