package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	pdfx "github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

const defaultUserAgent = "nlagent/0.1"

// Web fetches URLs and extracts readable text from the saved artifacts.
type Web struct {
	Paths
	UserAgent string
	Timeout   time.Duration
}

// Fetch retrieves url, following redirects, and persists the raw body to a
// timestamped artifact in the outputs dir. Non-2xx responses fail the
// result. PDF bodies are saved with a .pdf extension so extraction picks
// the right reader.
func (w *Web) Fetch(ctx context.Context, url string, dryRun bool) Result {
	if dryRun {
		return Result{OK: true, ExitCode: ExitNone, Extra: map[string]string{"planned_url": url}}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{OK: false, Stderr: err.Error(), ExitCode: ExitNone}
	}
	ua := w.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return Result{OK: false, Stderr: err.Error(), ExitCode: ExitNone}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{OK: false, Stderr: fmt.Sprintf("GET %s: status %d", url, resp.StatusCode), ExitCode: ExitNone}
	}

	max := envInt("WEB_MAX_BYTES", 20<<20)
	lr := io.LimitedReader{R: resp.Body, N: int64(max)}
	body, err := io.ReadAll(&lr)
	if err != nil {
		return Result{OK: false, Stderr: err.Error(), ExitCode: ExitNone}
	}

	ext := ".html"
	if strings.Contains(resp.Header.Get("Content-Type"), "pdf") || strings.HasPrefix(string(body), "%PDF-") {
		ext = ".pdf"
	}
	outPath := filepath.Join(w.Outputs, "download_"+timestamp()+ext)
	if err := os.WriteFile(outPath, body, 0o644); err != nil {
		return Result{OK: false, Stderr: err.Error(), ExitCode: ExitNone}
	}
	return Result{OK: true, Stdout: outPath, ExitCode: ExitNone, Artifact: outPath}
}

// ExtractText converts a fetched artifact into plain text, one trimmed line
// per visible text line. HTML goes through the DOM stripper, PDFs through
// the PDF reader.
func (w *Web) ExtractText(artifactPath string) (string, error) {
	if strings.EqualFold(filepath.Ext(artifactPath), ".pdf") {
		return extractPDFText(artifactPath)
	}
	raw, err := os.ReadFile(artifactPath)
	if err != nil {
		return "", err
	}
	return ExtractHTMLText(string(raw))
}

// ExtractHTMLText strips script/style/noscript content and collapses
// whitespace into one trimmed line per visible text line.
func ExtractHTMLText(htmlStr string) (string, error) {
	node, err := html.Parse(strings.NewReader(htmlStr))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	extractText(node, &b, false)
	return compactWhitespace(b.String()), nil
}

func extractText(n *html.Node, b *strings.Builder, inHidden bool) {
	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript":
			inHidden = true
		case "br", "p", "div", "li", "tr":
			b.WriteString("\n")
		}
	}
	if !inHidden && n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, b, inHidden)
	}
}

func compactWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		ln = strings.Join(strings.Fields(ln), " ")
		if ln != "" {
			out = append(out, ln)
		}
	}
	return strings.Join(out, "\n")
}

func extractPDFText(path string) (string, error) {
	f, r, err := pdfx.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	maxPages := envInt("PDF_MAX_PAGES", 50)
	var b strings.Builder
	total := r.NumPage()
	for page := 1; page <= total && page <= maxPages; page++ {
		txt, err := r.Page(page).GetPlainText(nil)
		if err != nil {
			continue
		}
		if t := strings.TrimSpace(txt); t != "" {
			b.WriteString(t)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(b.String()), nil
}
