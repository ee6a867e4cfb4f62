package groundex

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"
)

// maxFetchBytes bounds how much of a URL body is read.
const maxFetchBytes = 10 << 20

var (
	urlPattern    = regexp.MustCompile(`^https?://`)
	spaceRuns     = regexp.MustCompile(`[ \t]+`)
	blankLineRuns = regexp.MustCompile(`\n{3,}`)
)

// resolveInput turns the caller's text_or_url argument into document
// text: a URL is fetched and stripped to plain text, an existing file
// path is read, anything else is literal text.
func resolveInput(ctx context.Context, textOrURL string, client *http.Client) (string, error) {
	if urlPattern.MatchString(textOrURL) {
		return fetchURL(ctx, textOrURL, client)
	}
	if info, err := os.Stat(textOrURL); err == nil && info.Mode().IsRegular() {
		data, err := os.ReadFile(textOrURL)
		if err != nil {
			return "", fmt.Errorf("%w: read file %s: %v", ErrInput, textOrURL, err)
		}
		return textFromBytes(data), nil
	}
	return textOrURL, nil
}

func fetchURL(ctx context.Context, rawURL string, client *http.Client) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInput, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch %s: %v", ErrInput, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: fetch %s: status %d", ErrInput, rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrInput, rawURL, err)
	}
	return textFromBytes(data), nil
}

// textFromBytes sniffs the content type and strips markup from HTML
// bodies; anything text-like passes through.
func textFromBytes(data []byte) string {
	mtype := mimetype.Detect(data)
	if mtype.Is("text/html") || mtype.Is("application/xhtml+xml") {
		return stripHTML(string(data))
	}
	return string(data)
}

// stripHTML removes all markup and normalizes the remaining
// whitespace so sentence boundaries survive for the chunker.
func stripHTML(body string) string {
	stripped := bluemonday.StrictPolicy().Sanitize(body)
	stripped = html.UnescapeString(stripped)
	stripped = spaceRuns.ReplaceAllString(stripped, " ")

	lines := strings.Split(stripped, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	stripped = strings.Join(lines, "\n")
	stripped = blankLineRuns.ReplaceAllString(stripped, "\n\n")
	return strings.TrimSpace(stripped)
}
