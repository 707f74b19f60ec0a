package e2e

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/abelbrown/fedline/internal/config"
)

// fixtureFeed renders an RSS document whose items are minutes apart,
// newest first.
func fixtureFeed(titles ...string) string {
	now := time.Now().UTC()
	doc := `<?xml version="1.0"?><rss version="2.0"><channel><title>fixture</title>`
	for i, title := range titles {
		at := now.Add(-time.Duration(i+1) * time.Minute).Format(time.RFC1123Z)
		doc += `<item><guid>fixture-` + title + `</guid><title>` + title + `</title><pubDate>` + at + `</pubDate></item>`
	}
	return doc + `</channel></rss>`
}

// serveFeed starts a server answering every request with body.
func serveFeed(body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(body))
	}))
}

// writeFixtureConfig writes a config with one feed account into homeDir and
// returns its path. Everything the binary persists lands under homeDir.
func writeFixtureConfig(homeDir, feedURL string) (string, error) {
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(homeDir, ".fedline")
	cfg.Engine.RefreshIntervalSecs = 0
	cfg.UI.DensityMode = "compact"
	cfg.Accounts = []config.AccountConfig{{Platform: "feed", Handle: "fixture", FeedURL: feedURL}}

	path := filepath.Join(homeDir, "config.yaml")
	if err := cfg.Save(path); err != nil {
		return "", err
	}
	return path, os.MkdirAll(cfg.DataDir, 0755)
}

// readLog returns today's log file for failure output.
func readLog(homeDir string) string {
	matches, _ := filepath.Glob(filepath.Join(homeDir, ".fedline", "logs", "*.log"))
	if len(matches) == 0 {
		return ""
	}
	b, _ := os.ReadFile(matches[len(matches)-1])
	return string(b)
}
