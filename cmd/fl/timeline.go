package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/abelbrown/fedline/internal/app"
	"github.com/abelbrown/fedline/internal/timeline"
)

func runTimeline() {
	fs := flag.NewFlagSet("timeline", flag.ExitOnError)
	limit := fs.Int("n", 40, "Number of entries to print (0 = all)")
	width := fs.Int("w", 100, "Maximum line width")
	rawJSON := fs.Bool("json", false, "Output entries as JSON lines")
	fs.Parse(os.Args[1:])

	cfg := loadConfig()
	if len(cfg.Accounts) == 0 {
		log.Fatalf("no accounts configured")
	}

	rt, err := app.Open(cfg)
	if err != nil {
		log.Fatalf("failed to open runtime: %v", err)
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	out := rt.Engine.InitialLoad(ctx)
	snap := rt.Engine.Latest()

	fmt.Fprintf(os.Stderr, "loaded %d entries from %d accounts in %s (%s)\n",
		len(snap.Visible), len(cfg.Accounts), time.Since(start).Round(time.Millisecond), out.Status)
	if snap.LastError != "" {
		fmt.Fprintf(os.Stderr, "errors: %s\n", snap.LastError)
	}
	for _, acct := range snap.Degraded {
		fmt.Fprintf(os.Stderr, "sign in again: %s\n", acct)
	}
	if snap.AnchorID != "" && out.Restore.Index > 0 {
		fmt.Fprintf(os.Stderr, "restored position: %s (%d unread above)\n", snap.AnchorID, snap.UnreadAbove)
	}

	entries := snap.Visible
	if *limit > 0 && len(entries) > *limit {
		entries = entries[:*limit]
	}

	if *rawJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, e := range entries {
			if err := enc.Encode(toRecord(e)); err != nil {
				log.Fatalf("encode: %v", err)
			}
		}
		return
	}

	now := time.Now()
	for _, e := range entries {
		mark := " "
		if e.ID == snap.AnchorID {
			mark = ">"
		}
		fmt.Println(truncate(fmt.Sprintf("%s %-5s %-8s %s", mark, age(now, e.CreatedAt), e.Post.Platform, describe(e)), *width))
	}
}

// entryRecord is the JSON line form of an entry.
type entryRecord struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Platform  string    `json:"platform"`
	Account   string    `json:"account,omitempty"`
	Author    string    `json:"author"`
	BoostedBy string    `json:"boosted_by,omitempty"`
	ParentID  string    `json:"parent_id,omitempty"`
	Content   string    `json:"content"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toRecord(e timeline.Entry) entryRecord {
	return entryRecord{
		ID:        e.ID,
		Kind:      e.Kind.String(),
		Platform:  string(e.Post.Platform),
		Account:   e.Post.Account,
		Author:    e.Post.AuthorHandle,
		BoostedBy: e.BoostedBy,
		ParentID:  e.ParentID,
		Content:   e.Post.Content,
		URL:       e.Post.URL,
		CreatedAt: e.CreatedAt,
	}
}

func describe(e timeline.Entry) string {
	text := strings.Join(strings.Fields(e.Post.Content), " ")
	switch e.Kind {
	case timeline.KindBoost:
		return fmt.Sprintf("%s boosted @%s: %s", e.BoostedBy, e.Post.AuthorHandle, text)
	case timeline.KindReply:
		return fmt.Sprintf("@%s replied: %s", e.Post.AuthorHandle, text)
	}
	return fmt.Sprintf("@%s: %s", e.Post.AuthorHandle, text)
}

func age(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
