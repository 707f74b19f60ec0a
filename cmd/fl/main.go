// Command fl is the fedline debugging and maintenance CLI.
//
// Usage:
//
//	fl                      Show help
//	fl timeline             Load every account once and print the timeline
//	fl anchor               Show persisted reading positions
//	fl anchor -clear        Forget this session's reading position
//	fl events               JSONL event log viewer
package main

import (
	"fmt"
	"os"
)

const usage = `fl - fedline debug & maintenance CLI

Usage:
  fl <command> [flags]

Commands:
  timeline    Load every configured account and print the merged timeline
  anchor      Show or clear persisted reading positions
  events      JSONL event log viewer

Environment:
  FEDLINE_CONFIG       Config file (default: ~/.fedline/config.json)
  FEDLINE_TOKEN_<H>    Access token for the account with handle <H>
  FEDLINE_LOG_LEVEL    debug, info, warn or error

Run 'fl <command> -h' for command-specific help.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(0)
	}

	cmd := os.Args[1]
	// Strip the program name + subcommand so flag sets see only their flags
	os.Args = os.Args[1:]

	switch cmd {
	case "timeline":
		runTimeline()
	case "anchor":
		runAnchor()
	case "events":
		runEvents()
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "fl: unknown command %q\n\n", cmd)
		fmt.Print(usage)
		os.Exit(1)
	}
}
