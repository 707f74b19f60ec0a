package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"
)

func runAnchor() {
	fs := flag.NewFlagSet("anchor", flag.ExitOnError)
	reset := fs.Bool("clear", false, "Forget the reading position of the configured account set")
	fs.Parse(os.Args[1:])

	cfg := loadConfig()
	st := openDB(cfg)
	defer st.Close()

	session := cfg.SessionKey()
	if *reset {
		if err := st.ClearAnchor(session); err != nil {
			log.Fatalf("clear anchor: %v", err)
		}
		fmt.Printf("cleared anchor for session %s\n", session)
		return
	}

	anchors, err := st.Anchors()
	if err != nil {
		log.Fatalf("list anchors: %v", err)
	}
	if len(anchors) == 0 {
		fmt.Println("no persisted anchors")
		return
	}

	fmt.Printf("%-18s %-20s %s\n", "SESSION", "UPDATED", "ENTRY")
	for _, a := range anchors {
		mark := ""
		if a.Session == session {
			mark = "  (current)"
		}
		fmt.Printf("%-18s %-20s %s%s\n", a.Session, a.UpdatedAt.Local().Format(time.DateTime), truncate(a.EntryID, 60), mark)
	}
}
