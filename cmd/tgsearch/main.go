// tgsearch queries an instance's index db directly, without a running
// daemon. Useful for scripting and for inspecting an index offline.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matheus3301/tgsd/internal/instance"
	"github.com/matheus3301/tgsd/internal/query"
	"github.com/matheus3301/tgsd/internal/store"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	chatFlag := flag.Int64("chat", 0, "restrict to one chat id (0 = all)")
	filterFlag := flag.String("filter", "all", "result filter: all, text, file")
	limitFlag := flag.Int("limit", 10, "results per page")
	cursorFlag := flag.String("cursor", "", "page token from a previous run")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	name := instance.Resolve(*instanceFlag)
	if err := instance.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	terms := strings.Join(flag.Args(), " ")
	if strings.TrimSpace(terms) == "" {
		fmt.Fprintln(os.Stderr, "usage: tgsearch [flags] <terms>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	var filter string
	switch *filterFlag {
	case "all":
		filter = store.FilterAll
	case "text":
		filter = store.FilterTextOnly
	case "file":
		filter = store.FilterFileOnly
	default:
		fmt.Fprintf(os.Stderr, "error: unknown filter %q\n", *filterFlag)
		os.Exit(1)
	}

	db, err := store.Open(instance.IndexDBPath(name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open index: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: migrate index: %v\n", err)
		os.Exit(1)
	}

	engine := query.New(db, nil, *limitFlag, nil)
	page, err := engine.Search(query.Query{
		Terms:  terms,
		ChatID: *chatFlag,
		Filter: filter,
		Cursor: *cursorFlag,
		Limit:  *limitFlag,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *jsonFlag {
		printJSON(page)
		return
	}
	printText(page)
}

func printJSON(page *query.Page) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(page)
}

func printText(page *query.Page) {
	if len(page.Results) == 0 {
		fmt.Println("no results")
		return
	}
	for _, res := range page.Results {
		rec := res.Record
		when := time.UnixMilli(rec.Timestamp).Format("2006-01-02 15:04")
		fmt.Printf("%s  chat %d  #%d", when, rec.ChatID, rec.MessageID)
		if rec.HasFile && rec.Filename != "" {
			fmt.Printf("  (%s)", rec.Filename)
		}
		fmt.Println()
		text := res.Snippet
		if text == "" {
			text = rec.Text
		}
		fmt.Printf("  %s\n", strings.ReplaceAll(text, "\n", " "))
	}
	if page.Next != "" {
		fmt.Printf("next page: -cursor %s\n", page.Next)
	}
}
