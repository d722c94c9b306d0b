// Package command parses admin-chat commands and renders text replies. It
// is the operator surface of the daemon: search, chat tracking, backfill
// control, index maintenance and usage reporting.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/matheus3301/tgsd/internal/backfill"
	"github.com/matheus3301/tgsd/internal/counter"
	"github.com/matheus3301/tgsd/internal/query"
	"github.com/matheus3301/tgsd/internal/registry"
	"github.com/matheus3301/tgsd/internal/store"
	"go.uber.org/zap"
)

const previewLen = 50

const helpText = `commands:
  search [-c chat] [-t|-f] [-k cursor] <terms>  search the index (-t text only, -f files only)
  s, ss                                         aliases of search
  chats                                         list tracked chats
  track_chat <chat> [private]                   start monitoring a chat
  untrack_chat <chat>                           stop monitoring a chat
  find_chat_id <name>                           look up chat ids by name substring
  refresh_chat_names                            re-resolve display names
  backfill <chat> [minID maxID | force]         index a chat's history
  cancel <chat>                                 pause a running backfill
  clear <chat>|all                              drop indexed records
  stat                                          index status report
  random                                        one random indexed message
  usage                                         usage counters
  help                                          this text`

// Router executes one command line at a time.
type Router struct {
	reg      *registry.Registry
	engine   *query.Engine
	coord    *backfill.Coordinator
	db       *store.DB
	counters counter.Store
	logger   *zap.Logger
}

// New creates a router. counters may be nil.
func New(reg *registry.Registry, engine *query.Engine, coord *backfill.Coordinator, db *store.DB, counters counter.Store, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{reg: reg, engine: engine, coord: coord, db: db, counters: counters, logger: logger}
}

// Execute runs one command line and returns the reply text. A leading
// slash and a @botname suffix on the command word are accepted and
// ignored so the same line works from a bot chat or a terminal.
func (r *Router) Execute(ctx context.Context, line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "send a command, or help for the list"
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	cmd = strings.ToLower(cmd)
	args := fields[1:]

	reply, err := r.dispatch(ctx, cmd, args)
	if err != nil {
		r.logger.Warn("command failed", zap.String("command", cmd), zap.Error(err))
		return "error: " + err.Error()
	}
	return reply
}

func (r *Router) dispatch(ctx context.Context, cmd string, args []string) (string, error) {
	switch cmd {
	case "help":
		return helpText, nil
	case "search", "s", "ss":
		return r.search(args)
	case "chats":
		return r.listChats(), nil
	case "track_chat":
		return r.trackChat(ctx, args)
	case "untrack_chat":
		return r.untrackChat(args)
	case "find_chat_id":
		return r.findChatID(args)
	case "refresh_chat_names":
		n, err := r.reg.RefreshNames(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("refreshed, %d name(s) updated", n), nil
	case "backfill":
		return r.backfill(args)
	case "cancel":
		return r.cancelBackfill(args)
	case "clear":
		return r.clear(args)
	case "stat":
		return r.stat()
	case "random":
		return r.random()
	case "usage":
		return r.usage()
	default:
		return fmt.Sprintf("unknown command %q, try help", cmd), nil
	}
}

// search parses the flag prefix of the argument list; everything after the
// flags is the query text.
func (r *Router) search(args []string) (string, error) {
	q := query.Query{Filter: store.FilterAll}
	i := 0
loop:
	for ; i < len(args); i++ {
		switch args[i] {
		case "-t":
			q.Filter = store.FilterTextOnly
		case "-f":
			q.Filter = store.FilterFileOnly
		case "-c":
			if i+1 >= len(args) {
				return "", errors.New("-c needs a chat name or id")
			}
			i++
			id, err := r.reg.Resolve(args[i])
			if err != nil {
				return "", err
			}
			q.ChatID = id
		case "-k":
			if i+1 >= len(args) {
				return "", errors.New("-k needs a page token")
			}
			i++
			q.Cursor = args[i]
		default:
			break loop
		}
	}
	q.Terms = strings.Join(args[i:], " ")
	if q.Terms == "" {
		return "", errors.New("missing search terms, usage: search <terms>")
	}

	page, err := r.engine.Search(q)
	if err != nil {
		return "", err
	}
	if len(page.Results) == 0 {
		return "no results", nil
	}

	var b strings.Builder
	for _, res := range page.Results {
		rec := res.Record
		fmt.Fprintf(&b, "[%s] #%d", r.reg.Name(rec.ChatID), rec.MessageID)
		if rec.HasFile && rec.Filename != "" {
			fmt.Fprintf(&b, " (%s)", rec.Filename)
		}
		b.WriteString("\n  ")
		if res.Snippet != "" {
			b.WriteString(res.Snippet)
		} else {
			b.WriteString(brief(rec.Text))
		}
		b.WriteString("\n")
	}
	if page.Next != "" {
		fmt.Fprintf(&b, "more: add -k %s", page.Next)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Router) listChats() string {
	chats := r.reg.List()
	if len(chats) == 0 {
		return "no tracked chats"
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].ChatID < chats[j].ChatID })
	var b strings.Builder
	for _, c := range chats {
		fmt.Fprintf(&b, "%d  %s", c.ChatID, c.Name)
		if !c.Monitored {
			b.WriteString("  (not monitored)")
		}
		if c.Whitelisted {
			b.WriteString("  (private)")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) trackChat(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("usage: track_chat <chat> [private]")
	}
	id, err := r.reg.Resolve(args[0])
	if err != nil {
		return "", err
	}
	private := len(args) > 1 && args[1] == "private"
	if err := r.reg.Register(ctx, id, private); err != nil {
		return "", err
	}
	return fmt.Sprintf("tracking %s (%d)", r.reg.Name(id), id), nil
}

func (r *Router) untrackChat(args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("usage: untrack_chat <chat>")
	}
	id, err := r.reg.Resolve(args[0])
	if err != nil {
		return "", err
	}
	if err := r.reg.Deregister(id); err != nil {
		return "", err
	}
	return fmt.Sprintf("stopped monitoring %d, indexed records kept", id), nil
}

func (r *Router) findChatID(args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("usage: find_chat_id <name substring>")
	}
	matches := r.reg.FindChats(strings.Join(args, " "))
	if len(matches) == 0 {
		return "no matching chats", nil
	}
	var b strings.Builder
	for _, c := range matches {
		fmt.Fprintf(&b, "%d  %s\n", c.ChatID, c.Name)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// backfill starts a history walk. Without explicit id bounds a non-empty
// index for the chat is refused so an accidental re-run does not walk the
// whole history again; force overrides.
func (r *Router) backfill(args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("usage: backfill <chat> [minID maxID | force]")
	}
	id, err := r.reg.Resolve(args[0])
	if err != nil {
		return "", err
	}

	var minID, maxID int64
	force := false
	switch {
	case len(args) == 2 && args[1] == "force":
		force = true
	case len(args) >= 3:
		minID, err = strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid minID %q", args[1])
		}
		maxID, err = strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid maxID %q", args[2])
		}
	}

	if minID == 0 && maxID == 0 && !force {
		count, err := r.db.CountRecords(id)
		if err != nil {
			return "", err
		}
		if count > 0 {
			return fmt.Sprintf("chat %d already has %d indexed record(s); pass id bounds or force to walk again", id, count), nil
		}
	}

	jobID, resumed, err := r.coord.StartJob(id, minID, maxID)
	if err != nil {
		return "", err
	}
	if resumed {
		reply := fmt.Sprintf("backfill of %s resumed from its saved cursor (job %s)", r.reg.Name(id), jobID)
		if minID != 0 || maxID != 0 {
			reply += "; id bounds ignored, cancel and clear the chat to start over"
		}
		return reply, nil
	}
	return fmt.Sprintf("backfill of %s started (job %s)", r.reg.Name(id), jobID), nil
}

func (r *Router) cancelBackfill(args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("usage: cancel <chat>")
	}
	id, err := r.reg.Resolve(args[0])
	if err != nil {
		return "", err
	}
	r.coord.Cancel(id)
	return fmt.Sprintf("backfill of %d pausing at the next batch", id), nil
}

// clear without an argument does nothing; dropping data needs an explicit
// target.
func (r *Router) clear(args []string) (string, error) {
	if len(args) == 0 {
		return "clear needs a target: clear <chat> or clear all", nil
	}
	if args[0] == "all" {
		if err := r.db.ClearAll(); err != nil {
			return "", err
		}
		return "all indexed data cleared", nil
	}
	id, err := r.reg.Resolve(args[0])
	if err != nil {
		return "", err
	}
	if err := r.db.ClearChat(id); err != nil {
		return "", err
	}
	return fmt.Sprintf("cleared index of %d", id), nil
}

func (r *Router) stat() (string, error) {
	counts, err := r.db.ChatCounts()
	if err != nil {
		return "", err
	}
	if len(counts) == 0 {
		return "index is empty", nil
	}
	var b strings.Builder
	var total int64
	for _, c := range counts {
		total += c.Count
		name := c.Name
		if name == "" {
			name = strconv.FormatInt(c.ChatID, 10)
		}
		fmt.Fprintf(&b, "%s (%d): %d record(s)", name, c.ChatID, c.Count)
		newest, err := r.db.NewestRecord(c.ChatID)
		if err != nil {
			return "", err
		}
		if newest != nil && newest.Text != "" {
			fmt.Fprintf(&b, ", newest: %s", brief(newest.Text))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "total: %d record(s) in %d chat(s)", total, len(counts))
	return b.String(), nil
}

func (r *Router) random() (string, error) {
	rec, err := r.db.RandomRecord(true)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "index is empty", nil
	}
	text := rec.Text
	if text == "" && rec.Filename != "" {
		text = rec.Filename
	}
	return fmt.Sprintf("[%s] #%d\n  %s", r.reg.Name(rec.ChatID), rec.MessageID, brief(text)), nil
}

func (r *Router) usage() (string, error) {
	if r.counters == nil {
		return "", errors.New("usage counters are not configured")
	}
	all, err := r.counters.All()
	if err != nil {
		return "", err
	}
	if len(all) == 0 {
		return "no usage recorded", nil
	}
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %d\n", name, all[name])
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func brief(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= previewLen {
		return s
	}
	return string(runes[:previewLen]) + "..."
}
