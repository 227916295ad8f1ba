package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"grimm.is/linkd/internal/journal"
	"grimm.is/linkd/internal/platform"
)

// HistoryOptions selects journal entries for RunHistory.
type HistoryOptions struct {
	Link    string
	Kind    string
	Session string
	Since   time.Duration
	Limit   int
}

func parseEventKind(s string) (platform.EventKind, error) {
	for _, k := range []platform.EventKind{platform.EventAdded, platform.EventChanged, platform.EventRemoved} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q (want added, changed or removed)", s)
}

// RunHistory prints journaled events from the store at path, newest first.
func RunHistory(out io.Writer, path string, opts HistoryOptions) error {
	if path == "" {
		return fmt.Errorf("no journal configured (set journal.path or pass -journal)")
	}
	q := journal.Query{Name: opts.Link, Session: opts.Session, Limit: opts.Limit}
	if opts.Kind != "" {
		k, err := parseEventKind(opts.Kind)
		if err != nil {
			return err
		}
		q.Kind = k
	}
	if opts.Since > 0 {
		q.Since = time.Now().Add(-opts.Since)
	}

	store, err := journal.Open(journal.Options{Path: path})
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.History(q)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	Printer.Fprintf(w, "TIME\tSESSION\tSEQ\tKIND\tLINK\tTYPE\tSTATE\n")
	for _, e := range entries {
		state := "down"
		if e.Up {
			state = "up"
		}
		if e.Connected {
			state += ",connected"
		}
		session := e.Session
		if len(session) > 8 {
			session = session[:8]
		}
		Printer.Fprintf(w, "%s\t%s\t%v\t%s\t%s\t%s\t%s\n",
			e.Time.Format(time.RFC3339), session, e.Seq, e.Kind, e.Name, e.Type, state)
	}
	return w.Flush()
}
