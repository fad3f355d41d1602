package main

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/RobertWHurst/objenc/internal/cliflags"
	"github.com/RobertWHurst/objenc/logsink"
)

func runLogs(e *env, args []string) error {
	var (
		storePath = e.cfg.Store.Path
		level     string
		limit     int
		asc       bool
		count     bool
		clearLogs bool
	)

	fs := pflag.NewFlagSet("logs", pflag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.StringVar(&storePath, "store", storePath, "store file holding the logs")
	fs.StringVarP(&level, "level", "l", "", "only show records of this level")
	fs.IntVarP(&limit, "limit", "n", 20, "maximum number of records to show; 0 shows all")
	fs.BoolVar(&asc, "asc", false, "oldest first")
	fs.BoolVar(&count, "count", false, "print how many records were ever stored")
	fs.BoolVar(&clearLogs, "clear", false, "delete the stored records")
	cliflags.AnnotateExclusive(fs, "count", "clear")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if err := cliflags.MutuallyExclusive(fs, "count", "clear"); err != nil {
		return err
	}
	if storePath == "" {
		return errors.New("logs needs --store or store.path in the config")
	}

	s, err := e.openStore(storePath)
	if err != nil {
		return err
	}
	sink := logsink.New(s, logsink.DefaultCollection)

	switch {
	case count:
		n, err := sink.Count()
		if err != nil {
			return err
		}
		fmt.Fprintln(e.stdout, n)
		return nil
	case clearLogs:
		n, err := sink.Clear()
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "cleared %d records\n", n)
		return nil
	}

	records, err := sink.Logs(level, limit, !asc)
	if err != nil {
		return err
	}
	for _, record := range records {
		fmt.Fprintf(e.stdout, "%s\n", record)
	}
	return nil
}
