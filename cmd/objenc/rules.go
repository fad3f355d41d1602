package main

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
)

func runRules(e *env, args []string) error {
	fs := pflag.NewFlagSet("rules", pflag.ContinueOnError)
	fs.SetOutput(e.stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	fmt.Fprintln(e.stdout, "Coercion rules, in order:")
	for i, name := range e.objects.Rules() {
		fmt.Fprintf(e.stdout, "  %2d. %s\n", i+1, name)
	}
	fmt.Fprintln(e.stdout, "Suppressed:")
	for _, name := range e.objects.SuppressedTypes() {
		fmt.Fprintf(e.stdout, "  %s\n", name)
	}
	return nil
}
