// objenc encodes records built from command line flags into JSON,
// MessagePack, CBOR or protobuf, and can publish them over NATS, store
// them, and inspect the stored logs.
//
// Usage:
//
//	objenc [--config FILE] <command> [flags]
//
// Commands:
//
//	encode   build a record and encode it
//	listen   print documents received over NATS
//	logs     query or clear stored log records
//	rules    list the coercion rules and suppressed types
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/RobertWHurst/objenc"
	"github.com/RobertWHurst/objenc/encoders/cborencoder"
	"github.com/RobertWHurst/objenc/encoders/jsonencoder"
	"github.com/RobertWHurst/objenc/encoders/msgpackencoder"
	"github.com/RobertWHurst/objenc/encoders/protobufencoder"
	"github.com/RobertWHurst/objenc/internal/config"
	"github.com/RobertWHurst/objenc/logsink"
	"github.com/RobertWHurst/objenc/store"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// env is what every command receives.
type env struct {
	cfg     config.Config
	objects *objenc.ObjectEncoder
	logger  zerolog.Logger
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	closers []io.Closer
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i].Close()
	}
}

type command func(e *env, args []string) error

var commands = map[string]command{
	"encode": runEncode,
	"listen": runListen,
	"logs":   runLogs,
	"rules":  runRules,
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var configPath string
	flagSet := pflag.NewFlagSet("objenc", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&configPath, "config", "", "config file (YAML or JSONC); defaults to $"+config.EnvVar)
	flagSet.SetInterspersed(false)
	flagSet.Usage = func() { printHelp(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printHelp(stderr, flagSet)
		return errors.New("missing command")
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", rest[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	opts, err := cfg.EncoderOptions()
	if err != nil {
		return err
	}

	e := &env{
		cfg:     cfg,
		objects: objenc.New(opts...),
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}
	defer e.close()
	logsink.Install(e.objects)
	e.logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr, NoColor: true}).
		Level(cfg.LogLevel()).With().Timestamp().Logger()

	return cmd(e, rest[1:])
}

// openStore opens the configured store and, once open, tees log records
// into its log collection.
func (e *env) openStore(path string) (*store.Store, error) {
	s, err := store.Open(path,
		store.WithCompression(e.cfg.Store.Compress),
		store.WithEncoder(jsonencoder.NewWithObjectEncoder(e.objects)),
	)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, s)

	sink := logsink.New(s, logsink.DefaultCollection, logsink.WithFallback(e.stderr))
	console := zerolog.ConsoleWriter{Out: e.stderr, NoColor: true}
	e.logger = zerolog.New(zerolog.MultiLevelWriter(console, sink)).
		Level(e.cfg.LogLevel()).With().Timestamp().Str("log_source", "objenc").Logger()
	return s, nil
}

func (e *env) encoder(format string) (objenc.Encoder, error) {
	switch format {
	case "json":
		return jsonencoder.NewWithObjectEncoder(e.objects), nil
	case "msgpack":
		return msgpackencoder.NewWithObjectEncoder(e.objects), nil
	case "cbor":
		return cborencoder.NewWithObjectEncoder(e.objects), nil
	case "protobuf":
		return protobufencoder.NewWithObjectEncoder(e.objects), nil
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprint(w, `objenc encodes arbitrary records and moves them around.

Usage:
  objenc [--config FILE] <command> [flags]

Commands:
  encode   build a record from flags and encode it
  listen   print documents received over NATS
  logs     query or clear stored log records
  rules    list the coercion rules and suppressed types

Flags:
`)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
