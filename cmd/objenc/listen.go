package main

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/spf13/pflag"

	"github.com/RobertWHurst/objenc"
	"github.com/RobertWHurst/objenc/encoders/jsonencoder"
	"github.com/RobertWHurst/objenc/transports/natstransport"
)

func runListen(e *env, args []string) error {
	var (
		natsURL = e.cfg.NATS.URL
		service = e.cfg.NATS.Service
		subject = e.cfg.NATS.Subject
		format  = e.cfg.Format
		queue   bool
		count   int
		ack     bool
	)

	fs := pflag.NewFlagSet("listen", pflag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.StringVar(&natsURL, "nats-url", natsURL, "NATS server to connect to")
	fs.StringVar(&service, "service", service, "service name to receive as")
	fs.StringVar(&subject, "subject", subject, "subject to bind")
	fs.StringVarP(&format, "format", "f", format, "format documents arrive in")
	fs.BoolVar(&queue, "queue", false, "share documents with other listeners of the same service")
	fs.IntVarP(&count, "count", "n", 0, "stop after this many documents; 0 listens until interrupted")
	fs.BoolVar(&ack, "ack", false, "reply to requests with {\"received\": true}")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if natsURL == "" {
		return errors.New("listen needs --nats-url or nats.url in the config")
	}

	encoder, err := e.encoder(format)
	if err != nil {
		return err
	}

	conn, err := nats.Connect(natsURL, nats.Name(service))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", natsURL, err)
	}
	defer conn.Close()

	transport := natstransport.New(conn, natstransport.WithLogger(e.logger))
	client := objenc.NewClient(service, transport, encoder, objenc.WithLogger(e.logger))
	defer client.Close()

	var binding *objenc.Binding
	if queue {
		binding = client.BindQueue(subject)
	} else {
		binding = client.Bind(subject)
	}
	defer binding.Unbind()

	e.logger.Info().Str("service", service).Str("subject", subject).Bool("queue", queue).Msg("listening")
	return printDocuments(e, binding, count, ack)
}

// printDocuments writes each document from binding to stdout as one line of
// JSON until count documents were printed or the binding closes.
func printDocuments(e *env, binding *objenc.Binding, count int, ack bool) error {
	printer := jsonencoder.NewWithObjectEncoder(e.objects)
	for n := 0; count == 0 || n < count; n++ {
		msg := binding.Next()
		if errors.Is(msg.Err(), objenc.ErrBindingClosed) {
			return nil
		}
		doc, err := msg.Document()
		if err != nil {
			e.logger.Warn().Err(err).Str("source", msg.Source()).Msg("decoding document")
			continue
		}
		line, err := printer.Encode(doc)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "%s\n", line)

		if ack && msg.ReplySubject() != "" {
			if err := msg.Reply(map[string]bool{"received": true}); err != nil {
				e.logger.Warn().Err(err).Str("source", msg.Source()).Msg("acknowledging document")
			}
		}
	}
	return nil
}
