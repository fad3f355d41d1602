package main

import (
	stdjson "encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/spf13/pflag"

	"github.com/RobertWHurst/objenc"
	"github.com/RobertWHurst/objenc/internal/cliflags"
	"github.com/RobertWHurst/objenc/transports/natstransport"
)

// sourceServiceName is the name the command uses on the NATS bus.
const sourceServiceName = "objenc-cli"

// record is built from the encode flags. Only flags that were given
// become fields.
type record struct {
	amount     *float64
	timestamp  *time.Time
	id         string
	name       string
	attributes map[string]string
	document   any
}

func (r *record) Fields() []objenc.Field {
	var fields []objenc.Field
	if r.id != "" {
		fields = append(fields, objenc.Field{Name: "id", Value: r.id})
	}
	if r.name != "" {
		fields = append(fields, objenc.Field{Name: "name", Value: r.name})
	}
	if r.amount != nil {
		fields = append(fields, objenc.Field{Name: "amount", Value: *r.amount})
	}
	if r.timestamp != nil {
		fields = append(fields, objenc.Field{Name: "timestamp", Value: *r.timestamp})
	}
	if len(r.attributes) > 0 {
		fields = append(fields, objenc.Field{Name: "attributes", Value: r.attributes})
	}
	if r.document != nil {
		fields = append(fields, objenc.Field{Name: "document", Value: r.document})
	}
	return fields
}

func runEncode(e *env, args []string) error {
	var defaultLoc *time.Location
	if e.cfg.Encoder.TimeLocation != "" {
		loc, err := time.LoadLocation(e.cfg.Encoder.TimeLocation)
		if err != nil {
			return err
		}
		defaultLoc = loc
	}

	var (
		amount     cliflags.CurrencyFloat
		timestamp  = cliflags.NewTimestamp(defaultLoc)
		id, name   string
		attrs      []string
		input      string
		format     = e.cfg.Format
		natsURL    = e.cfg.NATS.URL
		service    = e.cfg.NATS.Service
		subject    = e.cfg.NATS.Subject
		storePath  = e.cfg.Store.Path
		collection = e.cfg.Store.Collection
	)

	fs := pflag.NewFlagSet("encode", pflag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Var(&amount, "amount", "amount in currency notation, e.g. $300,000")
	fs.Var(timestamp, "timestamp", "timestamp with a zone, e.g. \"2023-01-01 12:00:00+09:00\"; zoneless input uses the configured time_location")
	fs.StringVar(&id, "id", "", "record id")
	fs.StringVar(&name, "name", "", "record name")
	fs.StringArrayVar(&attrs, "attr", nil, "attribute as key=value, repeatable")
	fs.StringVar(&input, "input", "", "JSON document file to embed, - for stdin")
	fs.StringVarP(&format, "format", "f", format, "output format: json, msgpack, cbor or protobuf")
	fs.StringVar(&natsURL, "nats-url", natsURL, "publish the record to this NATS server")
	fs.StringVar(&service, "service", service, "service to publish to")
	fs.StringVar(&subject, "subject", subject, "subject to publish on")
	fs.StringVar(&storePath, "store", storePath, "store the record in this file")
	fs.StringVar(&collection, "collection", collection, "store collection")
	cliflags.AnnotateExclusive(fs, "id", "name")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if err := cliflags.MutuallyExclusive(fs, "id", "name"); err != nil {
		return err
	}

	rec, err := buildRecord(e, &amount, timestamp, fs.Changed("timestamp"), id, name, attrs, input)
	if err != nil {
		return err
	}

	encoder, err := e.encoder(format)
	if err != nil {
		return err
	}
	data, err := encoder.Encode(rec)
	if err != nil {
		return err
	}
	if _, err := e.stdout.Write(data); err != nil {
		return err
	}
	if format == "json" {
		fmt.Fprintln(e.stdout)
	}

	if storePath != "" {
		s, err := e.openStore(storePath)
		if err != nil {
			return err
		}
		docID, err := s.InsertValue(collection, rec)
		if err != nil {
			return err
		}
		e.logger.Info().Str("collection", collection).Str("id", docID.String()).Msg("record stored")
	}

	if natsURL != "" {
		if err := publish(e, natsURL, service, subject, encoder, rec); err != nil {
			return err
		}
	}
	return nil
}

func buildRecord(e *env, amount *cliflags.CurrencyFloat, timestamp *cliflags.Timestamp, hasTimestamp bool, id, name string, attrs []string, input string) (*record, error) {
	rec := &record{id: id, name: name}
	if amount.IsSet() {
		rec.amount = &amount.Value
	}
	if hasTimestamp {
		rec.timestamp = &timestamp.Time
	}
	if len(attrs) > 0 {
		rec.attributes = make(map[string]string, len(attrs))
		for _, attr := range attrs {
			key, value, ok := strings.Cut(attr, "=")
			if !ok || key == "" {
				return nil, fmt.Errorf("--attr %q: expected key=value", attr)
			}
			rec.attributes[key] = value
		}
	}
	if input != "" {
		var raw []byte
		var err error
		if input == "-" {
			raw, err = io.ReadAll(e.stdin)
		} else {
			raw, err = os.ReadFile(input)
		}
		if err != nil {
			return nil, fmt.Errorf("reading --input: %w", err)
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("--input %s is not valid JSON", input)
		}
		rec.document = stdjson.RawMessage(raw)
	}
	return rec, nil
}

func publish(e *env, url, service, subject string, encoder objenc.Encoder, rec *record) error {
	conn, err := nats.Connect(url, nats.Name(sourceServiceName))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", url, err)
	}
	defer conn.Close()

	transport := natstransport.New(conn, natstransport.WithLogger(e.logger))
	client := objenc.NewClient(sourceServiceName, transport, encoder, objenc.WithLogger(e.logger))
	defer client.Close()

	if err := client.Service(service).Send(subject, rec); err != nil {
		return fmt.Errorf("publishing to %s/%s: %w", service, subject, err)
	}
	e.logger.Info().Str("service", service).Str("subject", subject).Msg("record published")
	return nil
}
