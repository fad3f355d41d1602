// Package cliflags holds pflag value types and checks shared by the objenc
// commands.
package cliflags

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// CurrencyFloat is a float flag that accepts currency notation such as
// "$300,000" or "£1,234.56". The period is always the decimal point;
// everything except digits and periods is discarded before parsing, so
// "1.250,5" reads as 1.2505.
type CurrencyFloat struct {
	Value float64
	set   bool
}

var _ pflag.Value = &CurrencyFloat{}

func (c *CurrencyFloat) String() string {
	if !c.set {
		return ""
	}
	return strconv.FormatFloat(c.Value, 'f', -1, 64)
}

func (c *CurrencyFloat) Set(s string) error {
	clean := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, s)
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return fmt.Errorf("%q is not a valid currency amount, use a form like $300,000, 300,000 or 300000", s)
	}
	c.Value = f
	c.set = true
	return nil
}

func (c *CurrencyFloat) Type() string { return "currency" }

// IsSet reports whether the flag was given.
func (c *CurrencyFloat) IsSet() bool { return c.set }

var (
	// ErrNaiveTimestamp is returned for a timestamp without zone information
	// when no default location is configured.
	ErrNaiveTimestamp = errors.New("timestamp must include timezone information")

	awareLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02T15:04Z07:00",
		"2006-01-02 15:04Z07:00",
	}
	naiveLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
	}
)

// Timestamp is a timezone-aware time flag. Input without zone information
// is placed in DefaultLocation, or rejected when DefaultLocation is nil.
type Timestamp struct {
	Time            time.Time
	DefaultLocation *time.Location
}

var _ pflag.Value = &Timestamp{}

// NewTimestamp returns a Timestamp that localizes naive input into loc.
// A nil loc rejects naive input.
func NewTimestamp(loc *time.Location) *Timestamp {
	return &Timestamp{DefaultLocation: loc}
}

func (t *Timestamp) String() string {
	if t.Time.IsZero() {
		return ""
	}
	return t.Time.Format(time.RFC3339Nano)
}

func (t *Timestamp) Set(s string) error {
	s = strings.TrimSpace(s)
	for _, layout := range awareLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	for _, layout := range naiveLayouts {
		if _, err := time.Parse(layout, s); err != nil {
			continue
		}
		if t.DefaultLocation == nil {
			return fmt.Errorf("%w: %q", ErrNaiveTimestamp, s)
		}
		parsed, err := time.ParseInLocation(layout, s, t.DefaultLocation)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}
	return fmt.Errorf("could not parse timestamp %q", s)
}

func (t *Timestamp) Type() string { return "timestamp" }

// MutuallyExclusive returns an error when more than one of the named flags
// was set on fs.
func MutuallyExclusive(fs *pflag.FlagSet, names ...string) error {
	var given []string
	for _, name := range names {
		if fs.Changed(name) {
			given = append(given, "--"+name)
		}
	}
	if len(given) > 1 {
		return fmt.Errorf("illegal usage: %s are mutually exclusive", strings.Join(given, " and "))
	}
	return nil
}

// AnnotateExclusive appends the exclusivity note to the usage text of
// each named flag.
func AnnotateExclusive(fs *pflag.FlagSet, names ...string) {
	for _, name := range names {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		var others []string
		for _, other := range names {
			if other != name {
				others = append(others, "--"+other)
			}
		}
		flag.Usage += " [mutually exclusive with: " + strings.Join(others, ", ") + "]"
	}
}
