package objenc

import (
	"reflect"
	"time"
)

// DefaultMaxDepth is the nesting limit used when WithMaxDepth is not given.
const DefaultMaxDepth = 512

// DefaultDatastorePackages lists the import path prefixes whose time-like
// values are rendered with their string form instead of RFC 3339.
var DefaultDatastorePackages = []string{
	"go.mongodb.org/mongo-driver",
	"go.etcd.io/bbolt",
	"github.com/minio/minio-go",
}

// Format holds the options handed unchanged to the JSON writing layer.
type Format struct {
	Prefix     string
	Indent     string
	SortKeys   bool
	EscapeHTML bool
}

type config struct {
	suppressed        []reflect.Type
	suppressedKinds   []reflect.Kind
	maxDepth          int
	timeLocation      *time.Location
	datastorePackages []string
	format            Format
}

func defaultConfig() config {
	return config{
		maxDepth:          DefaultMaxDepth,
		datastorePackages: DefaultDatastorePackages,
		format:            Format{EscapeHTML: true},
	}
}

// Option configures an ObjectEncoder at construction.
type Option func(*config)

// WithSuppressed adds types whose values always serialize as null. An
// interface type suppresses every type implementing it.
//
//	objenc.New(objenc.WithSuppressed(reflect.TypeFor[*sql.DB]()))
func WithSuppressed(types ...reflect.Type) Option {
	return func(c *config) {
		c.suppressed = append(c.suppressed, types...)
	}
}

// WithSuppressedKinds adds reflect kinds whose values always serialize as
// null.
func WithSuppressedKinds(kinds ...reflect.Kind) Option {
	return func(c *config) {
		c.suppressedKinds = append(c.suppressedKinds, kinds...)
	}
}

// WithMaxDepth sets the nesting limit. Values below 1 keep the default.
func WithMaxDepth(depth int) Option {
	return func(c *config) {
		if depth > 0 {
			c.maxDepth = depth
		}
	}
}

// WithTimeLocation converts every time value into loc before formatting.
// A nil loc keeps each value's own zone.
func WithTimeLocation(loc *time.Location) Option {
	return func(c *config) {
		c.timeLocation = loc
	}
}

// WithDatastorePackages replaces the import path prefixes treated as
// datastore driver types by the temporal rule.
func WithDatastorePackages(prefixes ...string) Option {
	return func(c *config) {
		c.datastorePackages = prefixes
	}
}

// WithIndent makes the writer emit indented output.
func WithIndent(prefix, indent string) Option {
	return func(c *config) {
		c.format.Prefix = prefix
		c.format.Indent = indent
	}
}

// WithSortKeys makes the writer emit object keys in lexical order instead
// of insertion order.
func WithSortKeys(sortKeys bool) Option {
	return func(c *config) {
		c.format.SortKeys = sortKeys
	}
}

// WithEscapeHTML controls whether the writer escapes <, > and & in strings.
func WithEscapeHTML(escape bool) Option {
	return func(c *config) {
		c.format.EscapeHTML = escape
	}
}
