package flatten

const (
	// DefaultSeparator joins a parent path with a child key in flat keys.
	DefaultSeparator = "_"

	// RootKey is the placeholder key used when the root of the tree is a
	// bare scalar and there is no accumulated path to name it.
	RootKey = "value"
)

// Options control how the engine builds flat keys and bounds recursion.
type Options struct {
	// Separator joins the parent path and the child key. Any string is
	// accepted; it is used verbatim in concatenation.
	Separator string

	// RootPath is the starting path prefix. Empty for a root-level call.
	RootPath string

	// MaxDepth bounds nesting depth. Zero means unbounded. When the input
	// nests deeper, Flatten returns ErrDepthExceeded instead of recursing
	// further; callers handling untrusted input should set this.
	MaxDepth int
}

// Option mutates Options.
type Option func(*Options)

// WithSeparator sets the flat-key separator.
func WithSeparator(sep string) Option {
	return func(o *Options) { o.Separator = sep }
}

// WithRootPath sets the starting path prefix.
func WithRootPath(path string) Option {
	return func(o *Options) { o.RootPath = path }
}

// WithMaxDepth bounds the nesting depth the engine will descend.
func WithMaxDepth(depth int) Option {
	return func(o *Options) { o.MaxDepth = depth }
}

// DefaultOptions returns the options used when none are supplied.
func DefaultOptions() Options {
	return Options{Separator: DefaultSeparator}
}
