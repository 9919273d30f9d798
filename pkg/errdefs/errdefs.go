// Package errdefs holds the error kinds shared by the caches, the stores and the
// aggregation engine. Callers classify with errors.Is or Classify; producers wrap
// the sentinel together with the underlying cause.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrDataCorruption reports a violated cache invariant (negative price level,
	// conflicting funding index rewrite). It is never repaired in place.
	ErrDataCorruption = errors.New("data corruption")

	// ErrConfiguration reports a deployment misconfiguration, e.g. a vault mapped to a
	// market that does not exist.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound is reserved for lookups of a single entity. Empty result sets are
	// returned as empty slices, not as this error.
	ErrNotFound = errors.New("not found")

	// ErrUpstreamUnavailable wraps failures of the cache or of the relational stores.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Kind is the classification consumed by the HTTP layer.
type Kind int

const (
	KindUnknown Kind = iota
	KindDataCorruption
	KindConfiguration
	KindNotFound
	KindUpstreamUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindDataCorruption:
		return "data_corruption"
	case KindConfiguration:
		return "configuration"
	case KindNotFound:
		return "not_found"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	default:
		return "unknown"
	}
}

// Classify returns the most specific kind carried by err. Data corruption wins over the
// other kinds because an adapter may wrap an invariant violation in an I/O error.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrDataCorruption):
		return KindDataCorruption
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUpstreamUnavailable):
		return KindUpstreamUnavailable
	default:
		return KindUnknown
	}
}

// Unavailable wraps an I/O failure of op so it classifies as ErrUpstreamUnavailable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUpstreamUnavailable, err)
}

// Corruption builds an ErrDataCorruption error with a formatted detail.
func Corruption(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDataCorruption, fmt.Sprintf(format, args...))
}

// Configuration builds an ErrConfiguration error with a formatted detail.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
