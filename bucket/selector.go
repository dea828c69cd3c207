package bucket

import (
	"errors"
	"fmt"
)

// DefaultKey is the reserved resource name of the fallback bucket.
const DefaultKey = "default"

var (
	// ErrNoBuckets is returned when a selector is built from an empty mapping.
	ErrNoBuckets = errors.New("bucket: no buckets configured")
	// ErrNoBucket is returned when neither the resource nor the default bucket exists.
	ErrNoBucket = errors.New("bucket: no bucket available")
)

// Selector maps a resource name to the Spec that applies to it.
type Selector struct {
	specs map[string]Spec
}

// NewSelector copies specs into a Selector. The mapping must not be empty.
func NewSelector(specs map[string]Spec) (*Selector, error) {
	if len(specs) == 0 {
		return nil, ErrNoBuckets
	}
	s := &Selector{specs: make(map[string]Spec, len(specs))}
	for name, spec := range specs {
		s.specs[name] = spec
	}
	return s, nil
}

// Select returns the Spec registered for resource, falling back to the
// default bucket. There is no prefix matching.
func (s *Selector) Select(resource string) (Spec, error) {
	if spec, ok := s.specs[resource]; ok {
		return spec, nil
	}
	if spec, ok := s.specs[DefaultKey]; ok {
		return spec, nil
	}
	return Spec{}, fmt.Errorf("%w for resource %q", ErrNoBucket, resource)
}

// Len returns the number of configured buckets.
func (s *Selector) Len() int {
	return len(s.specs)
}
