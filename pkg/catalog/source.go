package catalog

import (
	"context"
	"maps"
	"slices"
)

// staticSource implements Source over a fixed plan slice.
type staticSource struct {
	plans []Plan
}

// NewStaticSource returns an in-memory Source with a deep copy of the given
// plans. Used in tests and single-binary deployments where plans ship with
// the build.
func NewStaticSource(plans ...Plan) Source {
	copied := make([]Plan, len(plans))
	for i, p := range plans {
		p.Limits = maps.Clone(p.Limits)
		p.ProviderPriceIDs = maps.Clone(p.ProviderPriceIDs)
		copied[i] = p
	}
	return &staticSource{plans: copied}
}

func (s *staticSource) Load(ctx context.Context) ([]Plan, error) {
	return slices.Clone(s.plans), nil
}
