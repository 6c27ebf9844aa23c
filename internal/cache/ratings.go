package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/report-variables-server/internal/domain"
	"github.com/report-variables-server/internal/remote"
)

// DefaultRatingSetSize bounds the rating set cache when no size is configured.
const DefaultRatingSetSize = 128

// RatingSets is an in-process LRU of descriptive rating sets keyed by id.
type RatingSets struct {
	cache *lru.Cache[string, *domain.DescriptiveRatingSet]
}

var _ remote.RatingSetCache = (*RatingSets)(nil)

// NewRatingSets creates a cache holding at most size rating sets.
func NewRatingSets(size int) (*RatingSets, error) {
	if size <= 0 {
		size = DefaultRatingSetSize
	}
	c, err := lru.New[string, *domain.DescriptiveRatingSet](size)
	if err != nil {
		return nil, fmt.Errorf("creating rating set cache: %w", err)
	}
	return &RatingSets{cache: c}, nil
}

func (r *RatingSets) Get(id string) (*domain.DescriptiveRatingSet, bool) {
	return r.cache.Get(id)
}

func (r *RatingSets) Add(set *domain.DescriptiveRatingSet) {
	r.cache.Add(set.ID, set)
}

func (r *RatingSets) Purge() {
	r.cache.Purge()
}

// Len reports how many rating sets are cached.
func (r *RatingSets) Len() int {
	return r.cache.Len()
}
