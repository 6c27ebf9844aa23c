package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/report-variables-server/internal/domain"
)

// SetContext scopes fetched variables to the entity version of a set.
type SetContext struct {
	EntityID        string
	EntityVersionID string
}

// ContextOf returns the context of set.
func ContextOf(set *domain.VariableSet) *SetContext {
	return &SetContext{EntityID: set.IDToken.EntityID, EntityVersionID: set.IDToken.EntityVersionID}
}

// Service is the remote sync layer.
type Service struct {
	backend Backend
	logger  *logrus.Logger
	breaker *gobreaker.CircuitBreaker

	sets    SetCache
	ratings RatingSetCache
}

// Option configures a Service.
type Option func(*Service)

// WithSetCache caches variable-set definitions.
func WithSetCache(c SetCache) Option {
	return func(s *Service) { s.sets = c }
}

// WithRatingSetCache caches decoded rating sets.
func WithRatingSetCache(c RatingSetCache) Option {
	return func(s *Service) { s.ratings = c }
}

// NewService creates the sync layer over backend.
func NewService(backend Backend, logger *logrus.Logger, cfg domain.RemoteConfig, opts ...Option) *Service {
	if cfg.BreakerMaxRequests == 0 {
		cfg.BreakerMaxRequests = 3
	}
	if cfg.BreakerInterval == 0 {
		cfg.BreakerInterval = 60 * time.Second
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.BreakerMinRequests == 0 {
		cfg.BreakerMinRequests = 5
	}
	if cfg.BreakerFailRatio == 0 {
		cfg.BreakerFailRatio = 0.6
	}

	settings := gobreaker.Settings{
		Name:        "backend",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.BreakerMinRequests && ratio >= cfg.BreakerFailRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			breakerState.Set(float64(to))
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Warn("Circuit breaker state changed")
		},
		// Missing and duplicate rows are answers, not backend failures.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrAlreadyExists)
		},
	}

	s := &Service{
		backend: backend,
		logger:  logger,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// call runs op through the circuit breaker and records its duration.
func (s *Service) call(operation string, op func() (interface{}, error)) (interface{}, error) {
	start := time.Now()
	result, err := s.breaker.Execute(op)

	status := "success"
	if err != nil {
		status = "error"
	}
	operationDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w: %v", operation, ErrUnavailable, err)
	}
	return result, err
}

// ErrUnavailable is returned while the circuit breaker rejects calls.
var ErrUnavailable = domain.ErrUnavailable

func (s *Service) fail(operation string, fields logrus.Fields, err error) error {
	entry := s.logger.WithFields(fields).WithField("operation", operation).WithError(err)
	if errors.Is(err, domain.ErrNotFound) {
		entry.Debug("Backend row not found")
	} else {
		entry.Error("Backend operation failed")
	}
	return fmt.Errorf("%s: %w", operation, err)
}

// Ping checks that the backend is reachable.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.call("ping", func() (interface{}, error) {
		return nil, s.backend.Ping(ctx)
	})
	return err
}

// FetchVariable loads one variable.
func (s *Service) FetchVariable(ctx context.Context, token domain.VariableIDToken) (*domain.Variable, error) {
	res, err := s.call("fetch_variable", func() (interface{}, error) {
		return s.backend.GetVariable(ctx, token)
	})
	if err != nil {
		return nil, s.fail("fetching variable", logrus.Fields{"key": token.Key()}, err)
	}
	v, err := VariableFromRow(res.(*VariableRow))
	if err != nil {
		return nil, s.fail("decoding variable", logrus.Fields{"key": token.Key()}, err)
	}
	return v, nil
}

// FetchVariables loads the variables named by filterIDs, or every variable,
// in the entity of sc. A nil sc selects unscoped variables.
func (s *Service) FetchVariables(ctx context.Context, filterIDs []string, sc *SetContext) ([]*domain.Variable, error) {
	filter := VariableFilter{VariableIDs: filterIDs}
	if sc != nil {
		filter.EntityID = sc.EntityID
		filter.EntityVersionID = sc.EntityVersionID
	}

	res, err := s.call("fetch_variables", func() (interface{}, error) {
		return s.backend.ListVariables(ctx, filter)
	})
	if err != nil {
		return nil, s.fail("fetching variables", logrus.Fields{
			"entity_id":         filter.EntityID,
			"entity_version_id": filter.EntityVersionID,
			"count":             len(filterIDs),
		}, err)
	}

	rows := res.([]*VariableRow)
	out := make([]*domain.Variable, 0, len(rows))
	for _, row := range rows {
		v, err := VariableFromRow(row)
		if err != nil {
			return nil, s.fail("decoding variables", logrus.Fields{"variable_id": row.VariableID}, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// CreateVariable inserts a new variable. Existing rows yield
// domain.ErrAlreadyExists.
func (s *Service) CreateVariable(ctx context.Context, v *domain.Variable) error {
	row, err := VariableToRow(v)
	if err != nil {
		return s.fail("encoding variable", logrus.Fields{"key": v.Key()}, err)
	}
	if _, err := s.call("create_variable", func() (interface{}, error) {
		return nil, s.backend.InsertVariable(ctx, row)
	}); err != nil {
		return s.fail("creating variable", logrus.Fields{"key": v.Key()}, err)
	}
	s.logger.WithField("key", v.Key()).Info("Variable created")
	return nil
}

// UpdateVariable applies a partial update.
func (s *Service) UpdateVariable(ctx context.Context, token domain.VariableIDToken, patch VariablePatch) error {
	cols, err := patch.Columns(token)
	if err != nil {
		return s.fail("encoding variable patch", logrus.Fields{"key": token.Key()}, err)
	}
	if len(cols) == 0 {
		return nil
	}
	if _, err := s.call("update_variable", func() (interface{}, error) {
		return nil, s.backend.UpdateVariable(ctx, token, cols)
	}); err != nil {
		return s.fail("updating variable", logrus.Fields{"key": token.Key()}, err)
	}
	return nil
}

// UpsertVariable inserts or replaces a variable.
func (s *Service) UpsertVariable(ctx context.Context, v *domain.Variable) error {
	row, err := VariableToRow(v)
	if err != nil {
		return s.fail("encoding variable", logrus.Fields{"key": v.Key()}, err)
	}
	if _, err := s.call("upsert_variable", func() (interface{}, error) {
		return nil, s.backend.UpsertVariable(ctx, row)
	}); err != nil {
		return s.fail("upserting variable", logrus.Fields{"key": v.Key()}, err)
	}
	return nil
}

// FetchVariableSet loads a set definition, consulting the set cache first.
func (s *Service) FetchVariableSet(ctx context.Context, token domain.VariableIDToken) (*domain.VariableSet, error) {
	key := token.Key()
	if s.sets != nil {
		set, ok, err := s.sets.GetVariableSet(ctx, key)
		switch {
		case err != nil:
			cacheLookups.WithLabelValues("variable_set", "error").Inc()
			s.logger.WithField("set", key).WithError(err).Warn("Variable set cache lookup failed")
		case ok:
			cacheLookups.WithLabelValues("variable_set", "hit").Inc()
			return set, nil
		default:
			cacheLookups.WithLabelValues("variable_set", "miss").Inc()
		}
	}

	res, err := s.call("fetch_variable_set", func() (interface{}, error) {
		return s.backend.GetVariableSet(ctx, token)
	})
	if err != nil {
		return nil, s.fail("fetching variable set", logrus.Fields{"set": key}, err)
	}
	set, err := VariableSetFromRow(res.(*VariableSetRow))
	if err != nil {
		return nil, s.fail("decoding variable set", logrus.Fields{"set": key}, err)
	}

	if s.sets != nil {
		if err := s.sets.SetVariableSet(ctx, set); err != nil {
			s.logger.WithField("set", key).WithError(err).Warn("Failed to cache variable set")
		}
	}
	return set, nil
}

// FetchVariableSets lists the sets of one entity version.
func (s *Service) FetchVariableSets(ctx context.Context, entityID, entityVersionID string) ([]*domain.VariableSet, error) {
	res, err := s.call("fetch_variable_sets", func() (interface{}, error) {
		return s.backend.ListVariableSets(ctx, entityID, entityVersionID)
	})
	if err != nil {
		return nil, s.fail("fetching variable sets", logrus.Fields{"entity_id": entityID}, err)
	}
	rows := res.([]*VariableSetRow)
	out := make([]*domain.VariableSet, 0, len(rows))
	for _, row := range rows {
		set, err := VariableSetFromRow(row)
		if err != nil {
			return nil, s.fail("decoding variable sets", logrus.Fields{"set_id": row.SetID}, err)
		}
		out = append(out, set)
	}
	return out, nil
}

// CreateVariableSet inserts a new set.
func (s *Service) CreateVariableSet(ctx context.Context, set *domain.VariableSet) error {
	if err := set.Validate(); err != nil {
		return err
	}
	row, err := VariableSetToRow(set)
	if err != nil {
		return s.fail("encoding variable set", logrus.Fields{"set": set.Key()}, err)
	}
	if _, err := s.call("create_variable_set", func() (interface{}, error) {
		return nil, s.backend.InsertVariableSet(ctx, row)
	}); err != nil {
		return s.fail("creating variable set", logrus.Fields{"set": set.Key()}, err)
	}
	s.logger.WithField("set", set.Key()).Info("Variable set created")
	return nil
}

// UpdateVariableSet applies a partial update and drops the cached copy.
func (s *Service) UpdateVariableSet(ctx context.Context, token domain.VariableIDToken, patch VariableSetPatch) error {
	cols, err := patch.Columns()
	if err != nil {
		return s.fail("encoding variable set patch", logrus.Fields{"set": token.Key()}, err)
	}
	if len(cols) == 0 {
		return nil
	}
	if _, err := s.call("update_variable_set", func() (interface{}, error) {
		return nil, s.backend.UpdateVariableSet(ctx, token, cols)
	}); err != nil {
		return s.fail("updating variable set", logrus.Fields{"set": token.Key()}, err)
	}
	s.invalidateSet(ctx, token.Key())
	return nil
}

// UpsertVariableSet inserts or replaces a set and drops the cached copy.
func (s *Service) UpsertVariableSet(ctx context.Context, set *domain.VariableSet) error {
	if err := set.Validate(); err != nil {
		return err
	}
	row, err := VariableSetToRow(set)
	if err != nil {
		return s.fail("encoding variable set", logrus.Fields{"set": set.Key()}, err)
	}
	if _, err := s.call("upsert_variable_set", func() (interface{}, error) {
		return nil, s.backend.UpsertVariableSet(ctx, row)
	}); err != nil {
		return s.fail("upserting variable set", logrus.Fields{"set": set.Key()}, err)
	}
	s.invalidateSet(ctx, set.Key())
	return nil
}

func (s *Service) invalidateSet(ctx context.Context, key string) {
	if s.sets == nil {
		return
	}
	if err := s.sets.DeleteVariableSet(ctx, key); err != nil {
		s.logger.WithField("set", key).WithError(err).Warn("Failed to invalidate cached variable set")
	}
}

// FetchRatingSets loads every descriptive rating set and refreshes the
// rating-set cache.
func (s *Service) FetchRatingSets(ctx context.Context) ([]*domain.DescriptiveRatingSet, error) {
	res, err := s.call("fetch_rating_sets", func() (interface{}, error) {
		return s.backend.ListRatingSets(ctx)
	})
	if err != nil {
		return nil, s.fail("fetching rating sets", nil, err)
	}
	rows := res.([]*RatingSetRow)
	out := make([]*domain.DescriptiveRatingSet, 0, len(rows))
	for _, row := range rows {
		rs, err := RatingSetFromRow(row)
		if err != nil {
			return nil, s.fail("decoding rating sets", logrus.Fields{"rating_set": row.ID}, err)
		}
		out = append(out, rs)
		if s.ratings != nil {
			s.ratings.Add(rs)
		}
	}
	return out, nil
}

// RatingSet returns one rating set, from the cache when possible.
func (s *Service) RatingSet(ctx context.Context, id string) (*domain.DescriptiveRatingSet, error) {
	if s.ratings != nil {
		if rs, ok := s.ratings.Get(id); ok {
			cacheLookups.WithLabelValues("rating_set", "hit").Inc()
			return rs, nil
		}
		cacheLookups.WithLabelValues("rating_set", "miss").Inc()
	}
	all, err := s.FetchRatingSets(ctx)
	if err != nil {
		return nil, err
	}
	for _, rs := range all {
		if rs.ID == id {
			return rs, nil
		}
	}
	return nil, fmt.Errorf("rating set %s: %w", id, domain.ErrNotFound)
}

// UpsertRatingSet stores a rating set.
func (s *Service) UpsertRatingSet(ctx context.Context, rs *domain.DescriptiveRatingSet) error {
	row, err := RatingSetToRow(rs)
	if err != nil {
		return s.fail("encoding rating set", logrus.Fields{"rating_set": rs.ID}, err)
	}
	if _, err := s.call("upsert_rating_set", func() (interface{}, error) {
		return nil, s.backend.UpsertRatingSet(ctx, row)
	}); err != nil {
		return s.fail("upserting rating set", logrus.Fields{"rating_set": rs.ID}, err)
	}
	if s.ratings != nil {
		s.ratings.Add(domain.NewDescriptiveRatingSet(rs.ID, rs.Name, rs.Rules))
	}
	return nil
}
