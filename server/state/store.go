package state

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/ponyo877/lobby/server/domain"
	"github.com/ponyo877/lobby/server/logging"
	"github.com/rs/zerolog"
)

// WriteResult records which backends accepted a write.
type WriteResult struct {
	PrimaryOK   bool
	SecondaryOK bool
}

type Store struct {
	primary   Backend
	secondary Backend
	now       func() time.Time
	logger    zerolog.Logger

	secondaryWarn sync.Once
}

type Option func(*Store)

func WithSecondary(b Backend) Option {
	return func(s *Store) { s.secondary = b }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func NewStore(primary Backend, opts ...Option) *Store {
	s := &Store{
		primary: primary,
		now:     time.Now,
		logger:  logging.WithComponent("state"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Now() time.Time {
	return s.now()
}

// SetState stores value under key with no expiry. Strings are stored as
// is; anything else is JSON encoded.
func (s *Store) SetState(ctx context.Context, key string, value any) error {
	_, err := s.set(ctx, key, value, nil)
	return err
}

// SetStateTTL stores value until ttl elapses. A ttl of zero or less writes
// an entry that is already expired.
func (s *Store) SetStateTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	exp := s.now().Add(ttl)
	_, err := s.set(ctx, key, value, &exp)
	return err
}

func (s *Store) set(ctx context.Context, key string, value any, expiresAt *time.Time) (WriteResult, error) {
	encoded, err := encodeValue(value)
	if err != nil {
		return WriteResult{}, domain.ValidationFailed("value is not serializable", "value")
	}
	now := s.now()
	e := Entry{Key: key, Value: encoded, ExpiresAt: expiresAt, CreatedAt: now, UpdatedAt: now}

	var res WriteResult
	if err := s.primary.Put(ctx, e); err != nil {
		s.logger.Error().Err(err).Str("backend", s.primary.Name()).Str("key", key).Msg("state write failed")
	} else {
		res.PrimaryOK = true
	}
	if s.secondary != nil {
		if err := s.secondary.Put(ctx, e); err != nil {
			s.warnSecondary(err)
		} else {
			res.SecondaryOK = true
		}
	}
	if !res.PrimaryOK {
		return res, domain.BackendDegraded(errors.New("primary state backend write failed"))
	}
	return res, nil
}

func encodeValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// GetState returns the live value for key. Expired entries read as absent
// and are removed on the way out.
func (s *Store) GetState(ctx context.Context, key string) (string, bool) {
	now := s.now()

	e, err := s.primary.Get(ctx, key)
	switch {
	case err == nil:
		if e.Expired(now) {
			s.lazyDelete(ctx, key)
			return "", false
		}
		return e.Value, true
	case !errors.Is(err, ErrNotFound):
		s.logger.Warn().Err(err).Str("backend", s.primary.Name()).Str("key", key).Msg("state read failed")
	}

	if s.secondary == nil {
		return "", false
	}
	e, err = s.secondary.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.warnSecondary(err)
		}
		return "", false
	}
	if e.Expired(now) {
		_ = s.secondary.Delete(ctx, key)
		return "", false
	}
	return e.Value, true
}

// GetJSON decodes the value under key into out.
func (s *Store) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	v, ok := s.GetState(ctx, key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(v), out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) HasState(ctx context.Context, key string) bool {
	_, ok := s.GetState(ctx, key)
	return ok
}

func (s *Store) DeleteState(ctx context.Context, key string) error {
	perr := s.primary.Delete(ctx, key)
	if s.secondary != nil {
		if err := s.secondary.Delete(ctx, key); err != nil {
			s.warnSecondary(err)
		}
	}
	if perr != nil {
		s.logger.Error().Err(perr).Str("key", key).Msg("state delete failed")
		return domain.BackendDegraded(perr)
	}
	return nil
}

func (s *Store) lazyDelete(ctx context.Context, key string) {
	if err := s.primary.Delete(ctx, key); err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("lazy delete failed")
	}
	if s.secondary != nil {
		_ = s.secondary.Delete(ctx, key)
	}
}

// GetKeysByPrefix returns the sorted union of live keys starting with
// prefix. Characters with special meaning to the backend match literally.
func (s *Store) GetKeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	now := s.now()
	set := make(map[string]struct{})

	pkeys, perr := s.primary.Keys(ctx, prefix, now)
	if perr != nil {
		s.logger.Warn().Err(perr).Str("prefix", prefix).Msg("state prefix query failed")
	}
	for _, k := range pkeys {
		set[k] = struct{}{}
	}

	var serr error
	if s.secondary != nil {
		var skeys []string
		skeys, serr = s.secondary.Keys(ctx, prefix, now)
		if serr != nil {
			s.warnSecondary(serr)
		}
		for _, k := range skeys {
			set[k] = struct{}{}
		}
	}

	if perr != nil && (s.secondary == nil || serr != nil) {
		return []string{}, domain.BackendDegraded(perr)
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	n, err := s.primary.DeletePrefix(ctx, prefix)
	if s.secondary != nil {
		if _, serr := s.secondary.DeletePrefix(ctx, prefix); serr != nil {
			s.warnSecondary(serr)
		}
	}
	if err != nil {
		return 0, domain.BackendDegraded(err)
	}
	return n, nil
}

// SweepExpired removes expired entries from both backends and returns how
// many the primary dropped.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	n, err := s.primary.DeleteExpired(ctx, now)
	if s.secondary != nil {
		if _, serr := s.secondary.DeleteExpired(ctx, now); serr != nil {
			s.warnSecondary(serr)
		}
	}
	if err != nil {
		return 0, domain.BackendDegraded(err)
	}
	return n, nil
}

func (s *Store) warnSecondary(err error) {
	s.secondaryWarn.Do(func() {
		s.logger.Warn().Err(err).Str("backend", s.secondary.Name()).
			Msg("secondary state backend unavailable; further failures are not logged")
	})
}
