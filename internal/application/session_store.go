package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/bnema/accountctl/internal/ports"
	"go.uber.org/zap"
)

type SessionPolicy struct {
	AbsoluteTTL     time.Duration
	IdleTTL         time.Duration
	RequiredCookies []string
}

// SessionStore caches sealed browser sessions per account. Undecodable records
// behave exactly like missing ones.
type SessionStore struct {
	kv     ports.KeyValueStore
	sealer ports.Sealer
	clock  ports.Clock
	policy SessionPolicy
	logger *zap.Logger
	locks  *keyedLocks
}

func NewSessionStore(kv ports.KeyValueStore, sealer ports.Sealer, clock ports.Clock, policy SessionPolicy, logger *zap.Logger) *SessionStore {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SessionStore{
		kv:     kv,
		sealer: sealer,
		clock:  clock,
		policy: policy,
		logger: logger,
		locks:  newKeyedLocks(),
	}
}

// Save stores a fresh session captured behind proxy (nil for a direct connection).
func (s *SessionStore) Save(ctx context.Context, accountID domain.AccountID, cookies []domain.Cookie, proxy *domain.ProxyRecord) error {
	key := SessionKey(accountID)
	unlock, err := s.locks.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	now := s.clock.Now()
	absolute := now.Add(s.policy.AbsoluteTTL)
	record := domain.SessionRecord{
		AccountID:      accountID,
		Cookies:        append([]domain.Cookie(nil), cookies...),
		SavedAt:        now,
		AbsoluteExpiry: absolute,
		SessionExpiry:  minTime(now.Add(s.policy.IdleTTL), absolute),
	}
	if proxy != nil {
		record.BoundProxy = proxy.String()
	}

	if err := s.put(ctx, key, record, now); err != nil {
		return err
	}

	s.logger.Debug("session saved",
		zap.String("account", string(accountID)),
		zap.Int("cookies", len(cookies)),
		zap.Time("absolute_expiry", absolute),
	)

	return nil
}

// Load returns the stored session and slides its idle expiry forward. Expired
// records are deleted and reported as nil.
func (s *SessionStore) Load(ctx context.Context, accountID domain.AccountID) (*domain.SessionRecord, error) {
	key := SessionKey(accountID)
	unlock, err := s.locks.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	record, found, err := s.get(ctx, key)
	if err != nil || !found {
		return nil, err
	}

	now := s.clock.Now()
	if record.Expired(now) {
		if err := s.kv.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("evict expired session: %w", err)
		}
		s.logger.Debug("session evicted", zap.String("account", string(accountID)))
		return nil, nil
	}

	record.SessionExpiry = minTime(now.Add(s.policy.IdleTTL), record.AbsoluteExpiry)
	record.UseCount++
	if err := s.put(ctx, key, record, now); err != nil {
		return nil, err
	}

	return &record, nil
}

// IsValid reports whether a usable session exists without refreshing it.
func (s *SessionStore) IsValid(ctx context.Context, accountID domain.AccountID) bool {
	record, found, err := s.get(ctx, SessionKey(accountID))
	if err != nil || !found {
		return false
	}

	return s.valid(record, s.clock.Now())
}

func (s *SessionStore) valid(record domain.SessionRecord, now time.Time) bool {
	return !record.Expired(now) && record.HasCookies(s.policy.RequiredCookies)
}

func (s *SessionStore) Delete(ctx context.Context, accountID domain.AccountID) error {
	if err := s.kv.Delete(ctx, SessionKey(accountID)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) ListAll(ctx context.Context) ([]domain.SessionSummary, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	now := s.clock.Now()
	summaries := make([]domain.SessionSummary, 0, len(keys))
	for _, key := range keys {
		record, found, err := s.get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}

		summaries = append(summaries, domain.SessionSummary{
			AccountID:      record.AccountID,
			Key:            key,
			SavedAt:        record.SavedAt,
			AbsoluteExpiry: record.AbsoluteExpiry,
			SessionExpiry:  record.SessionExpiry,
			BoundProxy:     proxyEndpoint(record.BoundProxy),
			UseCount:       record.UseCount,
			CookieCount:    len(record.Cookies),
			Valid:          s.valid(record, now),
		})
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].AccountID < summaries[j].AccountID })

	return summaries, nil
}

// PurgeExpired deletes every expired or undecodable record and returns how many were removed.
func (s *SessionStore) PurgeExpired(ctx context.Context) (int, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	now := s.clock.Now()
	purged := 0
	for _, key := range keys {
		record, found, err := s.get(ctx, key)
		if err != nil {
			return purged, err
		}
		if found && !record.Expired(now) {
			continue
		}
		if err := s.kv.Delete(ctx, key); err != nil {
			return purged, fmt.Errorf("purge session: %w", err)
		}
		purged++
	}

	if purged > 0 {
		s.logger.Info("expired sessions purged", zap.Int("count", purged))
	}

	return purged, nil
}

// get loads and decodes a record. found is false for missing keys and for
// records that fail to decode.
func (s *SessionStore) get(ctx context.Context, key string) (record domain.SessionRecord, found bool, err error) {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return domain.SessionRecord{}, false, nil
		}
		return domain.SessionRecord{}, false, fmt.Errorf("read session: %w", err)
	}

	record, err = decodeSession(s.sealer, key, data)
	if err != nil {
		s.logger.Warn("undecodable session ignored", zap.String("key", key), zap.Error(err))
		return domain.SessionRecord{}, false, nil
	}

	return record, true, nil
}

func (s *SessionStore) put(ctx context.Context, key string, record domain.SessionRecord, now time.Time) error {
	data, err := encodeSession(s.sealer, record)
	if err != nil {
		return err
	}

	if err := s.kv.Put(ctx, key, data, record.AbsoluteExpiry.Sub(now)); err != nil {
		return fmt.Errorf("write session: %w", err)
	}

	return nil
}

func proxyEndpoint(proxy string) string {
	if proxy == "" {
		return ""
	}
	record, err := domain.ParseProxy(proxy)
	if err != nil {
		return ""
	}
	return record.Endpoint()
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
