package application

import (
	"context"
	"testing"
	"time"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionEpoch = time.Date(2026, time.March, 1, 9, 0, 10, 0, time.UTC)

func newTestSessionStore(kv *inMemoryKV, clock *fakeClock) *SessionStore {
	return NewSessionStore(kv, prefixSealer{}, clock, SessionPolicy{
		AbsoluteTTL:     30 * 24 * time.Hour,
		IdleTTL:         7 * 24 * time.Hour,
		RequiredCookies: []string{"auth_token"},
	}, nil)
}

func validCookies() []domain.Cookie {
	return []domain.Cookie{
		{Name: "auth_token", Value: "valid-token", Domain: "platform.test", Path: "/", HTTPOnly: true, Secure: true, SameSite: "Lax"},
		{Name: "lang", Value: "en", Domain: "platform.test", Path: "/", Expires: sessionEpoch.Add(48 * time.Hour)},
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	t.Parallel()

	kv := newInMemoryKV()
	clock := newFakeClock(sessionEpoch)
	store := newTestSessionStore(kv, clock)
	proxy := mustProxies("10.0.0.2:8080:user:pass")[0]

	require.NoError(t, store.Save(context.Background(), "alice", validCookies(), &proxy))
	assert.True(t, store.IsValid(context.Background(), "alice"))

	record, err := store.Load(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Equal(t, domain.AccountID("alice"), record.AccountID)
	require.Len(t, record.Cookies, 2)
	for i, want := range validCookies() {
		got := record.Cookies[i]
		assert.Equal(t, want.Name, got.Name)
		assert.Equal(t, want.Value, got.Value)
		assert.Equal(t, want.Domain, got.Domain)
		assert.Equal(t, want.HTTPOnly, got.HTTPOnly)
		assert.Equal(t, want.SameSite, got.SameSite)
		assert.True(t, want.Expires.Equal(got.Expires))
	}
	assert.Equal(t, "10.0.0.2:8080:user:pass", record.BoundProxy)
	assert.True(t, record.SavedAt.Equal(sessionEpoch))
	assert.True(t, record.AbsoluteExpiry.Equal(sessionEpoch.Add(30*24*time.Hour)))
	assert.Equal(t, 1, record.UseCount)
}

func TestSessionStoreSealsPayload(t *testing.T) {
	t.Parallel()

	kv := newInMemoryKV()
	store := newTestSessionStore(kv, newFakeClock(sessionEpoch))
	require.NoError(t, store.Save(context.Background(), "alice", validCookies(), nil))

	raw, err := kv.Get(context.Background(), SessionKey("alice"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "valid-token")
	assert.NotContains(t, string(raw), "alice")
	assert.Contains(t, string(raw), "version = 1")
	assert.Equal(t, 30*24*time.Hour, kv.ttls[SessionKey("alice")])
}

func TestSessionStoreLoadSlidesIdleExpiry(t *testing.T) {
	t.Parallel()

	kv := newInMemoryKV()
	clock := newFakeClock(sessionEpoch)
	store := newTestSessionStore(kv, clock)
	require.NoError(t, store.Save(context.Background(), "alice", validCookies(), nil))

	clock.Advance(6 * 24 * time.Hour)
	record, err := store.Load(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.SessionExpiry.Equal(clock.Now().Add(7*24*time.Hour)))

	clock.Advance(6 * 24 * time.Hour)
	assert.True(t, store.IsValid(context.Background(), "alice"))

	record, err = store.Load(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 2, record.UseCount)
}

func TestSessionStoreIdleExpiryCappedByAbsolute(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(sessionEpoch)
	store := newTestSessionStore(newInMemoryKV(), clock)
	require.NoError(t, store.Save(context.Background(), "alice", validCookies(), nil))

	var record *domain.SessionRecord
	for i := 0; i < 4; i++ {
		clock.Advance(6 * 24 * time.Hour)
		var err error
		record, err = store.Load(context.Background(), "alice")
		require.NoError(t, err)
		require.NotNil(t, record)
	}
	assert.True(t, record.SessionExpiry.Equal(record.AbsoluteExpiry))

	clock.Advance(6 * 24 * time.Hour)
	assert.False(t, store.IsValid(context.Background(), "alice"))
}

func TestSessionStoreExpiryIsIdempotent(t *testing.T) {
	t.Parallel()

	kv := newInMemoryKV()
	clock := newFakeClock(sessionEpoch)
	store := newTestSessionStore(kv, clock)
	require.NoError(t, store.Save(context.Background(), "alice", validCookies(), nil))

	clock.Advance(31 * 24 * time.Hour)

	for i := 0; i < 3; i++ {
		assert.False(t, store.IsValid(context.Background(), "alice"))
		record, err := store.Load(context.Background(), "alice")
		require.NoError(t, err)
		assert.Nil(t, record)
	}

	keys, err := kv.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSessionStoreIsValidRequiresCookies(t *testing.T) {
	t.Parallel()

	store := newTestSessionStore(newInMemoryKV(), newFakeClock(sessionEpoch))
	require.NoError(t, store.Save(context.Background(), "alice", []domain.Cookie{{Name: "lang", Value: "en"}}, nil))
	require.NoError(t, store.Save(context.Background(), "bob", []domain.Cookie{{Name: "auth_token", Value: ""}}, nil))

	assert.False(t, store.IsValid(context.Background(), "alice"))
	assert.False(t, store.IsValid(context.Background(), "bob"))
	assert.False(t, store.IsValid(context.Background(), "carol"))
}

func TestSessionStoreUndecodableRecordBehavesAsMissing(t *testing.T) {
	t.Parallel()

	kv := newInMemoryKV()
	clock := newFakeClock(sessionEpoch)
	store := newTestSessionStore(kv, clock)

	require.NoError(t, kv.Put(context.Background(), SessionKey("alice"), []byte("not toml at all ["), 0))
	require.NoError(t, store.Save(context.Background(), "bob", validCookies(), nil))
	bobData, err := kv.Get(context.Background(), SessionKey("bob"))
	require.NoError(t, err)
	require.NoError(t, kv.Put(context.Background(), SessionKey("carol"), bobData, 0))

	for _, id := range []domain.AccountID{"alice", "carol"} {
		assert.False(t, store.IsValid(context.Background(), id))
		record, err := store.Load(context.Background(), id)
		require.NoError(t, err)
		assert.Nil(t, record)
	}

	purged, err := store.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	keys, err := kv.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{SessionKey("bob")}, keys)
}

func TestSessionStoreListAllAndPurge(t *testing.T) {
	t.Parallel()

	kv := newInMemoryKV()
	clock := newFakeClock(sessionEpoch)
	store := newTestSessionStore(kv, clock)
	proxy := mustProxies("10.0.0.2:8080:user:pass")[0]

	require.NoError(t, store.Save(context.Background(), "bob", validCookies(), &proxy))
	clock.Advance(10 * 24 * time.Hour)
	require.NoError(t, store.Save(context.Background(), "alice", validCookies(), nil))

	summaries, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, domain.AccountID("alice"), summaries[0].AccountID)
	assert.True(t, summaries[0].Valid)
	assert.Equal(t, domain.AccountID("bob"), summaries[1].AccountID)
	assert.False(t, summaries[1].Valid)
	assert.Equal(t, "10.0.0.2:8080", summaries[1].BoundProxy)
	assert.Equal(t, 2, summaries[1].CookieCount)

	purged, err := store.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	purged, err = store.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, purged)

	require.NoError(t, store.Delete(context.Background(), "alice"))
	require.NoError(t, store.Delete(context.Background(), "alice"))
	summaries, err = store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestSessionStoreSummaryShowsEndpointForEscapedProxies(t *testing.T) {
	t.Parallel()

	store := newTestSessionStore(newInMemoryKV(), newFakeClock(sessionEpoch))
	ipv6 := domain.ProxyRecord{Address: "2001:db8::1", Port: 3128, Username: "u", Password: "p"}
	colon := domain.ProxyRecord{Address: "10.0.0.3", Port: 8080, Username: "u", Password: "pa:ss"}

	require.NoError(t, store.Save(context.Background(), "alice", validCookies(), &ipv6))
	require.NoError(t, store.Save(context.Background(), "bob", validCookies(), &colon))

	summaries, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "[2001:db8::1]:3128", summaries[0].BoundProxy)
	assert.Equal(t, "10.0.0.3:8080", summaries[1].BoundProxy)

	record, err := store.Load(context.Background(), "bob")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.BoundTo(colon.String()))
}
