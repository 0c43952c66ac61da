package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/bnema/accountctl/internal/ports"
)

type inMemoryProxyRepo struct {
	mu      sync.Mutex
	table   map[domain.AccountID]string
	saves   int
	saveErr error
}

func (r *inMemoryProxyRepo) Load(_ context.Context) (map[domain.AccountID]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := make(map[domain.AccountID]string, len(r.table))
	for id, proxy := range r.table {
		table[id] = proxy
	}
	return table, nil
}

func (r *inMemoryProxyRepo) Save(_ context.Context, table map[domain.AccountID]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saveErr != nil {
		return r.saveErr
	}
	r.table = make(map[domain.AccountID]string, len(table))
	for id, proxy := range table {
		r.table[id] = proxy
	}
	r.saves++
	return nil
}

func (r *inMemoryProxyRepo) snapshot() map[domain.AccountID]string {
	table, _ := r.Load(context.Background())
	return table
}

type inMemoryKV struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func newInMemoryKV() *inMemoryKV {
	return &inMemoryKV{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (s *inMemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, key)
	}
	return append([]byte(nil), value...), nil
}

func (s *inMemoryKV) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = append([]byte(nil), value...)
	s.ttls[key] = ttl
	return nil
}

func (s *inMemoryKV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	delete(s.ttls, key)
	return nil
}

func (s *inMemoryKV) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

var sealedPrefix = []byte("sealed:")

// prefixSealer marks payloads instead of encrypting them.
type prefixSealer struct{}

func (prefixSealer) Seal(plaintext []byte) ([]byte, []byte, error) {
	return []byte("nonce"), append(append([]byte(nil), sealedPrefix...), plaintext...), nil
}

func (prefixSealer) Open(nonce, ciphertext []byte) ([]byte, error) {
	if string(nonce) != "nonce" || !bytes.HasPrefix(ciphertext, sealedPrefix) {
		return nil, errors.New("message authentication failed")
	}
	return bytes.TrimPrefix(ciphertext, sealedPrefix), nil
}

// fakeClock only moves when Advance or Sleep is called.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

// windowCodes derives a code from the 30 second window of at.
type windowCodes struct{}

func (windowCodes) Code(seed string, at time.Time) (string, error) {
	if seed == "" {
		return "", errors.New("empty seed")
	}
	return fmt.Sprintf("%06d", at.Unix()/30%1000000), nil
}

const (
	selUser        = "#user"
	selPass        = "#pass"
	selSubmit      = "#login"
	selHome        = "#home"
	selOTPPrompt   = "#otp-prompt"
	selOTP         = "#otp"
	selSuspended   = "#suspended"
	selChallenge   = "#challenge"
	selLoginError  = "#login-error"
	selMessage     = "#message"
	selMessageSend = "#send"

	homeURL  = "https://platform.test/home"
	loginURL = "https://platform.test/login"
)

func testPlatform() domain.Platform {
	return domain.Platform{
		Name:            "test",
		HomeURL:         homeURL,
		LoginURL:        loginURL,
		RequiredCookies: []string{"auth_token"},
		Selectors: domain.PlatformSelectors{
			Username:           domain.SelectorSet{selUser},
			Password:           domain.SelectorSet{selPass},
			Submit:             domain.SelectorSet{"#missing-button", selSubmit},
			SecondFactorInput:  domain.SelectorSet{selOTP},
			LoggedIn:           domain.SelectorSet{selHome},
			SecondFactorPrompt: domain.SelectorSet{selOTPPrompt},
			Suspended:          domain.SelectorSet{selSuspended},
			Challenge:          domain.SelectorSet{selChallenge},
			LoginError:         domain.SelectorSet{selLoginError},
			MessageInput:       domain.SelectorSet{selMessage},
			MessageSend:        domain.SelectorSet{selMessageSend},
		},
	}
}

// loginBehavior decides what the page shows after a click.
type loginBehavior func(page *fakePage, selector string)

// acceptPassword logs in when the password matches.
func acceptPassword(password string) loginBehavior {
	return func(page *fakePage, selector string) {
		if selector != selSubmit {
			return
		}
		if page.lastTyped(selPass) != password {
			page.show(selLoginError)
			return
		}
		page.loggedIn()
	}
}

// requireCode shows the second factor prompt after the password and accepts
// the code returned by accept.
func requireCode(accept func(code string, attempt int) bool) loginBehavior {
	attempts := 0
	return func(page *fakePage, selector string) {
		if selector != selSubmit {
			return
		}
		if !page.visible[selOTP] {
			page.show(selOTPPrompt, selOTP)
			return
		}
		attempts++
		if accept(page.lastTyped(selOTP), attempts) {
			page.hide(selOTPPrompt, selOTP, selLoginError)
			page.loggedIn()
			return
		}
		page.show(selLoginError)
	}
}

func showAfterSubmit(selectors ...string) loginBehavior {
	return func(page *fakePage, selector string) {
		if selector == selSubmit {
			page.show(selectors...)
		}
	}
}

type fakePage struct {
	visible     map[string]bool
	typed       map[string][]string
	clicks      []string
	navigations []string
	cookies     []domain.Cookie
	onClick     loginBehavior
	onType      loginBehavior
	closed      bool
}

func (p *fakePage) show(selectors ...string) {
	for _, selector := range selectors {
		p.visible[selector] = true
	}
}

func (p *fakePage) hide(selectors ...string) {
	for _, selector := range selectors {
		delete(p.visible, selector)
	}
}

func (p *fakePage) loggedIn() {
	p.show(selHome, selMessage, selMessageSend)
	p.cookies = []domain.Cookie{{Name: "auth_token", Value: "fresh-token", Domain: "platform.test", Path: "/"}}
}

func (p *fakePage) lastTyped(selector string) string {
	values := p.typed[selector]
	if len(values) == 0 {
		return ""
	}
	return values[len(values)-1]
}

type fakeSession struct {
	mu    sync.Mutex
	page  *fakePage
	proxy *domain.ProxyRecord
	// navigateErr fails every navigation to a matching url.
	navigateErr map[string]error
	onNavigate  func(page *fakePage, url string)
	// typing, when set, receives a signal and holds every type action until
	// ctx is done.
	typing chan struct{}
}

// interstitialOn replaces the page at url with the given selectors.
func interstitialOn(url string, selectors ...string) func(page *fakePage, navigated string) {
	return func(page *fakePage, navigated string) {
		if navigated != url {
			return
		}
		page.hide(selUser, selPass, selSubmit, selHome, selMessage, selMessageSend)
		page.show(selectors...)
	}
}

var _ ports.BrowserSession = (*fakeSession)(nil)

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.navigateErr[url]; err != nil {
		return err
	}
	s.page.navigations = append(s.page.navigations, url)
	if url == loginURL {
		s.page.show(selUser, selPass, selSubmit)
	}
	if s.onNavigate != nil {
		s.onNavigate(s.page, url)
	}
	return nil
}

func (s *fakeSession) AddCookies(ctx context.Context, cookies []domain.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.page.cookies = append(s.page.cookies, cookies...)
	for _, cookie := range cookies {
		if cookie.Name == "auth_token" && cookie.Value == "valid-token" {
			s.page.show(selHome, selMessage, selMessageSend)
		}
	}
	return nil
}

func (s *fakeSession) CurrentCookies(ctx context.Context) ([]domain.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]domain.Cookie(nil), s.page.cookies...), nil
}

func (s *fakeSession) FindAndAct(ctx context.Context, selectors domain.SelectorSet, action domain.Action) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if action.Kind == domain.ActionType && s.typing != nil {
		select {
		case s.typing <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return "", ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, selector := range selectors {
		if !s.page.visible[selector] {
			continue
		}
		switch action.Kind {
		case domain.ActionClick:
			s.page.clicks = append(s.page.clicks, selector)
			if s.page.onClick != nil {
				s.page.onClick(s.page, selector)
			}
		case domain.ActionType:
			s.page.typed[selector] = append(s.page.typed[selector], action.Text)
			if s.page.onType != nil {
				s.page.onType(s.page, selector)
			}
		case domain.ActionRead:
			return s.page.lastTyped(selector), nil
		}
		return "", nil
	}
	return "", fmt.Errorf("%w: %v", domain.ErrElementNotFound, []string(selectors))
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.page.closed = true
	return nil
}

// fakeDriver opens sessions whose pages follow behavior.
type fakeDriver struct {
	mu          sync.Mutex
	behavior    loginBehavior
	onType      loginBehavior
	newErr      error
	navigateErr map[string]error
	onNavigate  func(page *fakePage, url string)
	typing      chan struct{}
	sessions    []*fakeSession
}

var _ ports.BrowserDriver = (*fakeDriver)(nil)

func (d *fakeDriver) NewSession(ctx context.Context, proxy *domain.ProxyRecord) (ports.BrowserSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.newErr != nil {
		return nil, d.newErr
	}

	session := &fakeSession{
		page: &fakePage{
			visible: map[string]bool{},
			typed:   map[string][]string{},
			onClick: d.behavior,
			onType:  d.onType,
		},
		proxy:       proxy,
		navigateErr: d.navigateErr,
		onNavigate:  d.onNavigate,
		typing:      d.typing,
	}
	d.sessions = append(d.sessions, session)
	return session, nil
}

func (d *fakeDriver) opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *fakeDriver) last() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

func mustProxies(lines ...string) []domain.ProxyRecord {
	records, err := domain.ParseProxies(lines)
	if err != nil {
		panic(err)
	}
	return records
}

type inMemoryAccountRepo struct {
	mu       sync.Mutex
	accounts []domain.Account
}

func (r *inMemoryAccountRepo) GetByID(_ context.Context, id domain.AccountID) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, account := range r.accounts {
		if account.ID == id {
			return account, nil
		}
	}
	return domain.Account{}, domain.ErrAccountNotFound
}

func (r *inMemoryAccountRepo) List(_ context.Context) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]domain.Account(nil), r.accounts...), nil
}

func (r *inMemoryAccountRepo) Save(_ context.Context, account domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.accounts {
		if r.accounts[i].ID == account.ID {
			r.accounts[i] = account
			return nil
		}
	}
	r.accounts = append(r.accounts, account)
	return nil
}

func (r *inMemoryAccountRepo) Delete(_ context.Context, id domain.AccountID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.accounts {
		if r.accounts[i].ID == id {
			r.accounts = append(r.accounts[:i], r.accounts[i+1:]...)
			return nil
		}
	}
	return domain.ErrAccountNotFound
}

// staticCredentials serves fixed credentials keyed by account.
type staticCredentials map[domain.AccountID]domain.AccountCredential

func (c staticCredentials) Credential(_ context.Context, id domain.AccountID) (domain.AccountCredential, error) {
	cred, ok := c[id]
	if !ok {
		return domain.AccountCredential{}, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	return cred, nil
}
