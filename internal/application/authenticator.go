package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/bnema/accountctl/internal/ports"
	"go.uber.org/zap"
)

const (
	totpPeriod           = 30 * time.Second
	totpMinRemaining     = 3 * time.Second
	secondFactorAttempts = 2
	defaultOpTimeout     = 30 * time.Second
	pageCheckInterval    = 500 * time.Millisecond
)

type AuthResult struct {
	Session       ports.BrowserSession
	Method        domain.AuthMethod
	SessionReused bool
	// SecondFactorUsed marks a credential login that passed a one-time code.
	SecondFactorUsed bool
	// Proxy is nil when the session runs without a proxy.
	Proxy *domain.ProxyRecord
}

type AuthenticatorOptions struct {
	Platform         domain.Platform
	OperationTimeout time.Duration
	// RequireProxy fails the account with resource_exhausted when no proxy can
	// be resolved instead of continuing on a direct connection.
	RequireProxy bool
	Clock        ports.Clock
	// Sleep waits for d or until ctx is done. Defaults to a timer-based wait.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *zap.Logger
}

// Authenticator drives one account from START to AUTHENTICATED, preferring a
// cached session and falling back to credential and second-factor login.
type Authenticator struct {
	proxies  *ProxyAllocator
	sessions *SessionStore
	driver   ports.BrowserDriver
	codes    ports.CodeGenerator

	platform     domain.Platform
	opTimeout    time.Duration
	requireProxy bool
	clock        ports.Clock
	sleep        func(ctx context.Context, d time.Duration) error
	logger       *zap.Logger
}

func NewAuthenticator(proxies *ProxyAllocator, sessions *SessionStore, driver ports.BrowserDriver, codes ports.CodeGenerator, opts AuthenticatorOptions) *Authenticator {
	a := &Authenticator{
		proxies:      proxies,
		sessions:     sessions,
		driver:       driver,
		codes:        codes,
		platform:     opts.Platform,
		opTimeout:    opts.OperationTimeout,
		requireProxy: opts.RequireProxy,
		clock:        opts.Clock,
		sleep:        opts.Sleep,
		logger:       opts.Logger,
	}
	if a.opTimeout <= 0 {
		a.opTimeout = defaultOpTimeout
	}
	if a.clock == nil {
		a.clock = ports.SystemClock{}
	}
	if a.sleep == nil {
		a.sleep = sleepContext
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}

	return a
}

// authRun carries the state of a single Authenticate call.
type authRun struct {
	cred   domain.AccountCredential
	state  domain.AuthState
	logger *zap.Logger
}

func (r *authRun) transition(to domain.AuthState, method domain.AuthMethod) {
	r.logger.Info("auth transition",
		zap.String("account", string(r.cred.ID)),
		zap.String("from", string(r.state)),
		zap.String("to", string(to)),
		zap.String("method", string(method)),
	)
	r.state = to
}

// fail ends the run. A failure that may stem from a stop request is reported
// as stopped once ctx is done.
func (r *authRun) fail(ctx context.Context, kind domain.ErrorKind, reason string, err error) error {
	if interruptible(kind) {
		if stopErr := checkpoint(ctx); stopErr != nil {
			kind, err = domain.KindStopped, stopErr
		}
	}
	r.transition(domain.AuthStateFailed, "")
	return domain.NewAccountError(r.cred.ID, kind, reason, err)
}

func interruptible(kind domain.ErrorKind) bool {
	return kind == domain.KindTransientDriver || kind == domain.KindSecondFactorFailed
}

// Authenticate returns an authenticated browser session for cred. logger
// receives the transition log; nil uses the authenticator's logger. Failures
// are *domain.AccountError values.
func (a *Authenticator) Authenticate(ctx context.Context, cred domain.AccountCredential, logger *zap.Logger) (AuthResult, error) {
	if logger == nil {
		logger = a.logger
	}
	run := &authRun{cred: cred, state: domain.AuthStateStart, logger: logger}

	proxy, err := a.resolveProxy(ctx, run)
	if err != nil {
		return AuthResult{}, err
	}
	run.transition(domain.AuthStateProxyBound, "")

	if err := checkpoint(ctx); err != nil {
		return AuthResult{}, run.fail(ctx, domain.KindStopped, "stopped before session attempt", err)
	}

	run.transition(domain.AuthStateSessionAttempted, "")
	session, err := a.trySession(ctx, run, proxy)
	if err != nil {
		return AuthResult{}, err
	}
	if session != nil {
		run.transition(domain.AuthStateAuthenticated, domain.AuthMethodSession)
		return AuthResult{Session: session, Method: domain.AuthMethodSession, SessionReused: true, Proxy: proxy}, nil
	}

	if err := checkpoint(ctx); err != nil {
		return AuthResult{}, run.fail(ctx, domain.KindStopped, "stopped before credential login", err)
	}
	if !cred.HasSecret() {
		return AuthResult{}, run.fail(ctx, domain.KindNoCredential, "no valid session and no password on file", nil)
	}

	return a.credentialLogin(ctx, run, proxy)
}

func (a *Authenticator) resolveProxy(ctx context.Context, run *authRun) (*domain.ProxyRecord, error) {
	if a.proxies == nil {
		return nil, nil
	}

	record, assigned, err := a.proxies.Resolve(ctx, run.cred.ID)
	if err != nil {
		if a.requireProxy {
			return nil, run.fail(ctx, domain.KindOf(err), "no proxy could be bound", err)
		}
		run.logger.Warn("proxy unavailable, continuing without proxy",
			zap.String("account", string(run.cred.ID)),
			zap.Error(err),
		)
		return nil, nil
	}
	if assigned {
		run.logger.Info("proxy auto-assigned",
			zap.String("account", string(run.cred.ID)),
			zap.String("proxy", record.Endpoint()),
		)
	}

	return &record, nil
}

// trySession reuses the cached session when it is valid and still logged in.
// Any failure deletes the cached session and returns nil, except a suspension
// or challenge page, which ends the run.
func (a *Authenticator) trySession(ctx context.Context, run *authRun, proxy *domain.ProxyRecord) (ports.BrowserSession, error) {
	accountID := run.cred.ID
	if a.sessions == nil || !a.sessions.IsValid(ctx, accountID) {
		return nil, nil
	}

	discard := func(reason string, err error) {
		run.logger.Info("cached session discarded",
			zap.String("account", string(accountID)),
			zap.String("reason", reason),
			zap.Error(err),
		)
		if delErr := a.sessions.Delete(ctx, accountID); delErr != nil {
			run.logger.Warn("delete stale session", zap.String("account", string(accountID)), zap.Error(delErr))
		}
	}

	record, err := a.sessions.Load(ctx, accountID)
	if err != nil || record == nil {
		return nil, nil
	}

	if !record.BoundTo(proxyString(proxy)) {
		discard("proxy mismatch", nil)
		return nil, nil
	}

	session, err := a.newSession(ctx, proxy)
	if err != nil {
		discard("open browser session", err)
		return nil, nil
	}

	err = a.op(ctx, func(ctx context.Context) error {
		return session.AddCookies(ctx, record.Cookies)
	})
	if err == nil {
		err = a.op(ctx, func(ctx context.Context) error {
			return session.Navigate(ctx, a.platform.HomeURL)
		})
	}
	if err == nil {
		err = a.act(ctx, session, a.platform.Selectors.LoggedIn, domain.Exists())
	}
	if err != nil {
		page := a.interstitial(ctx, session)
		_ = session.Close()
		discard("session rejected", err)
		if page != domain.PageUnknown {
			return nil, a.pageFailure(ctx, run, page)
		}
		return nil, nil
	}

	return session, nil
}

func (a *Authenticator) credentialLogin(ctx context.Context, run *authRun, proxy *domain.ProxyRecord) (AuthResult, error) {
	run.transition(domain.AuthStateCredentialLogin, "")

	session, err := a.newSession(ctx, proxy)
	if err != nil {
		return AuthResult{}, run.fail(ctx, domain.KindTransientDriver, "open browser session", err)
	}

	result, err := a.login(ctx, run, session, proxy)
	if err != nil {
		_ = session.Close()
		return AuthResult{}, err
	}

	return result, nil
}

func (a *Authenticator) login(ctx context.Context, run *authRun, session ports.BrowserSession, proxy *domain.ProxyRecord) (AuthResult, error) {
	selectors := a.platform.Selectors

	if err := a.op(ctx, func(ctx context.Context) error {
		return session.Navigate(ctx, a.platform.LoginURL)
	}); err != nil {
		return AuthResult{}, run.fail(ctx, domain.KindTransientDriver, "open login page", err)
	}
	if page := a.interstitial(ctx, session); page != domain.PageUnknown {
		return AuthResult{}, a.pageFailure(ctx, run, page)
	}

	steps := []struct {
		name      string
		selectors domain.SelectorSet
		action    domain.Action
	}{
		{name: "type identifier", selectors: selectors.Username, action: domain.Type(loginName(run.cred))},
		{name: "type password", selectors: selectors.Password, action: domain.Type(run.cred.Secret)},
		{name: "submit login form", selectors: selectors.Submit, action: domain.Click()},
	}
	for _, step := range steps {
		if err := a.act(ctx, session, step.selectors, step.action); err != nil {
			if page := a.interstitial(ctx, session); page != domain.PageUnknown {
				return AuthResult{}, a.pageFailure(ctx, run, page)
			}
			return AuthResult{}, run.fail(ctx, domain.KindTransientDriver, step.name, err)
		}
	}

	secondFactorUsed := false
	switch page := a.classify(ctx, session); page {
	case domain.PageLoggedIn:
	case domain.PageSecondFactor:
		if err := a.secondFactor(ctx, run, session); err != nil {
			return AuthResult{}, err
		}
		secondFactorUsed = true
	default:
		return AuthResult{}, a.pageFailure(ctx, run, page)
	}

	a.persistSession(ctx, run, session, proxy)
	run.transition(domain.AuthStateAuthenticated, domain.AuthMethodCredential)

	return AuthResult{
		Session:          session,
		Method:           domain.AuthMethodCredential,
		SecondFactorUsed: secondFactorUsed,
		Proxy:            proxy,
	}, nil
}

func (a *Authenticator) secondFactor(ctx context.Context, run *authRun, session ports.BrowserSession) error {
	run.transition(domain.AuthStateTwoFactor, "")

	if !run.cred.HasSecondFactor() {
		return run.fail(ctx, domain.KindNoCredential, "second factor requested but no seed on file", nil)
	}
	seed := domain.NormalizeSecondFactorSeed(run.cred.SecondFactorSeed)
	if err := domain.ValidateSecondFactorSeed(seed); err != nil {
		return run.fail(ctx, domain.KindInvalidSecondFactorSeed, "second factor seed rejected", err)
	}

	submit := a.platform.Selectors.SecondFactorSubmit
	if submit.Empty() {
		submit = a.platform.Selectors.Submit
	}

	var lastErr error
	for attempt := 0; attempt < secondFactorAttempts; attempt++ {
		code, err := a.secondFactorCode(ctx, seed, attempt > 0)
		if err != nil {
			if ctxErr := checkpoint(ctx); ctxErr != nil {
				return run.fail(ctx, domain.KindStopped, "stopped during second factor", ctxErr)
			}
			return run.fail(ctx, domain.KindSecondFactorFailed, "derive one-time code", err)
		}

		if err := a.act(ctx, session, a.platform.Selectors.SecondFactorInput, domain.Type(code)); err != nil {
			if page := a.interstitial(ctx, session); page != domain.PageUnknown {
				return a.pageFailure(ctx, run, page)
			}
			lastErr = err
			continue
		}
		if err := a.act(ctx, session, submit, domain.Click()); err != nil {
			lastErr = err
			continue
		}

		switch page := a.classify(ctx, session); page {
		case domain.PageLoggedIn:
			run.logger.Info("second factor accepted",
				zap.String("account", string(run.cred.ID)),
				zap.Int("attempt", attempt+1),
			)
			return nil
		case domain.PageSuspended, domain.PageChallenge:
			return a.pageFailure(ctx, run, page)
		default:
			lastErr = fmt.Errorf("code not accepted (page %s)", page)
			run.logger.Info("second factor attempt rejected",
				zap.String("account", string(run.cred.ID)),
				zap.Int("attempt", attempt+1),
			)
		}
	}

	return run.fail(ctx, domain.KindSecondFactorFailed, "one-time code rejected after retry", lastErr)
}

// secondFactorCode derives a code with enough of its window left to be typed
// and submitted. fresh forces a wait for the next window.
func (a *Authenticator) secondFactorCode(ctx context.Context, seed string, fresh bool) (string, error) {
	now := a.clock.Now()
	remaining := totpPeriod - time.Duration(now.UnixNano()%int64(totpPeriod))
	if fresh || remaining < totpMinRemaining {
		if err := a.sleep(ctx, remaining); err != nil {
			return "", err
		}
		now = a.clock.Now()
	}

	return a.codes.Code(seed, now)
}

// classify checks the page for each known outcome until one matches or the
// operation timeout elapses.
func (a *Authenticator) classify(ctx context.Context, session ports.BrowserSession) domain.PageState {
	selectors := a.platform.Selectors
	checks := []struct {
		state domain.PageState
		set   domain.SelectorSet
	}{
		{state: domain.PageSuspended, set: selectors.Suspended},
		{state: domain.PageChallenge, set: selectors.Challenge},
		{state: domain.PageSecondFactor, set: selectors.SecondFactorPrompt},
		{state: domain.PageLoggedIn, set: selectors.LoggedIn},
		{state: domain.PageLoginRejected, set: selectors.LoginError},
	}

	deadline := a.clock.Now().Add(a.opTimeout)
	for {
		for _, check := range checks {
			if check.set.Empty() {
				continue
			}
			if err := a.act(ctx, session, check.set, domain.Exists()); err == nil {
				return check.state
			}
		}

		if ctx.Err() != nil || !a.clock.Now().Before(deadline) {
			return domain.PageUnknown
		}
		if err := a.sleep(ctx, pageCheckInterval); err != nil {
			return domain.PageUnknown
		}
	}
}

// interstitial checks once for the suspension and challenge pages, which the
// platform may show in place of any page.
func (a *Authenticator) interstitial(ctx context.Context, session ports.BrowserSession) domain.PageState {
	if ctx.Err() != nil {
		return domain.PageUnknown
	}

	selectors := a.platform.Selectors
	checks := []struct {
		state domain.PageState
		set   domain.SelectorSet
	}{
		{state: domain.PageSuspended, set: selectors.Suspended},
		{state: domain.PageChallenge, set: selectors.Challenge},
	}
	for _, check := range checks {
		if check.set.Empty() {
			continue
		}
		if err := a.act(ctx, session, check.set, domain.Exists()); err == nil {
			return check.state
		}
	}

	return domain.PageUnknown
}

func (a *Authenticator) pageFailure(ctx context.Context, run *authRun, page domain.PageState) error {
	switch page {
	case domain.PageSuspended:
		return run.fail(ctx, domain.KindAccountSuspended, "platform reports the account as suspended", nil)
	case domain.PageChallenge:
		return run.fail(ctx, domain.KindChallengeRequired, "platform requires an interactive challenge", nil)
	case domain.PageLoginRejected:
		return run.fail(ctx, domain.KindBadCredentials, "platform rejected the credentials", nil)
	default:
		if err := checkpoint(ctx); err != nil {
			return run.fail(ctx, domain.KindStopped, "stopped while waiting for login result", err)
		}
		return run.fail(ctx, domain.KindTransientDriver, "login result not recognised", nil)
	}
}

func (a *Authenticator) persistSession(ctx context.Context, run *authRun, session ports.BrowserSession, proxy *domain.ProxyRecord) {
	if a.sessions == nil {
		return
	}

	var cookies []domain.Cookie
	err := a.op(ctx, func(ctx context.Context) error {
		var err error
		cookies, err = session.CurrentCookies(ctx)
		return err
	})
	if err == nil {
		err = a.sessions.Save(ctx, run.cred.ID, cookies, proxy)
	}
	if err != nil {
		run.logger.Warn("session not cached", zap.String("account", string(run.cred.ID)), zap.Error(err))
	}
}

func (a *Authenticator) newSession(ctx context.Context, proxy *domain.ProxyRecord) (ports.BrowserSession, error) {
	var session ports.BrowserSession
	err := a.op(ctx, func(ctx context.Context) error {
		var err error
		session, err = a.driver.NewSession(ctx, proxy)
		return err
	})
	return session, err
}

func (a *Authenticator) act(ctx context.Context, session ports.BrowserSession, selectors domain.SelectorSet, action domain.Action) error {
	if selectors.Empty() {
		return fmt.Errorf("%w: no selectors configured for %s", domain.ErrElementNotFound, action.Kind)
	}
	return a.op(ctx, func(ctx context.Context) error {
		_, err := session.FindAndAct(ctx, selectors, action)
		return err
	})
}

// op runs fn under the per-operation timeout.
func (a *Authenticator) op(ctx context.Context, fn func(ctx context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()

	err := fn(opCtx)
	if err != nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("operation timed out after %s: %w", a.opTimeout, err)
	}
	return err
}

func loginName(cred domain.AccountCredential) string {
	return domain.Account{ID: cred.ID, Login: cred.Login}.LoginName()
}

func proxyString(proxy *domain.ProxyRecord) string {
	if proxy == nil {
		return ""
	}
	return proxy.String()
}

// checkpoint reports a stop request observed through ctx.
func checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrJobStopped, err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
