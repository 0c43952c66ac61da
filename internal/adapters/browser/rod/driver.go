package rod

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/bnema/accountctl/internal/ports"
	gorod "github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

const actionPollInterval = 250 * time.Millisecond

type Options struct {
	Headless bool
	// Bin overrides the browser executable used by the launcher.
	Bin string
	// ControlURL attaches to an already running browser instead of launching one.
	ControlURL string
}

// Driver shares one browser process between sessions. Every session gets its
// own browser context, so cookies and proxy settings never leak across
// accounts.
type Driver struct {
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	browser  *gorod.Browser
	launcher *launcher.Launcher
}

var _ ports.BrowserDriver = (*Driver)(nil)

func NewDriver(opts Options, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{opts: opts, logger: logger}
}

func (d *Driver) NewSession(ctx context.Context, proxy *domain.ProxyRecord) (ports.BrowserSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	browser, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}

	created, err := proto.TargetCreateBrowserContext{
		DisposeOnDetach: true,
		ProxyServer:     proxyServer(proxy),
	}.Call(browser.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	contextID := created.BrowserContextID

	session, err := d.openPage(ctx, browser, contextID, proxy)
	if err != nil {
		_ = proto.TargetDisposeBrowserContext{BrowserContextID: contextID}.Call(browser)
		return nil, err
	}

	return session, nil
}

func (d *Driver) openPage(ctx context.Context, browser *gorod.Browser, contextID proto.BrowserBrowserContextID, proxy *domain.ProxyRecord) (*Session, error) {
	target, err := proto.TargetCreateTarget{
		URL:              "about:blank",
		BrowserContextID: contextID,
	}.Call(browser.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	page, err := browser.PageFromTarget(target.TargetID)
	if err != nil {
		return nil, fmt.Errorf("attach page: %w", err)
	}

	pageCtx, cancel := context.WithCancel(context.Background())
	session := &Session{
		browser:   browser,
		page:      page.Context(pageCtx),
		contextID: contextID,
		cancel:    cancel,
	}

	if proxy != nil && proxy.HasAuth() {
		if err := session.handleProxyAuth(proxy.Username, proxy.Password); err != nil {
			_ = session.Close()
			return nil, err
		}
	}

	d.logger.Debug("browser session opened",
		zap.String("context", string(contextID)),
		zap.String("proxy", endpoint(proxy)),
	)

	return session, nil
}

func (d *Driver) connect(ctx context.Context) (*gorod.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser != nil {
		return d.browser, nil
	}

	controlURL := d.opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Context(ctx).Headless(d.opts.Headless)
		if d.opts.Bin != "" {
			l = l.Bin(d.opts.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
		d.launcher = l
	}

	browser := gorod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		d.cleanupLauncher()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	d.browser = browser
	return browser, nil
}

// Close shuts the shared browser down. Only a browser this driver launched is
// terminated; an attached one is just disconnected.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser == nil {
		return nil
	}

	var err error
	if d.launcher != nil {
		err = d.browser.Close()
		d.cleanupLauncher()
	}
	d.browser = nil

	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

func (d *Driver) cleanupLauncher() {
	if d.launcher == nil {
		return
	}
	d.launcher.Kill()
	d.launcher.Cleanup()
	d.launcher = nil
}

// Session is one isolated browser context with a single page.
type Session struct {
	browser   *gorod.Browser
	page      *gorod.Page
	contextID proto.BrowserBrowserContextID
	cancel    context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

var _ ports.BrowserSession = (*Session)(nil)

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	page := s.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for %s to load: %w", url, err)
	}

	return nil
}

func (s *Session) AddCookies(ctx context.Context, cookies []domain.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(cookies) == 0 {
		return nil
	}

	err := proto.StorageSetCookies{
		Cookies:          toCookieParams(cookies),
		BrowserContextID: s.contextID,
	}.Call(s.browser.Context(ctx))
	if err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}

	return nil
}

func (s *Session) CurrentCookies(ctx context.Context) ([]domain.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := proto.StorageGetCookies{BrowserContextID: s.contextID}.Call(s.browser.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}

	return fromNetworkCookies(res.Cookies), nil
}

// FindAndAct looks once for ActionExists. Other actions keep polling the
// selectors until one matches or ctx is done.
func (s *Session) FindAndAct(ctx context.Context, selectors domain.SelectorSet, action domain.Action) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if selectors.Empty() {
		return "", fmt.Errorf("%w: no selectors", domain.ErrElementNotFound)
	}

	page := s.page.Context(ctx)
	for {
		el, selector, err := firstMatch(page, selectors)
		if err != nil {
			return "", err
		}
		if el != nil {
			return act(el.Context(ctx), selector, action)
		}
		if action.Kind == domain.ActionExists {
			return "", fmt.Errorf("%w: %v", domain.ErrElementNotFound, []string(selectors))
		}

		timer := time.NewTimer(actionPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", fmt.Errorf("%w: %v: %w", domain.ErrElementNotFound, []string(selectors), ctx.Err())
		case <-timer.C:
		}
	}
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
		s.cancel()
		if err := (proto.TargetDisposeBrowserContext{BrowserContextID: s.contextID}).Call(s.browser); err != nil {
			errs = append(errs, fmt.Errorf("dispose browser context: %w", err))
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// handleProxyAuth answers proxy credential challenges for this page only.
func (s *Session) handleProxyAuth(username, password string) error {
	if err := (proto.FetchEnable{HandleAuthRequests: true}).Call(s.page); err != nil {
		return fmt.Errorf("enable proxy auth: %w", err)
	}

	page := s.page
	go page.EachEvent(
		func(e *proto.FetchRequestPaused) {
			_ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(page)
		},
		func(e *proto.FetchAuthRequired) {
			_ = proto.FetchContinueWithAuth{
				RequestID: e.RequestID,
				AuthChallengeResponse: &proto.FetchAuthChallengeResponse{
					Response: proto.FetchAuthChallengeResponseResponseProvideCredentials,
					Username: username,
					Password: password,
				},
			}.Call(page)
		},
	)()

	return nil
}

func firstMatch(page *gorod.Page, selectors domain.SelectorSet) (*gorod.Element, string, error) {
	for _, selector := range selectors {
		has, el, err := page.Has(selector)
		if err != nil {
			return nil, "", fmt.Errorf("query %q: %w", selector, err)
		}
		if has {
			return el, selector, nil
		}
	}
	return nil, "", nil
}

func act(el *gorod.Element, selector string, action domain.Action) (string, error) {
	switch action.Kind {
	case domain.ActionExists:
		return "", nil
	case domain.ActionClick:
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return "", fmt.Errorf("click %q: %w", selector, err)
		}
		return "", nil
	case domain.ActionType:
		if err := el.SelectAllText(); err != nil {
			return "", fmt.Errorf("focus %q: %w", selector, err)
		}
		if err := el.Input(action.Text); err != nil {
			return "", fmt.Errorf("type into %q: %w", selector, err)
		}
		return "", nil
	case domain.ActionRead:
		text, err := el.Text()
		if err != nil {
			return "", fmt.Errorf("read %q: %w", selector, err)
		}
		return text, nil
	default:
		return "", fmt.Errorf("unsupported action %q", action.Kind)
	}
}

func proxyServer(proxy *domain.ProxyRecord) string {
	if proxy == nil {
		return ""
	}
	return proxy.URLScheme() + "://" + proxy.Endpoint()
}

func endpoint(proxy *domain.ProxyRecord) string {
	if proxy == nil {
		return ""
	}
	return proxy.Endpoint()
}
