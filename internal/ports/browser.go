package ports

import (
	"context"
	"time"

	"github.com/bnema/accountctl/internal/domain"
)

type BrowserDriver interface {
	// NewSession opens an isolated browser context, egressing through proxy when it is not nil.
	NewSession(ctx context.Context, proxy *domain.ProxyRecord) (BrowserSession, error)
}

type BrowserSession interface {
	Navigate(ctx context.Context, url string) error
	AddCookies(ctx context.Context, cookies []domain.Cookie) error
	CurrentCookies(ctx context.Context) ([]domain.Cookie, error)
	// FindAndAct tries each selector in order and applies action to the first
	// match. It returns domain.ErrElementNotFound when none match.
	FindAndAct(ctx context.Context, selectors domain.SelectorSet, action domain.Action) (string, error)
	Close() error
}

// CodeGenerator derives time-based one-time codes.
type CodeGenerator interface {
	Code(seed string, at time.Time) (string, error)
}
