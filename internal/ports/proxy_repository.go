package ports

import (
	"context"

	"github.com/bnema/accountctl/internal/domain"
)

// ProxyAssignmentRepository persists the account to proxy-string table.
type ProxyAssignmentRepository interface {
	Load(ctx context.Context) (map[domain.AccountID]string, error)
	Save(ctx context.Context, assignments map[domain.AccountID]string) error
}
