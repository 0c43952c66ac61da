package application

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/bnema/accountctl/internal/ports"
	"go.uber.org/zap"
)

// ProxyAllocator binds each account to exactly one proxy from a fixed pool.
// Every read-modify-write of the assignment table happens under mu, so no
// proxy is ever bound to two accounts.
type ProxyAllocator struct {
	proxies []domain.ProxyRecord
	byKey   map[string]int
	repo    ports.ProxyAssignmentRepository
	logger  *zap.Logger

	mu sync.Mutex
}

func NewProxyAllocator(proxies []domain.ProxyRecord, repo ports.ProxyAssignmentRepository, logger *zap.Logger) *ProxyAllocator {
	if logger == nil {
		logger = zap.NewNop()
	}

	records := append([]domain.ProxyRecord(nil), proxies...)
	byKey := make(map[string]int, len(records))
	for i, record := range records {
		byKey[record.String()] = i
	}

	return &ProxyAllocator{
		proxies: records,
		byKey:   byKey,
		repo:    repo,
		logger:  logger,
	}
}

// Assign binds accountID to the proxy at index, or to the lowest free proxy when index is nil.
func (a *ProxyAllocator) Assign(ctx context.Context, accountID domain.AccountID, index *int) (domain.ProxyRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	table, err := a.load(ctx)
	if err != nil {
		return domain.ProxyRecord{}, fmt.Errorf("load proxy assignments: %w", err)
	}

	record, err := a.assignLocked(table, accountID, index)
	if err != nil {
		return domain.ProxyRecord{}, err
	}

	if err := a.repo.Save(ctx, table); err != nil {
		return domain.ProxyRecord{}, fmt.Errorf("save proxy assignments: %w", err)
	}

	a.logger.Info("proxy assigned",
		zap.String("account", string(accountID)),
		zap.String("proxy", record.Endpoint()),
	)

	return record, nil
}

func (a *ProxyAllocator) assignLocked(table map[domain.AccountID]string, accountID domain.AccountID, index *int) (domain.ProxyRecord, error) {
	if current, ok := table[accountID]; ok {
		return domain.ProxyRecord{}, fmt.Errorf("%w: %s is bound to %s", domain.ErrProxyAlreadyAssigned, accountID, a.endpointOf(current))
	}

	owners := ownersByProxy(table)

	if index != nil {
		record, err := a.recordAt(*index)
		if err != nil {
			return domain.ProxyRecord{}, err
		}
		if owner, taken := owners[record.String()]; taken {
			return domain.ProxyRecord{}, fmt.Errorf("%w: proxy %d (%s) belongs to %s", domain.ErrProxyBoundElsewhere, *index, record.Endpoint(), owner)
		}
		table[accountID] = record.String()
		return record, nil
	}

	for _, record := range a.proxies {
		if _, taken := owners[record.String()]; taken {
			continue
		}
		table[accountID] = record.String()
		return record, nil
	}

	return domain.ProxyRecord{}, fmt.Errorf("%w: all %d proxies are bound", domain.ErrNoProxyAvailable, len(a.proxies))
}

// Reassign atomically moves accountID to the proxy at newIndex.
func (a *ProxyAllocator) Reassign(ctx context.Context, accountID domain.AccountID, newIndex int) (domain.ProxyRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	record, err := a.recordAt(newIndex)
	if err != nil {
		return domain.ProxyRecord{}, err
	}

	table, err := a.load(ctx)
	if err != nil {
		return domain.ProxyRecord{}, fmt.Errorf("load proxy assignments: %w", err)
	}

	if owner, taken := ownersByProxy(table)[record.String()]; taken && owner != accountID {
		return domain.ProxyRecord{}, fmt.Errorf("%w: proxy %d (%s) belongs to %s", domain.ErrProxyBoundElsewhere, newIndex, record.Endpoint(), owner)
	}

	previous := table[accountID]
	table[accountID] = record.String()

	if err := a.repo.Save(ctx, table); err != nil {
		return domain.ProxyRecord{}, fmt.Errorf("save proxy assignments: %w", err)
	}

	a.logger.Info("proxy reassigned",
		zap.String("account", string(accountID)),
		zap.String("from", a.endpointOf(previous)),
		zap.String("to", record.Endpoint()),
	)

	return record, nil
}

func (a *ProxyAllocator) Release(ctx context.Context, accountID domain.AccountID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	table, err := a.load(ctx)
	if err != nil {
		return fmt.Errorf("load proxy assignments: %w", err)
	}

	current, ok := table[accountID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrProxyNotAssigned, accountID)
	}
	delete(table, accountID)

	if err := a.repo.Save(ctx, table); err != nil {
		return fmt.Errorf("save proxy assignments: %w", err)
	}

	a.logger.Info("proxy released",
		zap.String("account", string(accountID)),
		zap.String("proxy", a.endpointOf(current)),
	)

	return nil
}

// Lookup returns the bound proxy, or nil when the account is unbound or bound
// to a proxy that is no longer in the pool.
func (a *ProxyAllocator) Lookup(ctx context.Context, accountID domain.AccountID) (*domain.ProxyRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	table, err := a.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load proxy assignments: %w", err)
	}

	return a.lookupLocked(table, accountID), nil
}

func (a *ProxyAllocator) lookupLocked(table map[domain.AccountID]string, accountID domain.AccountID) *domain.ProxyRecord {
	current, ok := table[accountID]
	if !ok {
		return nil
	}
	i, known := a.byKey[current]
	if !known {
		return nil
	}

	record := a.proxies[i]
	return &record
}

// Resolve returns the account's proxy, auto-assigning the lowest free one when
// the account has none yet. assigned reports whether a new binding was made.
func (a *ProxyAllocator) Resolve(ctx context.Context, accountID domain.AccountID) (record domain.ProxyRecord, assigned bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	table, err := a.load(ctx)
	if err != nil {
		return domain.ProxyRecord{}, false, fmt.Errorf("load proxy assignments: %w", err)
	}

	if existing := a.lookupLocked(table, accountID); existing != nil {
		return *existing, false, nil
	}
	if _, stale := table[accountID]; stale {
		return domain.ProxyRecord{}, false, fmt.Errorf("%w: %s is bound to a proxy outside the pool", domain.ErrProxyAlreadyAssigned, accountID)
	}

	record, err = a.assignLocked(table, accountID, nil)
	if err != nil {
		return domain.ProxyRecord{}, false, err
	}
	if err := a.repo.Save(ctx, table); err != nil {
		return domain.ProxyRecord{}, false, fmt.Errorf("save proxy assignments: %w", err)
	}

	a.logger.Info("proxy assigned",
		zap.String("account", string(accountID)),
		zap.String("proxy", record.Endpoint()),
	)

	return record, true, nil
}

func (a *ProxyAllocator) Stats(ctx context.Context) (domain.ProxyStats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	table, err := a.load(ctx)
	if err != nil {
		return domain.ProxyStats{}, fmt.Errorf("load proxy assignments: %w", err)
	}

	assigned := 0
	for proxy := range ownersByProxy(table) {
		if _, known := a.byKey[proxy]; known {
			assigned++
		}
	}

	return domain.ProxyStats{
		Total:     len(a.proxies),
		Assigned:  assigned,
		Available: len(a.proxies) - assigned,
	}, nil
}

// Validate reports duplicate bindings and bindings to unknown proxies. With
// repair, the lexicographically first account keeps a duplicated proxy and all
// other offending bindings are dropped.
func (a *ProxyAllocator) Validate(ctx context.Context, repair bool) (domain.ProxyValidationReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	table, err := a.load(ctx)
	if err != nil {
		return domain.ProxyValidationReport{}, fmt.Errorf("load proxy assignments: %w", err)
	}

	accountsByProxy := map[string][]domain.AccountID{}
	for accountID, proxy := range table {
		accountsByProxy[proxy] = append(accountsByProxy[proxy], accountID)
	}

	report := domain.ProxyValidationReport{Checked: len(table)}
	for proxy, accounts := range accountsByProxy {
		sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })

		if _, known := a.byKey[proxy]; !known {
			for _, accountID := range accounts {
				report.Violations = append(report.Violations, domain.ProxyViolation{
					AccountID: accountID,
					Proxy:     a.endpointOf(proxy),
					Issue:     domain.ProxyIssueUnknown,
				})
			}
			continue
		}

		for _, accountID := range accounts[1:] {
			report.Violations = append(report.Violations, domain.ProxyViolation{
				AccountID: accountID,
				Proxy:     a.endpointOf(proxy),
				Issue:     domain.ProxyIssueDuplicate,
				KeptBy:    accounts[0],
			})
		}
	}

	sort.Slice(report.Violations, func(i, j int) bool {
		return report.Violations[i].AccountID < report.Violations[j].AccountID
	})

	if !repair || report.OK() {
		return report, nil
	}

	for _, violation := range report.Violations {
		delete(table, violation.AccountID)
	}
	if err := a.repo.Save(ctx, table); err != nil {
		return report, fmt.Errorf("save repaired proxy assignments: %w", err)
	}
	report.Repaired = true

	a.logger.Warn("proxy assignments repaired", zap.Int("dropped", len(report.Violations)))

	return report, nil
}

// Proxies returns the pool in index order.
func (a *ProxyAllocator) Proxies() []domain.ProxyRecord {
	return append([]domain.ProxyRecord(nil), a.proxies...)
}

func (a *ProxyAllocator) recordAt(index int) (domain.ProxyRecord, error) {
	if index < 0 || index >= len(a.proxies) {
		return domain.ProxyRecord{}, fmt.Errorf("%w: %d not in [0, %d)", domain.ErrInvalidProxyIndex, index, len(a.proxies))
	}
	return a.proxies[index], nil
}

func (a *ProxyAllocator) endpointOf(proxy string) string {
	if proxy == "" {
		return ""
	}
	if i, ok := a.byKey[proxy]; ok {
		return a.proxies[i].Endpoint()
	}
	if record, err := domain.ParseProxy(proxy); err == nil {
		return record.Endpoint()
	}
	return "<unparseable>"
}

func ownersByProxy(table map[domain.AccountID]string) map[string]domain.AccountID {
	owners := make(map[string]domain.AccountID, len(table))
	for accountID, proxy := range table {
		owners[proxy] = accountID
	}
	return owners
}

func (a *ProxyAllocator) load(ctx context.Context) (map[domain.AccountID]string, error) {
	table, err := a.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	if table == nil {
		table = map[domain.AccountID]string{}
	}
	return table, nil
}
