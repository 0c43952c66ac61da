package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/bnema/accountctl/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	proxyAssignmentsPathKey = "proxies.assignments_path"
	proxyAssignmentsFile    = "proxy_assignments.toml"
)

// ProxyAssignmentRepository keeps the account to proxy table in a single
// TOML document that is rewritten as a whole on every save.
type ProxyAssignmentRepository struct {
	path string
	mu   *sync.RWMutex
}

var _ ports.ProxyAssignmentRepository = (*ProxyAssignmentRepository)(nil)

func NewProxyAssignmentRepository(cfg *viper.Viper) (*ProxyAssignmentRepository, error) {
	path, err := resolvePath(cfg, proxyAssignmentsPathKey, proxyAssignmentsFile)
	if err != nil {
		return nil, err
	}

	return &ProxyAssignmentRepository{path: path, mu: lockForPath(path)}, nil
}

func (r *ProxyAssignmentRepository) Load(ctx context.Context) (map[domain.AccountID]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return nil, err
	}

	table := make(map[domain.AccountID]string, len(file.Assignments))
	for accountID, proxy := range file.Assignments {
		table[domain.AccountID(accountID)] = proxy
	}

	return table, nil
}

func (r *ProxyAssignmentRepository) Save(ctx context.Context, assignments map[domain.AccountID]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file := proxyAssignmentFileSchema{Assignments: make(map[string]string, len(assignments))}
	file.applyDefaults()
	for accountID, proxy := range assignments {
		file.Assignments[string(accountID)] = proxy
	}

	return writeTOMLFile(r.path, file)
}

func (r *ProxyAssignmentRepository) readSchema() (proxyAssignmentFileSchema, error) {
	file := proxyAssignmentFileSchema{}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			file.applyDefaults()
			return file, nil
		}
		return proxyAssignmentFileSchema{}, fmt.Errorf("read proxy assignments file: %w", err)
	}

	if err := toml.Unmarshal(data, &file); err != nil {
		return proxyAssignmentFileSchema{}, fmt.Errorf("decode proxy assignments file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return proxyAssignmentFileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}
