package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/bnema/accountctl/internal/ports"
)

var _ ports.CredentialSource = (*AccountService)(nil)

// AccountService manages the account registry and the secrets it references.
type AccountService struct {
	repo  ports.AccountRepository
	store ports.SecretStore
}

func NewAccountService(repo ports.AccountRepository, store ports.SecretStore) *AccountService {
	return &AccountService{
		repo:  repo,
		store: store,
	}
}

func PasswordRef(id domain.AccountID) string {
	return fmt.Sprintf("accountctl/accounts/%s/password", id)
}

func SecondFactorSeedRef(id domain.AccountID) string {
	return fmt.Sprintf("accountctl/accounts/%s/totp_seed", id)
}

// SetCredential creates or updates an account and stores the provided
// secrets. Secrets written during a failed update are removed again.
func (s *AccountService) SetCredential(ctx context.Context, cmd SetCredentialCommand) error {
	seed := ""
	if strings.TrimSpace(cmd.SecondFactorSeed) != "" {
		seed = domain.NormalizeSecondFactorSeed(cmd.SecondFactorSeed)
		if err := domain.ValidateSecondFactorSeed(seed); err != nil {
			return err
		}
	}

	account, err := s.repo.GetByID(ctx, cmd.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrAccountNotFound) {
			return fmt.Errorf("get account by id: %w", err)
		}
		account = domain.Account{ID: cmd.ID, Name: fmt.Sprintf("Account %s", cmd.ID)}
	}
	originalAccount := account

	if name := strings.TrimSpace(cmd.Name); name != "" {
		account.Name = name
	}
	if login := strings.TrimSpace(cmd.Login); login != "" {
		account.Login = login
	}

	previousSecretRefs := uniqueSecretRefs(account.Auth.SecretRef, account.Auth.SeedRef)

	var written []string
	writes := []struct {
		value string
		ref   string
		field *string
	}{
		{value: cmd.Secret, ref: PasswordRef(cmd.ID), field: &account.Auth.SecretRef},
		{value: seed, ref: SecondFactorSeedRef(cmd.ID), field: &account.Auth.SeedRef},
	}
	for _, write := range writes {
		if write.value == "" {
			continue
		}
		if err := s.store.Put(ctx, write.ref, write.value); err != nil {
			if rollbackErr := s.deleteSecrets(ctx, newSecretRefs(written, previousSecretRefs)); rollbackErr != nil {
				return fmt.Errorf("store account secret and rollback stored secrets: %w", errors.Join(err, rollbackErr))
			}
			return fmt.Errorf("store account secret: %w", err)
		}
		written = append(written, write.ref)
		*write.field = write.ref
	}

	if err := s.repo.Save(ctx, account); err != nil {
		if rollbackErr := s.deleteSecrets(ctx, newSecretRefs(written, previousSecretRefs)); rollbackErr != nil {
			return fmt.Errorf("save account and rollback stored secrets: %w", errors.Join(err, rollbackErr))
		}
		return fmt.Errorf("save account: %w", err)
	}

	currentSecretRefs := uniqueSecretRefs(account.Auth.SecretRef, account.Auth.SeedRef)
	staleSecretRefs := newSecretRefs(previousSecretRefs, currentSecretRefs)
	for _, staleSecretRef := range staleSecretRefs {
		if err := s.store.Delete(ctx, staleSecretRef); err != nil {
			restoreAccount := originalAccount
			restoreAccount.Name = account.Name
			restoreAccount.Login = account.Login
			kept := append(remainingSecretRefs(staleSecretRefs, staleSecretRef), newSecretRefs(previousSecretRefs, staleSecretRefs)...)
			applySecretRefs(&restoreAccount, originalAccount.Auth, kept)

			var rollbackErr error
			if restoreErr := s.repo.Save(ctx, restoreAccount); restoreErr != nil {
				rollbackErr = errors.Join(rollbackErr, restoreErr)
			}
			if deleteErr := s.deleteSecrets(ctx, newSecretRefs(written, previousSecretRefs)); deleteErr != nil {
				rollbackErr = errors.Join(rollbackErr, deleteErr)
			}
			if rollbackErr != nil {
				return fmt.Errorf("delete previous account secret and rollback update: %w", errors.Join(err, rollbackErr))
			}
			return fmt.Errorf("delete previous account secret: %w", err)
		}
	}

	return nil
}

// RemoveCredential drops every secret of the account but keeps the account.
func (s *AccountService) RemoveCredential(ctx context.Context, id domain.AccountID) error {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get account by id: %w", err)
	}
	originalAuth := account.Auth

	secretRefs := uniqueSecretRefs(account.Auth.SecretRef, account.Auth.SeedRef)

	account.Auth = domain.Auth{}

	if err := s.repo.Save(ctx, account); err != nil {
		return fmt.Errorf("save account: %w", err)
	}

	for _, secretRef := range secretRefs {
		if err := s.store.Delete(ctx, secretRef); err != nil {
			restoreAccount := account
			applySecretRefs(&restoreAccount, originalAuth, remainingSecretRefs(secretRefs, secretRef))
			if restoreErr := s.repo.Save(ctx, restoreAccount); restoreErr != nil {
				return fmt.Errorf("delete account secret and restore remaining refs: %w", errors.Join(err, restoreErr))
			}
			return fmt.Errorf("delete account secret: %w", err)
		}
	}

	return nil
}

// RemoveAccount deletes the account's secrets, then the account itself.
func (s *AccountService) RemoveAccount(ctx context.Context, id domain.AccountID) error {
	if err := s.RemoveCredential(ctx, id); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}

	return nil
}

func (s *AccountService) Get(ctx context.Context, id domain.AccountID) (AccountStatus, error) {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return AccountStatus{}, fmt.Errorf("get account by id: %w", err)
	}

	return statusFromAccount(account), nil
}

func (s *AccountService) List(ctx context.Context) ([]AccountStatus, error) {
	accounts, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	statuses := make([]AccountStatus, 0, len(accounts))
	for _, account := range accounts {
		statuses = append(statuses, statusFromAccount(account))
	}

	return statuses, nil
}

// Credential resolves the login material of an account. Secrets missing
// from the store resolve to empty values.
func (s *AccountService) Credential(ctx context.Context, id domain.AccountID) (domain.AccountCredential, error) {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.AccountCredential{}, fmt.Errorf("get account by id: %w", err)
	}

	secret, err := s.secret(ctx, account.Auth.SecretRef)
	if err != nil {
		return domain.AccountCredential{}, fmt.Errorf("read account password: %w", err)
	}
	seed, err := s.secret(ctx, account.Auth.SeedRef)
	if err != nil {
		return domain.AccountCredential{}, fmt.Errorf("read second factor seed: %w", err)
	}

	return domain.AccountCredential{
		ID:               account.ID,
		Login:            account.LoginName(),
		Secret:           secret,
		SecondFactorSeed: seed,
	}, nil
}

func (s *AccountService) secret(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}

	value, err := s.store.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrSecretNotFound) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func (s *AccountService) deleteSecrets(ctx context.Context, secretRefs []string) error {
	var err error
	for _, secretRef := range secretRefs {
		if deleteErr := s.store.Delete(ctx, secretRef); deleteErr != nil {
			err = errors.Join(err, deleteErr)
		}
	}
	return err
}

func statusFromAccount(account domain.Account) AccountStatus {
	return AccountStatus{
		Account:         account,
		HasPassword:     account.Auth.SecretRef != "",
		HasSecondFactor: account.Auth.SeedRef != "",
	}
}

func uniqueSecretRefs(secretRefs ...string) []string {
	result := make([]string, 0, len(secretRefs))
	seen := make(map[string]struct{}, len(secretRefs))

	for _, secretRef := range secretRefs {
		if secretRef == "" {
			continue
		}
		if _, ok := seen[secretRef]; ok {
			continue
		}

		seen[secretRef] = struct{}{}
		result = append(result, secretRef)
	}

	return result
}

// newSecretRefs returns the refs of secretRefs that are not in existing.
func newSecretRefs(secretRefs, existing []string) []string {
	result := make([]string, 0, len(secretRefs))
	for _, secretRef := range secretRefs {
		found := false
		for _, other := range existing {
			if other == secretRef {
				found = true
				break
			}
		}
		if !found {
			result = append(result, secretRef)
		}
	}
	return result
}

func remainingSecretRefs(secretRefs []string, failed string) []string {
	for i, secretRef := range secretRefs {
		if secretRef == failed {
			return secretRefs[i:]
		}
	}
	return nil
}

// applySecretRefs points the account back at the refs of original that are
// still present in the store.
func applySecretRefs(account *domain.Account, original domain.Auth, secretRefs []string) {
	has := func(ref string) bool {
		for _, secretRef := range secretRefs {
			if ref != "" && secretRef == ref {
				return true
			}
		}
		return false
	}

	account.Auth = domain.Auth{}
	if has(original.SecretRef) {
		account.Auth.SecretRef = original.SecretRef
	}
	if has(original.SeedRef) {
		account.Auth.SeedRef = original.SeedRef
	}
}
