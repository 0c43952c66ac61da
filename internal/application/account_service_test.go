package application

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/bnema/accountctl/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	alicePasswordRef = "accountctl/accounts/alice/password"
	aliceSeedRef     = "accountctl/accounts/alice/totp_seed"
)

func TestAccountServiceSetCredentialCreatesAccount(t *testing.T) {
	repo := mocks.NewMockAccountRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewAccountService(repo, store)

	repo.EXPECT().GetByID(mockAnyContext(), domain.AccountID("alice")).Return(domain.Account{}, domain.ErrAccountNotFound)
	store.EXPECT().Put(mockAnyContext(), alicePasswordRef, "hunter2").Return(nil)
	store.EXPECT().Put(mockAnyContext(), aliceSeedRef, "JBSWY3DPEHPK3PXP").Return(nil)
	repo.EXPECT().Save(mockAnyContext(), domain.Account{
		ID:    "alice",
		Name:  "Account alice",
		Login: "alice@example.test",
		Auth:  domain.Auth{SecretRef: alicePasswordRef, SeedRef: aliceSeedRef},
	}).Return(nil)

	err := service.SetCredential(context.Background(), SetCredentialCommand{
		ID:               "alice",
		Login:            " alice@example.test ",
		Secret:           "hunter2",
		SecondFactorSeed: "jbsw y3dp ehpk 3pxp",
	})
	require.NoError(t, err)
}

func TestAccountServiceSetCredentialRejectsInvalidSeedBeforeStoring(t *testing.T) {
	repo := mocks.NewMockAccountRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewAccountService(repo, store)

	err := service.SetCredential(context.Background(), SetCredentialCommand{
		ID:               "alice",
		Secret:           "hunter2",
		SecondFactorSeed: "not-base32-1!",
	})
	require.ErrorIs(t, err, domain.ErrInvalidSecondFactorSeed)
}

func TestAccountServiceSetCredentialKeepsExistingSeed(t *testing.T) {
	repo := mocks.NewMockAccountRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewAccountService(repo, store)

	account := domain.Account{
		ID:   "alice",
		Name: "Main",
		Auth: domain.Auth{SecretRef: alicePasswordRef, SeedRef: aliceSeedRef},
	}
	repo.EXPECT().GetByID(mockAnyContext(), domain.AccountID("alice")).Return(account, nil)
	store.EXPECT().Put(mockAnyContext(), alicePasswordRef, "rotated").Return(nil)
	repo.EXPECT().Save(mockAnyContext(), domain.Account{
		ID:   "alice",
		Name: "Renamed",
		Auth: domain.Auth{SecretRef: alicePasswordRef, SeedRef: aliceSeedRef},
	}).Return(nil)

	err := service.SetCredential(context.Background(), SetCredentialCommand{ID: "alice", Name: "Renamed", Secret: "rotated"})
	require.NoError(t, err)
}

func TestAccountServiceSetCredentialRotationDeletesPreviousSecretRef(t *testing.T) {
	repo := mocks.NewMockAccountRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewAccountService(repo, store)

	account := domain.Account{ID: "alice", Name: "Main", Auth: domain.Auth{SecretRef: "legacy/alice"}}
	repo.EXPECT().GetByID(mockAnyContext(), domain.AccountID("alice")).Return(account, nil)
	store.EXPECT().Put(mockAnyContext(), alicePasswordRef, "hunter2").Return(nil)
	repo.EXPECT().Save(mockAnyContext(), domain.Account{
		ID:   "alice",
		Name: "Main",
		Auth: domain.Auth{SecretRef: alicePasswordRef},
	}).Return(nil)
	store.EXPECT().Delete(mockAnyContext(), "legacy/alice").Return(nil)

	err := service.SetCredential(context.Background(), SetCredentialCommand{ID: "alice", Secret: "hunter2"})
	require.NoError(t, err)
}

func TestAccountServiceSetCredentialRotationRestoresAccountWhenPreviousDeleteFails(t *testing.T) {
	repo := mocks.NewMockAccountRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewAccountService(repo, store)

	deleteErr := errors.New("delete old secret failed")
	account := domain.Account{ID: "alice", Name: "Main", Auth: domain.Auth{SecretRef: "legacy/alice"}}
	repo.EXPECT().GetByID(mockAnyContext(), domain.AccountID("alice")).Return(account, nil)
	store.EXPECT().Put(mockAnyContext(), alicePasswordRef, "hunter2").Return(nil)
	repo.EXPECT().Save(mockAnyContext(), domain.Account{
		ID:   "alice",
		Name: "Main",
		Auth: domain.Auth{SecretRef: alicePasswordRef},
	}).Return(nil)
	store.EXPECT().Delete(mockAnyContext(), "legacy/alice").Return(deleteErr)
	repo.EXPECT().Save(mockAnyContext(), account).Return(nil)
	store.EXPECT().Delete(mockAnyContext(), alicePasswordRef).Return(nil)

	err := service.SetCredential(context.Background(), SetCredentialCommand{ID: "alice", Secret: "hunter2"})
	require.ErrorIs(t, err, deleteErr)
}

func TestAccountServiceSetCredentialCompensatesWhenSeedPutFails(t *testing.T) {
	repo := mocks.NewMockAccountRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewAccountService(repo, store)

	putErr := errors.New("put failed")
	repo.EXPECT().GetByID(mockAnyContext(), domain.AccountID("alice")).Return(domain.Account{}, domain.ErrAccountNotFound)
	store.EXPECT().Put(mockAnyContext(), alicePasswordRef, "hunter2").Return(nil)
	store.EXPECT().Put(mockAnyContext(), aliceSeedRef, "JBSWY3DPEHPK3PXP").Return(putErr)
	store.EXPECT().Delete(mockAnyContext(), alicePasswordRef).Return(nil)

	err := service.SetCredential(context.Background(), SetCredentialCommand{
		ID:               "alice",
		Secret:           "hunter2",
		SecondFactorSeed: "JBSWY3DPEHPK3PXP",
	})
	require.ErrorIs(t, err, putErr)
}

func TestAccountServiceSetCredentialFailsWhenSaveFailsAndCompensatesSecretWrite(t *testing.T) {
	repo := mocks.NewMockAccountRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewAccountService(repo, store)

	saveErr := errors.New("save failed")
	rollbackErr := errors.New("rollback failed")
	repo.EXPECT().GetByID(mockAnyContext(), domain.AccountID("alice")).Return(domain.Account{}, domain.ErrAccountNotFound)
	store.EXPECT().Put(mockAnyContext(), alicePasswordRef, "hunter2").Return(nil)
	repo.EXPECT().Save(mockAnyContext(), mock.AnythingOfType("domain.Account")).Return(saveErr)
	store.EXPECT().Delete(mockAnyContext(), alicePasswordRef).Return(rollbackErr)

	err := service.SetCredential(context.Background(), SetCredentialCommand{ID: "alice", Secret: "hunter2"})
	require.ErrorIs(t, err, saveErr)
	require.ErrorIs(t, err, rollbackErr)
}

func TestAccountServiceSetCredentialReturnsRepositoryError(t *testing.T) {
	repo := mocks.NewMockAccountRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewAccountService(repo, store)

	repoErr := errors.New("disk failure")
	repo.EXPECT().GetByID(mockAnyContext(), domain.AccountID("alice")).Return(domain.Account{}, repoErr)

	err := service.SetCredential(context.Background(), SetCredentialCommand{ID: "alice", Secret: "hunter2"})
	require.ErrorIs(t, err, repoErr)
}

func TestAccountServiceRemoveCredentialDeletesBothSecrets(t *testing.T) {
	repo := mocks.NewMockAccountRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewAccountService(repo, store)

	account := domain.Account{
		ID:   "alice",
		Name: "Main",
		Auth: domain.Auth{SecretRef: alicePasswordRef, SeedRef: aliceSeedRef},
	}
	repo.EXPECT().GetByID(mockAnyContext(), domain.AccountID("alice")).Return(account, nil)
	repo.EXPECT().Save(mockAnyContext(), domain.Account{ID: "alice", Name: "Main"}).Return(nil)
	store.EXPECT().Delete(mockAnyContext(), alicePasswordRef).Return(nil)
	store.EXPECT().Delete(mockAnyContext(), aliceSeedRef).Return(nil)

	require.NoError(t, service.RemoveCredential(context.Background(), "alice"))
}

func TestAccountServiceRemoveCredentialRestoresOnlyRemainingRefAfterPartialDeleteFailure(t *testing.T) {
	repo := mocks.NewMockAccountRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewAccountService(repo, store)

	deleteErr := errors.New("delete seed failed")
	account := domain.Account{
		ID:   "alice",
		Name: "Main",
		Auth: domain.Auth{SecretRef: alicePasswordRef, SeedRef: aliceSeedRef},
	}
	repo.EXPECT().GetByID(mockAnyContext(), domain.AccountID("alice")).Return(account, nil)
	repo.EXPECT().Save(mockAnyContext(), domain.Account{ID: "alice", Name: "Main"}).Return(nil)
	store.EXPECT().Delete(mockAnyContext(), alicePasswordRef).Return(nil)
	store.EXPECT().Delete(mockAnyContext(), aliceSeedRef).Return(deleteErr)
	repo.EXPECT().Save(mockAnyContext(), domain.Account{
		ID:   "alice",
		Name: "Main",
		Auth: domain.Auth{SeedRef: aliceSeedRef},
	}).Return(nil)

	err := service.RemoveCredential(context.Background(), "alice")
	require.ErrorIs(t, err, deleteErr)
}

func TestAccountServiceRemoveAccount(t *testing.T) {
	repo := mocks.NewMockAccountRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewAccountService(repo, store)

	account := domain.Account{ID: "alice", Name: "Main", Auth: domain.Auth{SecretRef: alicePasswordRef}}
	repo.EXPECT().GetByID(mockAnyContext(), domain.AccountID("alice")).Return(account, nil)
	repo.EXPECT().Save(mockAnyContext(), domain.Account{ID: "alice", Name: "Main"}).Return(nil)
	store.EXPECT().Delete(mockAnyContext(), alicePasswordRef).Return(nil)
	repo.EXPECT().Delete(mockAnyContext(), domain.AccountID("alice")).Return(nil)

	require.NoError(t, service.RemoveAccount(context.Background(), "alice"))
}

func TestAccountServiceRemoveAccountMissing(t *testing.T) {
	repo := mocks.NewMockAccountRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewAccountService(repo, store)

	repo.EXPECT().GetByID(mockAnyContext(), domain.AccountID("ghost")).Return(domain.Account{}, domain.ErrAccountNotFound)

	err := service.RemoveAccount(context.Background(), "ghost")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAccountServiceCredentialResolvesSecrets(t *testing.T) {
	repo := mocks.NewMockAccountRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewAccountService(repo, store)

	account := domain.Account{ID: "alice", Auth: domain.Auth{SecretRef: alicePasswordRef, SeedRef: aliceSeedRef}}
	repo.EXPECT().GetByID(mockAnyContext(), domain.AccountID("alice")).Return(account, nil)
	store.EXPECT().Get(mockAnyContext(), alicePasswordRef).Return("hunter2", nil)
	store.EXPECT().Get(mockAnyContext(), aliceSeedRef).Return("", fmt.Errorf("pass show: %w", domain.ErrSecretNotFound))

	cred, err := service.Credential(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountCredential{ID: "alice", Login: "alice", Secret: "hunter2"}, cred)
	assert.False(t, cred.HasSecondFactor())
}

func TestAccountServiceCredentialReturnsStoreError(t *testing.T) {
	repo := mocks.NewMockAccountRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewAccountService(repo, store)

	storeErr := errors.New("keyring locked")
	account := domain.Account{ID: "alice", Login: "alice@example.test", Auth: domain.Auth{SecretRef: alicePasswordRef}}
	repo.EXPECT().GetByID(mockAnyContext(), domain.AccountID("alice")).Return(account, nil)
	store.EXPECT().Get(mockAnyContext(), alicePasswordRef).Return("", storeErr)

	_, err := service.Credential(context.Background(), "alice")
	require.ErrorIs(t, err, storeErr)
}

func TestAccountServiceCredentialMissingAccount(t *testing.T) {
	repo := mocks.NewMockAccountRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewAccountService(repo, store)

	repo.EXPECT().GetByID(mockAnyContext(), domain.AccountID("ghost")).Return(domain.Account{}, domain.ErrAccountNotFound)

	_, err := service.Credential(context.Background(), "ghost")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAccountServiceList(t *testing.T) {
	repo := mocks.NewMockAccountRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewAccountService(repo, store)

	repo.EXPECT().List(mockAnyContext()).Return([]domain.Account{
		{ID: "alice", Auth: domain.Auth{SecretRef: alicePasswordRef, SeedRef: aliceSeedRef}},
		{ID: "bob"},
	}, nil)

	statuses, err := service.List(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].HasPassword)
	assert.True(t, statuses[0].HasSecondFactor)
	assert.False(t, statuses[1].HasPassword)
	assert.False(t, statuses[1].HasSecondFactor)
}

func TestAccountServiceListReturnsRepositoryError(t *testing.T) {
	repo := mocks.NewMockAccountRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewAccountService(repo, store)

	listErr := errors.New("list failed")
	repo.EXPECT().List(mockAnyContext()).Return(nil, listErr)

	_, err := service.List(context.Background())
	require.ErrorIs(t, err, listErr)
}

func mockAnyContext() interface{} {
	return mock.Anything
}
