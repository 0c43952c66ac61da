package application

import "github.com/bnema/accountctl/internal/domain"

type SetCredentialCommand struct {
	ID    domain.AccountID
	Name  string
	Login string
	// Secret and SecondFactorSeed are left untouched when empty.
	Secret           string
	SecondFactorSeed string
}
