package application

import "github.com/bnema/accountctl/internal/domain"

type AccountStatus struct {
	Account         domain.Account
	HasPassword     bool
	HasSecondFactor bool
}
