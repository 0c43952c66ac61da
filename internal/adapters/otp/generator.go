package otp

import (
	"fmt"
	"time"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/bnema/accountctl/internal/ports"
	pquernaotp "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	Period = 30
	Digits = pquernaotp.DigitsSix
)

// Generator produces RFC 6238 codes: 30 second period, six digits, SHA-1.
type Generator struct{}

var _ ports.CodeGenerator = Generator{}

func (Generator) Code(seed string, at time.Time) (string, error) {
	normalized := domain.NormalizeSecondFactorSeed(seed)
	if err := domain.ValidateSecondFactorSeed(normalized); err != nil {
		return "", err
	}

	code, err := totp.GenerateCodeCustom(normalized, at, totp.ValidateOpts{
		Period:    Period,
		Digits:    Digits,
		Algorithm: pquernaotp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidSecondFactorSeed, err)
	}

	return code, nil
}
