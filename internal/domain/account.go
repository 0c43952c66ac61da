package domain

import (
	"fmt"
	"regexp"
	"strings"
)

type AccountID string

type Account struct {
	ID    AccountID
	Name  string
	Login string
	Auth  Auth
}

// LoginName returns the identifier typed into the login form.
func (a Account) LoginName() string {
	if strings.TrimSpace(a.Login) != "" {
		return strings.TrimSpace(a.Login)
	}
	return string(a.ID)
}

type AccountCredential struct {
	ID               AccountID
	Login            string
	Secret           string
	SecondFactorSeed string
}

func (c AccountCredential) HasSecret() bool {
	return strings.TrimSpace(c.Secret) != ""
}

func (c AccountCredential) HasSecondFactor() bool {
	return strings.TrimSpace(c.SecondFactorSeed) != ""
}

var secondFactorSeedPattern = regexp.MustCompile(`^[A-Z2-7]+$`)

// NormalizeSecondFactorSeed strips spaces and dashes and upper-cases the seed.
func NormalizeSecondFactorSeed(seed string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "\t", "", "\n", "")
	return strings.ToUpper(replacer.Replace(seed))
}

// ValidateSecondFactorSeed accepts base32 seeds of 16 or 32 characters.
func ValidateSecondFactorSeed(seed string) error {
	normalized := NormalizeSecondFactorSeed(seed)
	if len(normalized) != 16 && len(normalized) != 32 {
		return fmt.Errorf("%w: length %d, want 16 or 32", ErrInvalidSecondFactorSeed, len(normalized))
	}
	if !secondFactorSeedPattern.MatchString(normalized) {
		return fmt.Errorf("%w: characters outside A-Z2-7", ErrInvalidSecondFactorSeed)
	}

	return nil
}

// NormalizeAccountIDs trims, drops empty ids and removes duplicates while keeping order.
func NormalizeAccountIDs(ids []AccountID) []AccountID {
	out := make([]AccountID, 0, len(ids))
	seen := make(map[AccountID]struct{}, len(ids))
	for _, id := range ids {
		trimmed := AccountID(strings.TrimSpace(string(id)))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}

	return out
}
