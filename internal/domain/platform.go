package domain

import (
	"fmt"
	"strings"
)

// MaxSelectorStrategies bounds how many alternative selectors a set may carry.
const MaxSelectorStrategies = 5

// SelectorSet holds alternative selectors tried in order. Entries are opaque to
// the core and interpreted only by the browser driver.
type SelectorSet []string

func (s SelectorSet) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidSelectorSet)
	}
	if len(s) > MaxSelectorStrategies {
		return fmt.Errorf("%w: %d strategies, max %d", ErrInvalidSelectorSet, len(s), MaxSelectorStrategies)
	}
	for i, selector := range s {
		if strings.TrimSpace(selector) == "" {
			return fmt.Errorf("%w: entry %d is blank", ErrInvalidSelectorSet, i)
		}
	}
	return nil
}

func (s SelectorSet) Empty() bool {
	return len(s) == 0
}

type ActionKind string

const (
	ActionClick ActionKind = "click"
	ActionType  ActionKind = "type"
	ActionRead  ActionKind = "read"
	// ActionExists only checks that an element exists.
	ActionExists ActionKind = "exists"
)

type Action struct {
	Kind ActionKind
	Text string
}

func Click() Action { return Action{Kind: ActionClick} }
func Type(text string) Action { return Action{Kind: ActionType, Text: text} }
func Read() Action { return Action{Kind: ActionRead} }
func Exists() Action { return Action{Kind: ActionExists} }

type PlatformSelectors struct {
	Username           SelectorSet
	Password           SelectorSet
	Submit             SelectorSet
	SecondFactorInput  SelectorSet
	SecondFactorSubmit SelectorSet
	LoggedIn           SelectorSet
	SecondFactorPrompt SelectorSet
	Suspended          SelectorSet
	Challenge          SelectorSet
	LoginError         SelectorSet
	MessageInput       SelectorSet
	MessageSend        SelectorSet
}

// Platform describes the target site. Everything site-specific lives here as
// configuration.
type Platform struct {
	Name            string
	HomeURL         string
	LoginURL        string
	RequiredCookies []string
	Selectors       PlatformSelectors
}

func (p Platform) Validate() error {
	if strings.TrimSpace(p.HomeURL) == "" {
		return fmt.Errorf("platform home url is required")
	}
	if strings.TrimSpace(p.LoginURL) == "" {
		return fmt.Errorf("platform login url is required")
	}

	required := map[string]SelectorSet{
		"username":  p.Selectors.Username,
		"password":  p.Selectors.Password,
		"submit":    p.Selectors.Submit,
		"logged_in": p.Selectors.LoggedIn,
	}
	for name, set := range required {
		if err := set.Validate(); err != nil {
			return fmt.Errorf("platform selector %s: %w", name, err)
		}
	}

	optional := map[string]SelectorSet{
		"second_factor_input":  p.Selectors.SecondFactorInput,
		"second_factor_submit": p.Selectors.SecondFactorSubmit,
		"second_factor_prompt": p.Selectors.SecondFactorPrompt,
		"suspended":            p.Selectors.Suspended,
		"challenge":            p.Selectors.Challenge,
		"login_error":          p.Selectors.LoginError,
		"message_input":        p.Selectors.MessageInput,
		"message_send":         p.Selectors.MessageSend,
	}
	for name, set := range optional {
		if set.Empty() {
			continue
		}
		if err := set.Validate(); err != nil {
			return fmt.Errorf("platform selector %s: %w", name, err)
		}
	}

	return nil
}
