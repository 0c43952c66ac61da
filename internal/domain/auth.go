package domain

type AuthMethod string

const (
	AuthMethodSession    AuthMethod = "session"
	AuthMethodCredential AuthMethod = "credential"
)

type Auth struct {
	// SecretRef points to the secret-store entry holding the account password.
	SecretRef string
	// SeedRef points to the secret-store entry holding the TOTP seed, if any.
	SeedRef string
}

type AuthState string

const (
	AuthStateStart            AuthState = "START"
	AuthStateProxyBound       AuthState = "PROXY_BOUND"
	AuthStateSessionAttempted AuthState = "SESSION_ATTEMPTED"
	AuthStateCredentialLogin  AuthState = "CREDENTIAL_LOGIN"
	AuthStateTwoFactor        AuthState = "TWO_FACTOR"
	AuthStateAuthenticated    AuthState = "AUTHENTICATED"
	AuthStateFailed           AuthState = "FAILED"
)

// PageState is what the target page looks like after a login step.
type PageState string

const (
	PageLoggedIn      PageState = "logged_in"
	PageSecondFactor  PageState = "second_factor"
	PageSuspended     PageState = "suspended"
	PageChallenge     PageState = "challenge"
	PageLoginRejected PageState = "login_rejected"
	PageUnknown       PageState = "unknown"
)
