package toml

import "fmt"

const (
	currentSchemaVersion                = 1
	currentProxyAssignmentSchemaVersion = 1
)

type fileSchema struct {
	Version  int             `toml:"version"`
	Accounts []accountSchema `toml:"accounts"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported accounts schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type accountSchema struct {
	ID    string     `toml:"id"`
	Name  string     `toml:"name"`
	Login string     `toml:"login,omitempty"`
	Auth  authSchema `toml:"auth"`
}

type authSchema struct {
	SecretRef string `toml:"secret_ref"`
	SeedRef   string `toml:"seed_ref,omitempty"`
}

type proxyAssignmentFileSchema struct {
	Version     int               `toml:"version"`
	Assignments map[string]string `toml:"assignments"`
}

func (s *proxyAssignmentFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentProxyAssignmentSchemaVersion
	}
	if s.Assignments == nil {
		s.Assignments = map[string]string{}
	}
}

func (s proxyAssignmentFileSchema) validateVersion() error {
	if s.Version > currentProxyAssignmentSchemaVersion {
		return fmt.Errorf("unsupported proxy assignment schema version %d (current %d)", s.Version, currentProxyAssignmentSchemaVersion)
	}

	return nil
}
