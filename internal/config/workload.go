package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bnema/accountctl/internal/domain"
	"gopkg.in/yaml.v3"
)

// LoadWorkload decodes a YAML workload file. Unknown keys are rejected.
func LoadWorkload(path string) (domain.WorkloadConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.WorkloadConfig{}, fmt.Errorf("read workload file: %w", err)
	}

	return ParseWorkload(data)
}

func ParseWorkload(data []byte) (domain.WorkloadConfig, error) {
	var cfg domain.WorkloadConfig

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.WorkloadConfig{}, nil
		}
		return domain.WorkloadConfig{}, fmt.Errorf("%w: decode workload: %w", domain.ErrInvalidWorkload, err)
	}

	return cfg, nil
}
