package service

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	secondsPerMinute = 60
	mbPerGB          = 1024
)

// MemorySize is a memory size in MB. Zero means unset.
type MemorySize int

// Timeout is a timeout in seconds. Zero means unset.
type Timeout int

// UnmarshalYAML accepts 512, "512", "512mb" and "1gb".
func (m *MemorySize) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseMemoryMB(node.Value)
	if err != nil {
		return err
	}
	*m = MemorySize(v)
	return nil
}

// UnmarshalYAML accepts 30, "30", "30s" and "2m".
func (t *Timeout) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseTimeoutSeconds(node.Value)
	if err != nil {
		return err
	}
	*t = Timeout(v)
	return nil
}

func parseTimeoutSeconds(s string) (int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}

	num, scale := s, 1
	switch {
	case strings.HasSuffix(s, "m"):
		num, scale = strings.TrimSuffix(s, "m"), secondsPerMinute
	case strings.HasSuffix(s, "s"):
		num = strings.TrimSuffix(s, "s")
	}

	v, err := parseCount(num)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}
	return v * scale, nil
}

func parseMemoryMB(s string) (int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}

	num, scale := s, 1
	switch {
	case strings.HasSuffix(s, "gb"):
		num, scale = strings.TrimSuffix(s, "gb"), mbPerGB
	case strings.HasSuffix(s, "mb"):
		num = strings.TrimSuffix(s, "mb")
	}

	v, err := parseCount(num)
	if err != nil {
		return 0, fmt.Errorf("invalid memory size %q", s)
	}
	return v * scale, nil
}

// parseCount parses a positive whole number. Anything other than digits,
// such as a fraction or an unknown unit, is an error.
func parseCount(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("must be positive: %d", v)
	}
	return v, nil
}
