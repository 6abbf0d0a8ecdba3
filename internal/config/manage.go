package config

import (
	"fmt"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	Secret bool
}

// ShowAll returns every config key with its effective value. Secret values
// are masked.
func ShowAll(cfg Config) []KeyInfo {
	result := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		info := KeyInfo{Key: s.key, EnvVar: s.env, Secret: s.secret}
		switch {
		case !s.secret:
			info.Value = fmt.Sprintf("%v", s.extract(cfg))
		case s.extract(cfg) != "":
			info.Value = "(set)"
		default:
			info.Value = "(unset)"
		}
		result = append(result, info)
	}
	return result
}

// SetKey validates value for key and writes it to the config file.
func SetKey(key, value string) error {
	return setKeyIn(newFileBackend(ConfigFilePath()), key, value)
}

func setKeyIn(b ConfigBackend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return &ValidationError{Problems: []string{fmt.Sprintf("unknown config key: %q", key)}}
	}
	if s.secret {
		return &ValidationError{Problems: []string{
			fmt.Sprintf("cannot set secret %q via config; use environment variable %s", key, s.env),
		}}
	}

	v, err := parseValue(s, value)
	if err != nil {
		return &ValidationError{Problems: []string{fmt.Sprintf("invalid value for %s: %v", key, err)}}
	}

	// Reject values that would make the whole configuration invalid.
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return &ValidationError{Problems: []string{err.Error()}}
	}
	s.apply(&cfg, v)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if s.typ == kInt {
		return b.SetInt(key, v.(int))
	}
	return b.SetString(key, value)
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
