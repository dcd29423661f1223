package sim

import "testing"

// mustConfig parses YAML configuration text or fails the test.
func mustConfig(t *testing.T, yamlText string) *Config {
	t.Helper()
	cfg, err := ParseConfig([]byte(yamlText))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

// mustRun builds a simulator for the configuration and runs it to completion,
// failing the test on any error.
func mustRun(t *testing.T, yamlText string, seed int64) (*Simulator, Result) {
	t.Helper()
	s, err := New(mustConfig(t, yamlText), seed)
	if err != nil {
		t.Fatalf("build simulator: %v", err)
	}
	res, err := s.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return s, res
}
