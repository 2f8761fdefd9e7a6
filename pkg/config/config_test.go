package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"GOOGLE_API_KEY", "EXASEARCH_API_KEY", "DATABASE_URL", "PORT", "SEARCH_RESULTS", "RESEARCH_DEPTH", "RESEARCH_BREADTH"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "3000" {
		t.Errorf("Port = %q, want %q", cfg.Port, "3000")
	}
	if cfg.SearchResults != 1 {
		t.Errorf("SearchResults = %d, want 1", cfg.SearchResults)
	}
	if cfg.Depth != 2 {
		t.Errorf("Depth = %d, want 2", cfg.Depth)
	}
	if cfg.Breadth != 2 {
		t.Errorf("Breadth = %d, want 2", cfg.Breadth)
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"valid", "7", 7},
		{"invalid", "seven", 42},
		{"empty", "", 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT_KEY", tt.value)
			if got := getEnvAsInt("TEST_INT_KEY", 42); got != tt.want {
				t.Errorf("getEnvAsInt(%q) = %d, want %d", tt.value, got, tt.want)
			}
		})
	}
}
