package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var configEnvKeys = []string{
	"DATAMINR_URL", "DATAMINR_CLIENT_ID", "DATAMINR_CLIENT_SECRET",
	"POLL_INTERVAL_SECONDS", "LISTS_TO_WATCH", "ALERT_TYPES_TO_WATCH",
	"TIMEZONE", "TRIAL_MODE", "CACHE_MAX_ITEMS", "CACHE_MAX_AGE_HOURS",
	"HTTP_ADDR", "LOG_LEVEL", "DATAMINR_DOWNLOAD_URL", "DATAMINR_INTEGRATION_KEY",
}

func TestLoad(t *testing.T) {
	base := map[string]string{
		"DATAMINR_URL":           "https://gateway.example.com",
		"DATAMINR_CLIENT_ID":     "cid",
		"DATAMINR_CLIENT_SECRET": "csecret",
	}

	tests := []struct {
		name    string
		env     map[string]string
		check   func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name:    "missing url",
			env:     map[string]string{"DATAMINR_CLIENT_ID": "a", "DATAMINR_CLIENT_SECRET": "b"},
			wantErr: true,
		},
		{
			name: "trailing slash rejected",
			env: map[string]string{
				"DATAMINR_URL":           "https://gateway.example.com/",
				"DATAMINR_CLIENT_ID":     "a",
				"DATAMINR_CLIENT_SECRET": "b",
			},
			wantErr: true,
		},
		{
			name:    "missing credentials",
			env:     map[string]string{"DATAMINR_URL": "https://gateway.example.com"},
			wantErr: true,
		},
		{
			name: "defaults applied",
			env:  base,
			check: func(t *testing.T, cfg *Config) {
				if diff := cmp.Diff(MinPollInterval, cfg.PollInterval); diff != "" {
					t.Errorf("poll interval (-want +got):\n%s", diff)
				}
				if diff := cmp.Diff([]string{"flash", "urgent"}, cfg.AlertTypesToWatch); diff != "" {
					t.Errorf("default types (-want +got):\n%s", diff)
				}
				if diff := cmp.Diff(DefaultCacheMaxItems, cfg.CacheMaxItems); diff != "" {
					t.Errorf("cache max items (-want +got):\n%s", diff)
				}
				if diff := cmp.Diff(DefaultCacheMaxAge, cfg.CacheMaxAge); diff != "" {
					t.Errorf("cache max age (-want +got):\n%s", diff)
				}
				if cfg.BulkMode() {
					t.Error("bulk mode should be off by default")
				}
			},
		},
		{
			name: "poll interval below minimum rejected",
			env:  merge(base, map[string]string{"POLL_INTERVAL_SECONDS": "10"}),
			wantErr: true,
		},
		{
			name: "poll interval accepted",
			env:  merge(base, map[string]string{"POLL_INTERVAL_SECONDS": "120"}),
			check: func(t *testing.T, cfg *Config) {
				if diff := cmp.Diff(2*time.Minute, cfg.PollInterval); diff != "" {
					t.Errorf("poll interval (-want +got):\n%s", diff)
				}
			},
		},
		{
			name: "lists and types normalized",
			env: merge(base, map[string]string{
				"LISTS_TO_WATCH":       " 42 , 0 , 77 ,",
				"ALERT_TYPES_TO_WATCH": "Flash, URGENT , flash",
			}),
			check: func(t *testing.T, cfg *Config) {
				if diff := cmp.Diff([]string{"42", "77"}, cfg.ListsToWatch); diff != "" {
					t.Errorf("lists (-want +got):\n%s", diff)
				}
				if diff := cmp.Diff([]string{"flash", "urgent"}, cfg.AlertTypesToWatch); diff != "" {
					t.Errorf("types (-want +got):\n%s", diff)
				}
			},
		},
		{
			name:    "bulk settings must come in pairs",
			env:     merge(base, map[string]string{"DATAMINR_DOWNLOAD_URL": "https://dl.example.com/feed"}),
			wantErr: true,
		},
		{
			name: "bulk mode enabled",
			env: merge(base, map[string]string{
				"DATAMINR_DOWNLOAD_URL":    "https://dl.example.com/feed",
				"DATAMINR_INTEGRATION_KEY": "hmac-secret",
			}),
			check: func(t *testing.T, cfg *Config) {
				if !cfg.BulkMode() {
					t.Error("expected bulk mode")
				}
			},
		},
		{
			name:    "invalid cache size",
			env:     merge(base, map[string]string{"CACHE_MAX_ITEMS": "zero"}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range configEnvKeys {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestOptionUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []Option
	}{
		{
			name: "plain strings",
			body: `["flash","urgent"]`,
			want: []Option{{Value: "flash"}, {Value: "urgent"}},
		},
		{
			name: "value display records",
			body: `[{"value":"123","display":"Cyber Watch"}]`,
			want: []Option{{Value: "123", Display: "Cyber Watch"}},
		},
		{
			name: "mixed",
			body: `["flash",{"value":"456","display":"Exec Protection"}]`,
			want: []Option{{Value: "flash"}, {Value: "456", Display: "Exec Protection"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []Option
			if err := json.Unmarshal([]byte(tt.body), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("options mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValues(t *testing.T) {
	opts := []Option{
		{Value: "123", Display: "Watch"},
		{Value: "0"},
		{Value: "  "},
		{Value: "456"},
	}
	if diff := cmp.Diff([]string{"123", "456"}, Values(opts)); diff != "" {
		t.Errorf("Values() mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeTypes(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "lowercase sort dedupe",
			in:   []string{"Urgent", "FLASH", "flash", " Alert "},
			want: []string{"alert", "flash", "urgent"},
		},
		{
			name: "placeholders dropped",
			in:   []string{"0", "", "flash"},
			want: []string{"flash"},
		},
		{
			name: "empty in empty out",
			in:   nil,
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, NormalizeTypes(tt.in)); diff != "" {
				t.Errorf("NormalizeTypes() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func merge(a, b map[string]string) map[string]string {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
