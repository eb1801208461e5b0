package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key")
	if err := os.WriteFile(keyFile, []byte("  from-file\n"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	emptyFile := filepath.Join(dir, "empty")
	if err := os.WriteFile(emptyFile, nil, 0o600); err != nil {
		t.Fatalf("write empty file: %v", err)
	}

	t.Setenv("RESUME_RANKER_TEST_KEY", " from-env ")

	tests := []struct {
		name    string
		src     Source
		want    string
		wantErr string
	}{
		{name: "file wins", src: Source{Name: "key", File: keyFile, Value: "inline", Env: "RESUME_RANKER_TEST_KEY"}, want: "from-file"},
		{name: "inline before env", src: Source{Value: " inline ", Env: "RESUME_RANKER_TEST_KEY"}, want: "inline"},
		{name: "env fallback", src: Source{Env: "RESUME_RANKER_TEST_KEY"}, want: "from-env"},
		{name: "empty file", src: Source{Name: "key", File: emptyFile}, wantErr: "is empty"},
		{name: "missing file", src: Source{Name: "key", File: filepath.Join(dir, "missing")}, wantErr: "reading key"},
		{name: "unset env", src: Source{Name: "key", Env: "RESUME_RANKER_UNSET_KEY"}, wantErr: "set RESUME_RANKER_UNSET_KEY"},
		{name: "nothing", src: Source{}, wantErr: "secret is not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.src)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
