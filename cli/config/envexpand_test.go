package config

import (
	"errors"
	"strings"
	"testing"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("UCD_SET", "hello")
	t.Setenv("UCD_EMPTY", "")
	t.Setenv("UCD_B", "bob")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set", "value: ${UCD_SET}", "value: hello"},
		{"unset", "value: ${UNSET_VAR_12345}", "value: "},
		{"fallback when unset", "value: ${UNSET_VAR_12345:-fallback}", "value: fallback"},
		{"fallback ignored when set", "value: ${UCD_SET:-fallback}", "value: hello"},
		{"fallback when empty", "value: ${UCD_EMPTY:-fallback}", "value: fallback"},
		{"required and set", "value: ${UCD_SET:?needed}", "value: hello"},
		{"multiple", "${UCD_SET}:${UCD_B}", "hello:bob"},
		{"bare dollar kept", "password: pa$$word $UCD_SET", "password: pa$$word $UCD_SET"},
		{"no refs", "no variables here", "no variables here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandEnv(tt.input)
			if err != nil {
				t.Fatalf("ExpandEnv(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExpandEnv_NestedInYAML(t *testing.T) {
	t.Setenv("MINIO_ACCESS_KEY", "ucd")
	t.Setenv("MINIO_SECRET_KEY", "secret")

	input := `storage:
  backend: minio
  access_key: ${MINIO_ACCESS_KEY:?set the MinIO access key}
  secret_key: ${MINIO_SECRET_KEY}
  endpoint: ${MINIO_ENDPOINT:-localhost:9000}`

	got, err := ExpandEnv(input)
	if err != nil {
		t.Fatalf("ExpandEnv: %v", err)
	}
	want := `storage:
  backend: minio
  access_key: ucd
  secret_key: secret
  endpoint: localhost:9000`

	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestExpandEnv_RequiredMissing(t *testing.T) {
	t.Setenv("UCD_EMPTY", "")

	input := `adapter:
  url: ${UNSET_WEBHOOK_URL_12345:?webhook endpoint}
  secret: ${UCD_EMPTY:?}`
	got, err := ExpandEnv(input)
	if err == nil {
		t.Fatalf("expected error, got %q", got)
	}

	var missing *MissingEnvError
	if !errors.As(err, &missing) || missing.Name != "UNSET_WEBHOOK_URL_12345" {
		t.Fatalf("err = %v, want MissingEnvError for UNSET_WEBHOOK_URL_12345", err)
	}
	msg := err.Error()
	for _, want := range []string{
		"UNSET_WEBHOOK_URL_12345 is required: webhook endpoint",
		"UCD_EMPTY is required",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %q", msg, want)
		}
	}
}
