package storage

import (
	"errors"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		errMsg   string
		wantKind error
	}{
		{"context deadline exceeded", "context deadline exceeded", ErrTimeout},
		{"timed out", "operation timed out", ErrTimeout},
		{"AccessDenied response", "AccessDenied: you do not have access", ErrAccessDenied},
		{"HTTP 403", "received status 403", ErrAccessDenied},
		{"permission denied", "open /data/manifest: permission denied", ErrPermissionDenied},
		{"NoSuchKey", "NoSuchKey: The specified key does not exist.", ErrNotFound},
		{"ENOENT", "open /data/x: no such file or directory", ErrNotFound},
		{"disk full", "write /data/output: no space left on device", ErrDiskFull},
		{"SlowDown", "SlowDown: please reduce your request rate", ErrThrottled},
		{"HTTP 429", "status 429 TooManyRequests", ErrThrottled},
		{"missing credentials", "NoCredentialProviders: no valid providers in chain", ErrAuth},
		{"expired token", "ExpiredToken: the token has expired", ErrAuth},
		{"connection refused", "dial tcp 127.0.0.1:9000: connection refused", ErrNetwork},
		{"unknown", "something odd happened", ErrUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(errors.New(tt.errMsg))
			if got != tt.wantKind {
				t.Errorf("classifyError(%q) = %v, want %v", tt.errMsg, got, tt.wantKind)
			}
		})
	}
}

func TestClassifyError_Nil(t *testing.T) {
	if got := classifyError(nil); got != nil {
		t.Errorf("classifyError(nil) = %v, want nil", got)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o stalled" }
func (timeoutErr) Timeout() bool { return true }

func TestClassifyError_TimeoutInterface(t *testing.T) {
	if got := classifyError(timeoutErr{}); got != ErrTimeout {
		t.Errorf("classifyError(timeout) = %v, want ErrTimeout", got)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "put", "k") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}

	base := errors.New("NoSuchKey")
	err := Wrap(base, "get", "manifest/16.0.0/manifest.json")

	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StorageError, got %T", err)
	}
	if se.Op != "get" || se.Key != "manifest/16.0.0/manifest.json" {
		t.Errorf("op/key = %q/%q", se.Op, se.Key)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is(err, ErrNotFound)")
	}
	if !errors.Is(err, base) {
		t.Error("underlying error lost from chain")
	}

	// Already classified errors keep their original classification.
	if again := Wrap(err, "list", "other"); again != err {
		t.Errorf("Wrap re-wrapped a classified error: %v", again)
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrNotFound, true},
		{"classified", NewStorageError(ErrNotFound, "get", "k", errors.New("x")), true},
		{"message", errors.New("object does not exist"), true},
		{"other", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.want {
				t.Errorf("IsNotFound(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStorageError_Message(t *testing.T) {
	err := NewStorageError(ErrThrottled, "put", "manifest/1.0.0/a.txt", errors.New("SlowDown"))
	want := "put manifest/1.0.0/a.txt: rate limited: SlowDown"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	noKey := NewStorageError(ErrAuth, "init", "", errors.New("bad creds"))
	if noKey.Error() != "init: authentication failed: bad creds" {
		t.Errorf("Error() = %q", noKey.Error())
	}
}
