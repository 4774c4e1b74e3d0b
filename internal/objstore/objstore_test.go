package objstore

import (
	"errors"
	"testing"
	"time"
)

func TestPresignExpiry(t *testing.T) {
	cases := map[string]time.Duration{
		"PUT":    24 * time.Hour,
		"get":    24 * time.Hour,
		"DELETE": 60 * time.Second,
	}
	for method, want := range cases {
		got, err := PresignExpiry(method)
		if err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		if got != want {
			t.Errorf("%s: expected %v, got %v", method, want, got)
		}
	}
	if _, err := PresignExpiry("POST"); !errors.Is(err, ErrUnsupportedMethod) {
		t.Errorf("expected ErrUnsupportedMethod, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]Action{
		EventCreatedPut:                 ActionCreate,
		EventCreatedCompleteMultipart:   ActionCreate,
		EventRemovedDelete:              ActionRemove,
		EventRemovedNoOP:                ActionRemove,
		EventRemovedDeleteMarkerCreated: ActionRemove,
		"s3:ObjectAccessed:Get":         ActionUnsupported,
	}
	for name, want := range cases {
		if got := Classify(name); got != want {
			t.Errorf("%s: expected %v, got %v", name, want, got)
		}
	}
}

func TestDecodeKey(t *testing.T) {
	if got := DecodeKey("reports%2FQ1+summary.pdf"); got != "reports/Q1 summary.pdf" {
		t.Errorf("unexpected decoded key %q", got)
	}
	if got := DecodeKey("bad%zz"); got != "bad%zz" {
		t.Errorf("expected undecodable key unchanged, got %q", got)
	}
}

func TestNormalizeETag(t *testing.T) {
	if got := NormalizeETag(`"abc"`); got != "abc" {
		t.Errorf("unexpected etag %q", got)
	}
}
