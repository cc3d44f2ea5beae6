package httpx

import (
	"testing"
	"time"
)

func TestExternalHTTPClientDefaults(t *testing.T) {
	client := ExternalHTTPClient()
	if client == nil {
		t.Fatal("ExternalHTTPClient must not be nil")
	}
	if client != externalHTTPClient {
		t.Fatal("ExternalHTTPClient must return the shared client")
	}
	if client.Timeout != defaultExternalHTTPTimeout {
		t.Fatalf("timeout = %s, want %s", client.Timeout, defaultExternalHTTPTimeout)
	}
}

func TestConfigureExternalHTTPClient(t *testing.T) {
	original := externalHTTPClient.Timeout
	t.Cleanup(func() {
		externalHTTPClient.Timeout = original
	})

	tests := []struct {
		seconds int
		want    time.Duration
	}{
		{seconds: 0, want: defaultExternalHTTPTimeout},
		{seconds: -5, want: defaultExternalHTTPTimeout},
		{seconds: 15, want: 15 * time.Second},
		{seconds: 120, want: 120 * time.Second},
	}
	for _, tt := range tests {
		got := ConfigureExternalHTTPClient(tt.seconds)
		if got != tt.want {
			t.Fatalf("ConfigureExternalHTTPClient(%d) = %s, want %s", tt.seconds, got, tt.want)
		}
		if externalHTTPClient.Timeout != tt.want {
			t.Fatalf("configured timeout = %s, want %s", externalHTTPClient.Timeout, tt.want)
		}
	}
}
