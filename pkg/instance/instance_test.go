package instance

import "testing"

func TestIDPrefersExplicitOverride(t *testing.T) {
	t.Setenv("STOREFRONT_INSTANCE_ID", "publisher-7")
	t.Setenv("HOSTNAME", "pod-abc")
	if got := ID("outbox-publisher"); got != "publisher-7" {
		t.Fatalf("expected override, got %q", got)
	}
}

func TestIDFallsBackToHostnameThenKind(t *testing.T) {
	t.Setenv("STOREFRONT_INSTANCE_ID", "")
	t.Setenv("HOSTNAME", "pod-abc")
	if got := ID("worker"); got != "pod-abc" {
		t.Fatalf("expected hostname, got %q", got)
	}

	t.Setenv("HOSTNAME", "")
	if got := ID("worker"); got != "worker-0" {
		t.Fatalf("expected kind default, got %q", got)
	}
	if got := ID(""); got != "storefront-0" {
		t.Fatalf("expected generic default, got %q", got)
	}
}
