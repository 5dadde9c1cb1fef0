package context

import "testing"

func TestNewOperationalContextDefaults(t *testing.T) {
	oc, err := NewOperationalContext(OperationalConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if oc.Edition != EditionCommunity {
		t.Fatalf("expected default edition, got %v", oc.Edition)
	}
	if _, ok := oc.FilterFactories["gzip"]; !ok {
		t.Fatalf("expected default gzip filter factory")
	}
	if _, ok := oc.SerializerFactories["pof"]; !ok {
		t.Fatalf("expected default pof serializer factory")
	}
	if oc.Identity.Machine == "" {
		t.Fatalf("expected machine identity to default from hostname")
	}
}

func TestUnknownEditionRejected(t *testing.T) {
	if _, err := NewOperationalContext(OperationalConfig{Edition: "bogus"}); err == nil {
		t.Fatalf("expected error for unknown edition")
	}
}

func TestScopePrincipal(t *testing.T) {
	oc, _ := NewOperationalContext(OperationalConfig{PrincipalScopingEnabled: false})
	if got := oc.ScopePrincipal("alice"); got != "*" {
		t.Fatalf("expected wildcard when scoping disabled, got %q", got)
	}

	oc2, _ := NewOperationalContext(OperationalConfig{PrincipalScopingEnabled: true})
	if got := oc2.ScopePrincipal("alice"); got != "alice" {
		t.Fatalf("expected real principal when scoping enabled, got %q", got)
	}
}
