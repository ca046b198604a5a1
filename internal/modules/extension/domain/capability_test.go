package domain_test

import (
	"testing"

	"ucx/internal/modules/extension/domain"
)

func TestCapabilityIDRoundTrip(t *testing.T) {
	t.Parallel()
	id := domain.CapabilityID("sheet", "2.1.0")
	if id != "/uc/extension/sheet/2.1.0" {
		t.Fatalf("unexpected capability id: %s", id)
	}
	extensionID, version, ok := domain.ParseCapabilityID(id)
	if !ok || extensionID != "sheet" || version != "2.1.0" {
		t.Fatalf("unexpected parse: %s %s %v", extensionID, version, ok)
	}
}

func TestCapabilityIDDefaultsVersion(t *testing.T) {
	t.Parallel()
	if got := domain.CapabilityID("sheet", ""); got != "/uc/extension/sheet/1.0.0" {
		t.Fatalf("unexpected capability id: %s", got)
	}
}

func TestParseCapabilityIDRejectsMalformed(t *testing.T) {
	t.Parallel()
	cases := []string{
		"/uc/extension/sheet",
		"/uc/extension/sheet/1.0.0/extra",
		"/uc/extension//1.0.0",
		"/uc/extension/sheet/",
		"/mdns/query/1.0.0",
		"/uc/extensions/sheet/1.0.0",
		"",
	}
	for _, input := range cases {
		if _, _, ok := domain.ParseCapabilityID(input); ok {
			t.Fatalf("%q: expected parse rejection", input)
		}
	}
}
