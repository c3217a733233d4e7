package domain

import "testing"

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		desc    Descriptor
		wantErr bool
	}{
		{"valid", Descriptor{Name: "billing", Endpoint: "http://localhost:9001/rpc"}, false},
		{"empty name", Descriptor{Name: "  ", Endpoint: "http://localhost:9001"}, true},
		{"no scheme", Descriptor{Name: "billing", Endpoint: "localhost:9001"}, true},
		{"empty endpoint", Descriptor{Name: "billing", Endpoint: ""}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHasCapability(t *testing.T) {
	d := Descriptor{Name: "billing", Capabilities: []string{"billing", "Refunds"}}
	if !d.HasCapability("refunds") {
		t.Error("expected case-insensitive capability match")
	}
	if d.HasCapability("shipping") {
		t.Error("unexpected capability match")
	}
}

func TestNormalizeAgentName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"billing_agent", "billing_agent"},
		{"The Billing_Agent", "billing_agent"},
		{"  a helper  ", "helper"},
		{"an Assistant.", "assistant"},
		{"'support'", "support"},
		{"THE", "the"}, // bare article is a name, not an article prefix
	}
	for _, tt := range tests {
		if got := NormalizeAgentName(tt.in); got != tt.want {
			t.Errorf("NormalizeAgentName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
