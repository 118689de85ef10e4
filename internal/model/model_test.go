package model

import "testing"

func TestDestKeyHelpers(t *testing.T) {
	tests := []struct {
		name        string
		key         string
		wantNetwork string
		wantChannel string
		composite   bool
	}{
		{"composite irc key", "libera|#golang", "libera", "#golang", true},
		{"plain channel", "#golang", "", "#golang", false},
		{"matrix room id", "!abc123:matrix.org", "", "!abc123:matrix.org", false},
		{"discord channel id", "123456789012345678", "", "123456789012345678", false},
		{"empty channel part", "net|", "net", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network, channel := SplitDestKey(tt.key)
			if network != tt.wantNetwork || channel != tt.wantChannel {
				t.Errorf("SplitDestKey(%q) = (%q, %q), want (%q, %q)",
					tt.key, network, channel, tt.wantNetwork, tt.wantChannel)
			}
			if got := IsCompositeKey(tt.key); got != tt.composite {
				t.Errorf("IsCompositeKey(%q) = %v, want %v", tt.key, got, tt.composite)
			}
		})
	}
}

func TestMakeDestKeyRoundTrip(t *testing.T) {
	key := MakeDestKey("libera", "#golang")
	if key != "libera|#golang" {
		t.Fatalf("MakeDestKey = %q", key)
	}
	network, channel := SplitDestKey(key)
	if network != "libera" || channel != "#golang" {
		t.Errorf("round trip = (%q, %q)", network, channel)
	}
}

func TestInferPlatform(t *testing.T) {
	tests := []struct {
		key  string
		want Platform
	}{
		{"!abc123:matrix.org", PlatformMatrix},
		{"123456789012345678", PlatformDiscord},
		{"#golang", PlatformIRC},
		{"libera|#golang", PlatformIRC},
		{"libera|!room:matrix.org", PlatformMatrix},
		{"", PlatformIRC},
	}

	for _, tt := range tests {
		if got := InferPlatform(tt.key); got != tt.want {
			t.Errorf("InferPlatform(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}
