package relay

import "testing"

func TestNormalizeRelayURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"valid wss", "wss://relay.damus.io", "wss://relay.damus.io"},
		{"trailing slash stripped", "wss://relay.damus.io/", "wss://relay.damus.io"},
		{"uppercase lowered", "WSS://Relay.Damus.IO", "wss://relay.damus.io"},
		{"path preserved", "wss://relay.example.com/v2", "wss://relay.example.com/v2"},
		{"port preserved", "ws://localhost:7777", "ws://localhost:7777"},
		{"whitespace trimmed", "  wss://relay.damus.io  ", "wss://relay.damus.io"},
		{"empty", "", ""},
		{"no scheme", "relay.damus.io", ""},
		{"http rejected", "https://relay.damus.io", ""},
		{"double protocol", "wss://https://relay.damus.io", ""},
		{"encoded space", "wss://relay%20bad.example.com", ""},
		{"onion blocked", "wss://something.onion", ""},
		{"local blocked", "wss://relay.local", ""},
		{"bare word", "wss://relay", ""},
		{"too short host", "wss://ab", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeRelayURL(tt.input); got != tt.want {
				t.Errorf("NormalizeRelayURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeRelaysDropsDuplicatesAndInvalid(t *testing.T) {
	in := []string{
		"wss://relay.damus.io",
		"wss://relay.damus.io/",
		"not-a-url",
		"wss://nos.lol",
	}
	got := NormalizeRelays(in)

	want := []string{"wss://relay.damus.io", "wss://nos.lol"}
	if len(got) != len(want) {
		t.Fatalf("NormalizeRelays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("NormalizeRelays[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
