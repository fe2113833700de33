package guard

import "testing"

func TestEntryMatches(t *testing.T) {
	tests := []struct {
		entry string
		host  string
		want  bool
	}{
		{"example.com", "example.com", true},
		{"example.com", "m.example.com", true},
		{"example.com", "a.b.example.com", true},
		{"example.com", "EXAMPLE.COM", true},
		{"Example.com", "m.example.com", true},
		{"example.com", "notexample.com", false},
		{"example.com", "example.com.evil.net", false},
		{"example.com", "evil.com", false},
		{"example.com", "", false},
		{"*.example.com", "api.example.com", true},
		{".example.com", "example.com", true},
		{"localhost", "localhost", true},
		// Bare labels match anywhere in the host.
		{"intranet", "intranet.corp", true},
		{"intranet", "my-intranet-host", true},
		{"intranet", "example.com", false},
	}
	for _, tt := range tests {
		if got := NewEntry(tt.entry).Matches(tt.host); got != tt.want {
			t.Fatalf("Entry(%q).Matches(%q) = %v, want %v", tt.entry, tt.host, got, tt.want)
		}
	}
}

func TestDerive(t *testing.T) {
	list, err := Derive("https://m.example.com/app", []string{"Maps.Google.com", "example.com", " "})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	want := []string{"example.com", "maps.google.com"}
	got := list.Strings()
	if len(got) != len(want) {
		t.Fatalf("Derive = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Derive = %v, want %v", got, want)
		}
	}
}

func TestDeriveRegistrableDomain(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://app.example.co.uk/", "example.co.uk"},
		{"http://localhost:8080/", "localhost"},
		{"http://192.168.1.10:3000/app", "192.168.1.10"},
		{"https://EXAMPLE.com", "example.com"},
	}
	for _, tt := range tests {
		list, err := Derive(tt.base, nil)
		if err != nil {
			t.Fatalf("Derive(%q): %v", tt.base, err)
		}
		if string(list[0]) != tt.want {
			t.Fatalf("Derive(%q)[0] = %q, want %q", tt.base, list[0], tt.want)
		}
	}
}

func TestDeriveRejectsHostlessBase(t *testing.T) {
	for _, base := range []string{"", "__CONTENT_URL__", "mailto:ops@example.com"} {
		if _, err := Derive(base, nil); err == nil {
			t.Fatalf("Derive(%q) succeeded", base)
		}
	}
}

// Allowed iff the host equals the base domain or is a subdomain of it.
func TestEvaluateDerivedDomain(t *testing.T) {
	list, err := Derive("https://m.example.com/app", nil)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		target string
		want   Decision
	}{
		{"https://example.com/", Allow},
		{"https://m.example.com/app?device=abc123", Allow},
		{"https://deep.sub.example.com/x", Allow},
		{"http://example.com:8080/", Allow},
		{"https://evil.com", Block},
		{"https://example.com.evil.com/", Block},
		{"https://fakeexample.com/", Block},
		{"about:blank", Block},
		{"mailto:someone@example.com", Block},
	}
	for _, tt := range tests {
		if got := Evaluate(tt.target, list); got != tt.want {
			t.Fatalf("Evaluate(%q) = %s, want %s", tt.target, got, tt.want)
		}
	}
}

func TestEvaluateEmptyListBlocks(t *testing.T) {
	if got := Evaluate("https://example.com/", nil); got != Block {
		t.Fatalf("Evaluate with empty list = %s", got)
	}
}

// Intentional: a target with no host to judge fails open even though a
// valid non-matching URL is blocked. Changing this changes the trust model
// of the shell and must be a deliberate decision.
func TestEvaluateUnparseableFailsOpen(t *testing.T) {
	list := AllowList{"example.com"}
	for _, target := range []string{
		"http://[::1",
		"%zz",
		"/relative/path",
		"evil.com/no-scheme",
		"",
	} {
		if got := Evaluate(target, list); got != Allow {
			t.Fatalf("Evaluate(%q) = %s, want allow (fail-open)", target, got)
		}
		if got := Evaluate(target, nil); got != Allow {
			t.Fatalf("Evaluate(%q) with empty list = %s, want allow (fail-open)", target, got)
		}
	}

	if got := Evaluate("https://evil.com/", list); got != Block {
		t.Fatalf("valid non-matching URL = %s, want block", got)
	}
}

// Browsers load these even though url.Parse rejects them or finds no
// host, so they must be judged by the host they reach.
func TestEvaluateMalformedURLUsesHost(t *testing.T) {
	list := AllowList{"example.com"}
	tests := []struct {
		target string
		want   Decision
	}{
		{"https://evil.com/%zz", Block},
		{"https://evil.com/#%zz", Block},
		{"https://evil.com/phish#%zz", Block},
		{"https://evil.com/login%", Block},
		{"https://evil.com?q=%zz", Block},
		{"HTTPS://EVIL.COM:8443/%zz", Block},
		{"https://user:pw@evil.com/%zz", Block},
		{`https://evil.com\@example.com/%zz`, Block},
		{`https:\\evil.com/%zz`, Block},
		{"https:evil.com", Block},
		{"https:/evil.com", Block},
		{"https://[::1]:8080/%zz", Block},
		{"custom://evil.com/%zz", Block},
		{"https://example.com/%zz", Allow},
		{"https://m.example.com/app#%zz", Allow},
		{"https://example.com:8443/login%", Allow},
		{"https:example.com/app", Allow},
		{"https://evil.com%2eexample.com/%zz", Allow},
	}
	for _, tt := range tests {
		if got := Evaluate(tt.target, list); got != tt.want {
			t.Fatalf("Evaluate(%q) = %s, want %s", tt.target, got, tt.want)
		}
	}
}
