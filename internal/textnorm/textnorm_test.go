package textnorm

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"BBC One HD", "bbc one"},
		{"BBC ONE", "bbc one"},
		{"bbc-one", "bbc one"},
		{"Channel 4+1", "channel 4 plus 1"},
		{"Sky Sports F1 (UK)", "sky sports f1"},
		{"A&E", "a and e"},
		{"Téléfoot", "telefoot"},
		{"  ITV  1080p  ", "itv"},
		{"", ""},
		{"4K", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeIdentityAcrossProviders(t *testing.T) {
	// Same channel as named by a free-to-air list, a subscription guide and a
	// country aggregator must collapse to one identity.
	variants := []string{"BBC One", "BBC ONE HD", "bbc.one", "BBC One (London)"}
	want := Normalize(variants[0])
	for _, v := range variants[1:] {
		if got := Normalize(v); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", v, got, want)
		}
	}
}

func TestCompact(t *testing.T) {
	if got := Compact("BBC.One.uk"); got != "bbconeuk" {
		t.Errorf("Compact = %q", got)
	}
	if got := Compact("bbcone-uk"); got != "bbconeuk" {
		t.Errorf("Compact = %q", got)
	}
}

func TestTokens(t *testing.T) {
	set := Tokens("Sky Sports Main Event HD")
	for _, tok := range []string{"sky", "sports", "main", "event"} {
		if _, ok := set[tok]; !ok {
			t.Errorf("missing token %q", tok)
		}
	}
	if _, ok := set["hd"]; ok {
		t.Error("quality token not stripped")
	}
}
