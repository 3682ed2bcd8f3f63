package password

import (
	"encoding/base64"
	"testing"
)

func testParams() Params {
	// Minimum-cost profile so the suite stays fast.
	return Params{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestEncodeAndMatches(t *testing.T) {
	hasher, err := New(testParams())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	blob, err := hasher.Encode("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(blob)
	if err != nil {
		t.Fatalf("blob is not base64url: %v", err)
	}
	if len(raw) != 16+32 {
		t.Fatalf("blob length = %d, want 48", len(raw))
	}

	if !hasher.Matches("P@ssw0rd-Ascii", blob) {
		t.Fatal("expected password verification to succeed")
	}
	if hasher.Matches("wrong-password", blob) {
		t.Fatal("expected wrong password verification to fail")
	}
}

func TestEncodeFreshSaltPerCall(t *testing.T) {
	hasher, err := New(testParams())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	first, err := hasher.Encode("same-input")
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	second, err := hasher.Encode("same-input")
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	if first == second {
		t.Fatal("two encodings of the same password must differ")
	}
	if !hasher.Matches("same-input", first) || !hasher.Matches("same-input", second) {
		t.Fatal("both encodings must verify")
	}
}

func TestMatchesMalformedBlob(t *testing.T) {
	hasher, err := New(testParams())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	cases := []struct {
		name string
		blob string
	}{
		{"empty", ""},
		{"not base64", "!!!not-base64!!!"},
		{"undersized", base64.RawURLEncoding.EncodeToString([]byte("short"))},
		{"oversized", base64.RawURLEncoding.EncodeToString(make([]byte, 100))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if hasher.Matches("whatever", tc.blob) {
				t.Fatalf("malformed blob %q must not match", tc.name)
			}
		})
	}
}

func TestMatchesEmptyPassword(t *testing.T) {
	hasher, err := New(testParams())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	blob, err := hasher.Encode("real-password")
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if hasher.Matches("", blob) {
		t.Fatal("empty password must not match")
	}
}

func TestNeedsRehash(t *testing.T) {
	hasher, err := New(testParams())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	blob, err := hasher.Encode("a-password")
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if hasher.NeedsRehash(blob) {
		t.Fatal("fresh blob should not need rehash")
	}

	wider, err := New(Params{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   64,
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if !wider.NeedsRehash(blob) {
		t.Fatal("blob with smaller key length should need rehash")
	}
}

func TestNewRejectsWeakParams(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Params)
	}{
		{"memory", func(p *Params) { p.Memory = 1024 }},
		{"time", func(p *Params) { p.Time = 0 }},
		{"parallelism", func(p *Params) { p.Parallelism = 0 }},
		{"salt", func(p *Params) { p.SaltLength = 8 }},
		{"key", func(p *Params) { p.KeyLength = 8 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := testParams()
			tc.mutate(&p)
			if _, err := New(p); err == nil {
				t.Fatalf("expected weak %s parameter to be rejected", tc.name)
			}
		})
	}
}
