package recon

import (
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/regsync_backend/models"
	"bitbucket.org/mmdatafocus/regsync_backend/utils"
)

func TestSanitizeBaseName_AllowedCharacterSet(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"invoice 2024.pdf", "invoice 2024.pdf"},
		{"report_final-v2", "report_final-v2"},
		{"ဘောင်ချာ", "%E1%80%98%E1%80%B1%E1%80%AC%E1%80%84%E1%80%BA%E1%80%81%E1%80%BB%E1%80%AC"},
		{"a/b\\c", "a%2Fb%5Cc"},
		{"100%", "100%25"},
	}
	for _, tc := range cases {
		if got := SanitizeBaseName(tc.in); got != tc.want {
			t.Fatalf("SanitizeBaseName(%q) expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestSanitizeBaseName_OutputIsSafe(t *testing.T) {
	allowed := func(c byte) bool {
		return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			c == ' ' || c == '.' || c == '-' || c == '_' || c == '%'
	}
	inputs := []string{"ordinary.pdf", "späce önly", "tab\there", "emoji📎clip", `quo"te`}
	for _, in := range inputs {
		out := SanitizeBaseName(in)
		for i := 0; i < len(out); i++ {
			if !allowed(out[i]) {
				t.Fatalf("SanitizeBaseName(%q) produced disallowed byte %q in %q", in, out[i], out)
			}
		}
	}
}

func TestBuildFileName_Deterministic(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a := buildFileName(42, "https://files.example.com/docs/My%20Invoice.PDF?sig=abc", ts)
	b := buildFileName(42, "https://files.example.com/docs/My%20Invoice.PDF?sig=abc", ts)
	if a != b {
		t.Fatalf("same inputs produced different names: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "42_") {
		t.Fatalf("name must start with the local id, got %q", a)
	}
	if !strings.HasSuffix(a, ".pdf") {
		t.Fatalf("extension must be preserved lowercase, got %q", a)
	}
	if !strings.Contains(a, "My Invoice") {
		t.Fatalf("percent-encoded URL segment should decode into the base name, got %q", a)
	}
}

func TestBuildFileName_DistinctOriginalsNeverCollide(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a := buildFileName(42, "https://files.example.com/a.pdf", ts)
	b := buildFileName(42, "https://files.example.com/b.pdf", ts)
	if a == b {
		t.Fatalf("distinct originals collided: %q", a)
	}
}

func TestNeedsMigration(t *testing.T) {
	t.Setenv("STORAGE_ACCESS_BASE_URL", "https://cdn.regsync.example/files")

	cases := []struct {
		in   string
		want bool
	}{
		{"https://fieldbookusercontent.com/att/123/x.pdf", true},
		{"https://legacy.example.net/uploads/y.png", true},
		{"https://cdn.regsync.example/files/recon/invoice/attachment_url/z.pdf", false},
		{"recon/invoice/attachment_url/z.pdf", false},
		{"/files/local.pdf", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := NeedsMigration(tc.in); got != tc.want {
			t.Fatalf("NeedsMigration(%q) expected %v, got %v", tc.in, tc.want, got)
		}
	}
}

func TestNeedsMigration_SaaSHostBeatsPrefixOverlap(t *testing.T) {
	// A serving prefix misconfigured to the remote SaaS domain must not
	// mask blobs that still live there.
	t.Setenv("STORAGE_ACCESS_BASE_URL", "https://s3.amazonaws.com/regsync-bucket")
	if !NeedsMigration("https://s3.amazonaws.com/regsync-bucket/old.pdf") {
		t.Fatal("known SaaS storage domain must always count as remote")
	}
}

func TestVerifyLocalReference(t *testing.T) {
	t.Setenv("STORAGE_PROVIDER", "local")
	t.Setenv("FILES_DIR", t.TempDir())
	t.Setenv("STORAGE_ACCESS_BASE_URL", "https://cdn.regsync.example/files")

	// Stored under the decoded spelling; the serving URL carries %20.
	if err := utils.SaveLocalObject("recon/invoice/attachment_url/7_invoice 2024_1.pdf", []byte("x")); err != nil {
		t.Fatal(err)
	}

	m := NewFileMigrator(nil)
	target := AttachmentTarget{Kind: models.KindInvoice, Field: "attachment_url"}

	var result FileMigrationResult
	m.verifyLocalReference(target, 7,
		"https://cdn.regsync.example/files/recon/invoice/attachment_url/7_invoice%202024_1.pdf", &result)
	if result.MissingLocal != 0 {
		t.Fatalf("encoding fallback must find the decoded spelling, got %+v", result)
	}

	m.verifyLocalReference(target, 8,
		"https://cdn.regsync.example/files/recon/invoice/attachment_url/8_gone_1.pdf", &result)
	if result.MissingLocal != 1 {
		t.Fatalf("reference without a stored object must be counted, got %+v", result)
	}

	// Remote values are the migration path's business, not the audit's.
	m.verifyLocalReference(target, 9, "https://fieldbookusercontent.com/abc.pdf", &result)
	if result.MissingLocal != 1 {
		t.Fatalf("remote URLs must not be audited, got %+v", result)
	}
}
