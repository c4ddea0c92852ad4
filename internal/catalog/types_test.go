package catalog

import "testing"

func TestCorrelationIDIsStableAndNonNegative(t *testing.T) {
	a := CorrelationID("org.example.app", 120)
	b := CorrelationID("org.example.app", 120)
	if a != b {
		t.Fatalf("ids differ for identical input: %d vs %d", a, b)
	}
	if a < 0 {
		t.Fatalf("id must be non-negative, got %d", a)
	}
	if a == CorrelationID("org.example.app", 121) {
		t.Fatal("a different version code should give a different id")
	}
	if CorrelationID("org.example.ap", 1120) == CorrelationID("org.example.app", 120) {
		t.Fatal("separator must keep package and version apart")
	}
}

func TestDeclaredSize(t *testing.T) {
	tests := []struct {
		name string
		link Link
		want int64
	}{
		{"none", NoLink{}, 0},
		{"direct", DirectLink{URL: "u", Size: 42}, 42},
		{"archive", SplitArchiveLink{URL: "u"}, 0},
		{"multi", MultiPartLink{Parts: []PartLink{{Size: 100}, {Size: 200}, {Size: 50}}}, 350},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeclaredSize(tt.link)
			if err != nil {
				t.Fatalf("DeclaredSize: %v", err)
			}
			if got != tt.want {
				t.Fatalf("DeclaredSize = %d, want %d", got, tt.want)
			}
		})
	}

	if _, err := DeclaredSize(nil); err == nil {
		t.Fatal("nil link should be rejected")
	}
}

func TestPrimaryURL(t *testing.T) {
	if u, ok := PrimaryURL(MultiPartLink{Parts: []PartLink{{URL: "https://a/base.apk"}}}); !ok || u != "https://a/base.apk" {
		t.Fatalf("PrimaryURL = %q, %v", u, ok)
	}
	if _, ok := PrimaryURL(NoLink{}); ok {
		t.Fatal("NoLink has no URL")
	}
}
