package installer

import (
	"errors"
	"testing"
)

func TestParseSessionID(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    int
		wantErr bool
	}{
		{"standard", "Success: created install session [1234]", 1234, false},
		{"first match wins", "session [7] replaced [8]", 7, false},
		{"trailing newline", "Success: created install session [42]\n", 42, false},
		{"no brackets", "Failure [no session]", 0, true},
		{"empty", "", 0, true},
		{"not digits", "created [abc]", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSessionID(tt.output)
			if tt.wantErr {
				var pre *PreconditionError
				if !errors.As(err, &pre) {
					t.Fatalf("expected PreconditionError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSessionID: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseSessionID = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPMCommands(t *testing.T) {
	c := pmCommands{pm: "pm"}

	if got := c.install("/data/local/tmp/1-x.apk"); got != "pm install -r /data/local/tmp/1-x.apk" {
		t.Fatalf("install = %q", got)
	}
	if got := c.write(100, 12, 0, "/tmp/a b.apk"); got != "pm install-write -S 100 12 0 '/tmp/a b.apk'" {
		t.Fatalf("write = %q", got)
	}
	if got := c.write(100, 12, 1, "-"); got != "pm install-write -S 100 12 1 -" {
		t.Fatalf("piped write = %q", got)
	}
	if got := c.commit(12); got != "pm install-commit 12" {
		t.Fatalf("commit = %q", got)
	}
	if got := c.create(); got != "pm install-create -r" {
		t.Fatalf("create = %q", got)
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeStandard, ModeRoot, ModeBroker} {
		got, err := ParseMode(m.String())
		if err != nil || got != m {
			t.Fatalf("ParseMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseMode("shizuku"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
