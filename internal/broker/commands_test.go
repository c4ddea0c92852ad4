package broker

import "testing"

func TestPermitted(t *testing.T) {
	tests := []struct {
		command string
		want    bool
	}{
		{"pm install -r /data/local/tmp/app.apk", true},
		{`pm install -r '/data/local/tmp/my app.apk'`, true},
		{`pm install -r '/tmp/it'\''s.apk'`, true},
		{"pm install-create -r", true},
		{"pm install-write -S 120 5 0 -", true},
		{"pm install-write -S 120 5 1 /staging/base.apk", true},
		{"pm install-commit 5", true},
		{"pm install-abandon 5", true},

		{"", false},
		{"pm", false},
		{"pm list packages", false},
		{"pm uninstall com.example", false},
		{"pm install-create -r; id", false},
		{"pm install-commit 5 && reboot", false},
		{"pm install-commit $(id)", false},
		{"pm install -r /tmp/a.apk; rm -rf /", false},
		{`pm install -r '/tmp/a.apk'; id`, false},
		{`pm install -r '/tmp/a'\''; id; '\''b.apk'`, true},
		{`pm install -r '/tmp/a''b'`, false},
		{"pm install -r -d", false},
		{"pm install-write -S x 5 0 -", false},
		{"pm install-write -S 1 5 0 - | sh", false},
		{"sh -c 'pm install-create -r'", false},
		{"/system/bin/pm install-create -r", false},
		{"echo PWNED; id -u", false},
	}
	for _, tt := range tests {
		if got := permitted("pm", tt.command); got != tt.want {
			t.Errorf("permitted(%q) = %v, want %v", tt.command, got, tt.want)
		}
	}
}

func TestPermittedConfiguredBinary(t *testing.T) {
	if !permitted("/system/bin/pm", "/system/bin/pm install-commit 7") {
		t.Fatal("configured pm path refused")
	}
	if permitted("/system/bin/pm", "pm install-commit 7") {
		t.Fatal("other pm binary accepted")
	}
}
