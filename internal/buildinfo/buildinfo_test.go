package buildinfo

import (
	"strings"
	"testing"
)

func TestCurrent(t *testing.T) {
	old := Version
	Version = "1.2.3"
	t.Cleanup(func() { Version = old })

	b := Current()
	if b.Version != "1.2.3" {
		t.Errorf("Version = %q", b.Version)
	}
	if !strings.Contains(b.Platform, "/") {
		t.Errorf("Platform = %q, want os/arch", b.Platform)
	}
	if got := b.String(); !strings.HasPrefix(got, "Loresmith 1.2.3 (") {
		t.Errorf("String() = %q", got)
	}
	if got := UserAgent(); !strings.HasPrefix(got, "Loresmith/1.2.3 ") {
		t.Errorf("UserAgent() = %q", got)
	}
	if f := b.Fields(); f[0] != [2]string{"version", "1.2.3"} {
		t.Errorf("Fields()[0] = %v", f[0])
	}
}
