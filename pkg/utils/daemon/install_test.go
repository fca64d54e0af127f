package daemon

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func fakeSystemctl(t *testing.T) *[][]string {
	t.Helper()

	origPath, origRun := unitPath, runSystemctl
	t.Cleanup(func() { unitPath, runSystemctl = origPath, origRun })

	unitPath = filepath.Join(t.TempDir(), "systemd", "jointcal.service")
	var calls [][]string
	runSystemctl = func(args ...string) error {
		calls = append(calls, args)
		return nil
	}
	return &calls
}

func TestRenderUnit(t *testing.T) {
	unit := renderUnit("/usr/local/bin/jointcal", "/etc/jointcal.json", "/run/jointcal.sock")
	want := "ExecStart=/usr/local/bin/jointcal daemon --config=/etc/jointcal.json --daemon-socket=/run/jointcal.sock"
	if !strings.Contains(unit, want) {
		t.Fatalf("unit does not contain %q:\n%s", want, unit)
	}
	if !strings.Contains(unit, "ExecReload=/bin/kill -HUP $MAINPID") {
		t.Fatalf("unit lost the reload line:\n%s", unit)
	}
}

func TestInstallUninstall(t *testing.T) {
	calls := fakeSystemctl(t)

	if err := installUnit("unit"); err != nil {
		t.Fatalf("installUnit returned error: %v", err)
	}
	b, err := os.ReadFile(unitPath)
	if err != nil || string(b) != "unit" {
		t.Fatalf("unit file = %q, %v", b, err)
	}

	if err := Uninstall(); err != nil {
		t.Fatalf("Uninstall returned error: %v", err)
	}
	if _, err := os.Stat(unitPath); !os.IsNotExist(err) {
		t.Fatalf("unit file still present: %v", err)
	}

	want := [][]string{
		{"daemon-reload"},
		{"enable", "--now", "jointcal.service"},
		{"disable", "--now", "jointcal.service"},
		{"daemon-reload"},
	}
	if !reflect.DeepEqual(*calls, want) {
		t.Fatalf("systemctl calls = %v, want %v", *calls, want)
	}
}

func TestUninstallWithoutUnit(t *testing.T) {
	calls := fakeSystemctl(t)

	if err := Uninstall(); err != nil {
		t.Fatalf("Uninstall returned error: %v", err)
	}
	if len(*calls) != 1 {
		t.Fatalf("systemctl calls = %v, want only disable", *calls)
	}
}
