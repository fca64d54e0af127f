package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Uninstall stops and disables the daemon and removes its unit. Stopping
// the daemon lets it park the part first when parkOnShutdown is set.
func Uninstall() error {
	logrus.Infof("stopping jointcal")

	if err := runSystemctl("disable", "--now", filepath.Base(unitPath)); err != nil {
		return fmt.Errorf("failed to stop jointcal: %w. Are you root?", err)
	}

	logrus.Infof("removing systemd unit")

	// if the file doesn't exist, we don't need to remove it
	_, err := os.Stat(unitPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", unitPath, err)
	}

	err = os.Remove(unitPath)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w. Are you root?", unitPath, err)
	}

	return runSystemctl("daemon-reload")
}
