package main

import (
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jointcal/jointcal/pkg/config"
	daemonutils "github.com/jointcal/jointcal/pkg/utils/daemon"
)

const gInstallation = "Installation:"

func init() {
	commandGroups = append(commandGroups, gInstallation)
}

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	allowNonRootAccess := false
	descriptionPath := ""

	cmd := &cobra.Command{
		Use:         "install",
		Short:       "Install jointcal daemon as a systemd service",
		GroupID:     gInstallation,
		Annotations: map[string]string{annotationOffline: "true"},
		Long: `Install jointcal daemon as a systemd service.

This makes the daemon run in the background and start on boot. You must run
this command as root.

By default, only root is allowed to access the daemon. Use
--allow-non-root-access to let other users start calibrations and parks.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}

			conf.SetAllowNonRootAccess(allowNonRootAccess)
			if allowNonRootAccess {
				logrus.Info("non-root users are allowed to access the jointcal daemon.")
			} else {
				logrus.Info("only root user is allowed to access the jointcal daemon.")
			}
			if descriptionPath != "" {
				if _, err := config.LoadDescription(descriptionPath); err != nil {
					return err
				}
				conf.SetDescriptionPath(descriptionPath)
			}

			err = conf.Save()
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			err = daemonutils.Install(configPath, unixSocketPath)
			if err != nil {
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v. Are you root?", err)
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()
			cmd.Printf("systemd will use the current binary (%s) at startup. If you move it, run `jointcal install' again.\n", exePath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Allow non-root users to access the jointcal daemon.")
	cmd.Flags().StringVar(&descriptionPath, "description", "", "Part description file the daemon loads")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "uninstall",
		Short:       "Stop the daemon and remove its systemd service",
		GroupID:     gInstallation,
		Annotations: map[string]string{annotationOffline: "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := daemonutils.Uninstall(); err != nil {
				return err
			}
			logrus.Infof("uninstallation succeeded")
			return nil
		},
	}
}
