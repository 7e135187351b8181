package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

var serviceCmd = &cobra.Command{
	Use:   "service <" + strings.Join(service.ControlAction[:], "|") + ">",
	Short: "Control the refractometer system service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		action := args[0]
		if err := validateAction(action); err != nil {
			return err
		}

		log, closeLog, err := setupLogging(cfg.Log, false)
		if err != nil {
			return err
		}
		defer closeLog()

		s, err := newService(log, cfg)
		if err != nil {
			return err
		}
		if err := service.Control(s, action); err != nil {
			return fmt.Errorf("service %s failed: %w", action, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Service %s: done\n", action)
		return nil
	},
}

func validateAction(action string) error {
	if slices.Contains(service.ControlAction[:], action) {
		return nil
	}
	return fmt.Errorf("unknown action %q, valid actions are %v", action, service.ControlAction)
}
