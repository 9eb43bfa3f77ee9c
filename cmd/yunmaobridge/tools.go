package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nerrad567/yunmao-bridge/internal/bridges/yunmao"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/config"
)

// newQueryCmd prints one full gateway snapshot. It does not start the push
// listener and does not touch the device directory.
func newQueryCmd(configPath *string) *cobra.Command {
	var mac string

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Fetch and print the gateway's current attribute snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigPath(*configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			poller := yunmao.NewPoller(yunmao.PollerConfig{
				GatewayAddress: cfg.Gateway.Address,
				Port:           cfg.Gateway.CommandPort,
				ReadTimeout:    cfg.Gateway.QueryTimeout,
			}, yunmao.NewStateCache())

			snap, err := poller.Query(cmd.Context())
			if err != nil {
				return err
			}
			if mac != "" {
				attrs, ok := snap[mac]
				if !ok {
					return fmt.Errorf("module %s not in snapshot (%d modules)", mac, len(snap))
				}
				snap = yunmao.AttributeSnapshot{mac: attrs}
			}
			return printSnapshot(cmd, snap)
		},
	}
	cmd.Flags().StringVar(&mac, "mac", "", "only print this module")
	return cmd
}

func printSnapshot(cmd *cobra.Command, snap yunmao.AttributeSnapshot) error {
	macs := make([]string, 0, len(snap))
	for mac := range snap {
		macs = append(macs, mac)
	}
	sort.Strings(macs)

	out := cmd.OutOrStdout()
	for _, mac := range macs {
		data, err := json.Marshal(snap[mac])
		if err != nil {
			return fmt.Errorf("encoding %s: %w", mac, err)
		}
		fmt.Fprintf(out, "%s %s\n", mac, data)
	}
	return nil
}

// newSendCmd sends one raw attribute command, e.g.
//
//	yunmaobridge send --mac FFFF301B977B72F1 --attr KY2 --value ON
func newSendCmd(configPath *string) *cobra.Command {
	var mac, attr, value string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one attribute command to a gateway module",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !config.ValidMAC(mac) {
				return fmt.Errorf("--mac %q must be 16 hex characters", mac)
			}
			cfg, err := config.Load(resolveConfigPath(*configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			sender := yunmao.NewSender(yunmao.SenderConfig{
				Port:    cfg.Gateway.CommandPort,
				Timeout: cfg.Gateway.CommandTimeout,
			})
			if err := sender.SendCommand(cmd.Context(), cfg.Gateway.Address, mac, attr, value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s=%s to %s\n", attr, value, mac)
			return nil
		},
	}
	cmd.Flags().StringVar(&mac, "mac", "", "module MAC (16 hex characters)")
	cmd.Flags().StringVar(&attr, "attr", "", "attribute name, e.g. KY1, WIN, LEV")
	cmd.Flags().StringVar(&value, "value", "", "attribute value, e.g. ON, OPEN, 40")
	for _, name := range []string{"mac", "attr", "value"} {
		//nolint:errcheck // flag names are defined above
		cmd.MarkFlagRequired(name)
	}
	return cmd
}
