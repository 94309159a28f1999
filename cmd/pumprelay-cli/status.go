package main

import (
	"context"
	"fmt"

	"github.com/rmacdonaldsmith/pumprelay-go/pkg/httpclient"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/topics"
	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	var announce bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show relay and pump status",
		Long: `Show the relay's health and pump connection state. With --announce the relay
is also asked to republish from-pump/pump-connected to every host.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(announce)
		},
	}

	cmd.Flags().BoolVar(&announce, "announce", false, "Ask the relay to republish pump-connected")
	return cmd
}

func runStatus(announce bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	health, err := client.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}
	printHealth(health)

	if announce {
		if err := requireAuthentication(); err != nil {
			return err
		}
		if _, err := client.SendMessage(ctx, topics.IsPumpConnected, nil); err != nil {
			return fmt.Errorf("failed to query pump connection: %w", err)
		}
		fmt.Fprintf(out, "Asked relay to announce the pump connection\n")
	}
	return nil
}

func printHealth(h *httpclient.HealthResponse) {
	if h.Healthy {
		fmt.Fprintf(out, "Relay %s is healthy\n", h.NodeID)
	} else {
		fmt.Fprintf(out, "Relay %s is not healthy\n", h.NodeID)
	}
	fmt.Fprintf(out, "Pump: %s", h.State)
	if h.PumpConnected {
		fmt.Fprintf(out, " (%s", h.PeripheralName)
		if h.Model != "" {
			fmt.Fprintf(out, ", %s", h.Model)
		}
		fmt.Fprintf(out, ")")
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Initialized: %t\n", h.Initialized)
	fmt.Fprintf(out, "Cached responses: %d\n", h.CacheSize)
	fmt.Fprintf(out, "Queue depth: %d\n", h.QueueDepth)
	fmt.Fprintf(out, "Processed: %d\n", h.Processed)
	fmt.Fprintf(out, "Connected hosts: %d\n", h.ConnectedNodes)
	if h.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", h.Message)
	}
}

func newActivateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Ask the relay to start its foreground activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAuthentication(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if _, err := client.SendMessage(ctx, topics.StartActivity, nil); err != nil {
				return fmt.Errorf("failed to request activity: %w", err)
			}
			fmt.Fprintf(out, "Activity requested\n")
			return nil
		},
	}
}
