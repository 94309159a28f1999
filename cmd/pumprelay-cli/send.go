package main

import (
	"context"
	"fmt"

	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/topics"
	"github.com/spf13/cobra"
)

// bulkMode selects the inbound topic for a batch of commands
type bulkMode struct {
	topic string
	verb  string
}

var (
	sendBulk   = bulkMode{topic: topics.Commands, verb: "Sent"}
	bustCache  = bulkMode{topic: topics.CommandsBustCache, verb: "Sent (cache busted)"}
	cachedRead = bulkMode{topic: topics.CachedCommands, verb: "Requested from cache"}
)

func newSendCommand() *cobra.Command {
	var txID uint8

	cmd := &cobra.Command{
		Use:   "send COMMAND",
		Short: "Send one command to the pump",
		Long: `Send one command to the pump. The response arrives asynchronously on
from-pump/receive-message; use 'stream' to watch for it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(args[0], txID)
		},
	}

	cmd.Flags().Uint8Var(&txID, "txid", 0, "Transaction id")
	return cmd
}

func newBulkCommand(use, short string, mode bulkMode) *cobra.Command {
	var txID uint8

	cmd := &cobra.Command{
		Use:   use + " COMMAND...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulk(mode, args, txID)
		},
	}

	cmd.Flags().Uint8Var(&txID, "txid", 0, "Transaction id of the first command, incremented per command")
	return cmd
}

func runSend(arg string, txID uint8) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	command, err := parseCommand(arg, txID)
	if err != nil {
		return err
	}
	payload, err := pumpmsg.MarshalCommand(command)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.SendMessage(ctx, topics.Command, payload)
	if err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}

	fmt.Fprintf(out, "Sent %s\n", command)
	fmt.Fprintf(out, "Message ID: %s\n", resp.MessageID)
	return nil
}

func runBulk(mode bulkMode, args []string, firstTxID uint8) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	commands, err := parseCommands(args, firstTxID)
	if err != nil {
		return err
	}
	payload, err := pumpmsg.MarshalCommands(commands)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.SendMessage(ctx, mode.topic, payload)
	if err != nil {
		return fmt.Errorf("failed to send commands: %w", err)
	}

	fmt.Fprintf(out, "%s %d commands\n", mode.verb, resp.Commands)
	for _, c := range commands {
		fmt.Fprintf(out, "  %s\n", c)
	}
	fmt.Fprintf(out, "Message ID: %s\n", resp.MessageID)
	return nil
}
