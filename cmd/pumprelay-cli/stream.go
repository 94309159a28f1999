package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rmacdonaldsmith/pumprelay-go/pkg/httpclient"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/topics"
	"github.com/spf13/cobra"
)

func newStreamCommand() *cobra.Command {
	var (
		topic      string
		bufferSize int
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream pump messages in real-time",
		Long: `Attach to the relay as a host node and print what it publishes, using
Server-Sent Events. Responses and pairing challenges are decoded.
Press Ctrl+C to stop streaming.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(topic, bufferSize)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Outbound topic to stream (all topics if not specified)")
	cmd.Flags().IntVar(&bufferSize, "buffer-size", 100, "Message buffer size")
	return cmd
}

func runStream(topic string, bufferSize int) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	streamClient, err := client.Stream(ctx, httpclient.StreamConfig{
		Topic:      topic,
		BufferSize: bufferSize,
	})
	if err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	defer func() {
		if err := streamClient.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close stream client: %v\n", err)
		}
	}()

	if topic == "" {
		topic = "all topics"
	}
	fmt.Fprintf(out, "Streaming %s from %s, Ctrl+C to stop\n", topic, serverURL)

	count := 0
	errs := streamClient.Errors()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "\nStream stopped. Received %d messages.\n", count)
			return nil

		case msg, ok := <-streamClient.Messages():
			if !ok {
				fmt.Fprintf(out, "\nStream closed. Received %d messages.\n", count)
				return nil
			}
			count++
			printMessage(msg)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			// errors are non-fatal, the client reconnects
			fmt.Fprintf(os.Stderr, "Stream error: %v\n", err)

		case <-streamClient.Done():
			fmt.Fprintf(out, "\nStream finished. Received %d messages.\n", count)
			return nil
		}
	}
}

// printMessage writes one message, decoding the payload where its topic has a
// known encoding.
func printMessage(msg httpclient.StreamMessage) {
	fmt.Fprintf(out, "%s %s\n", msg.Timestamp.Format("15:04:05.000"), msg.Topic)

	switch topics.Normalize(msg.Topic) {
	case topics.ReceiveMessage, topics.ReceiveCachedMessage, topics.WaitingForPairingCode:
		if len(msg.Payload) == 0 {
			fmt.Fprintf(out, "  (no payload)\n")
			return
		}
		resp, err := pumpmsg.UnmarshalResponse(msg.Payload)
		if err != nil {
			fmt.Fprintf(out, "  undecodable response: %v\n  %s\n", err, hex.EncodeToString(msg.Payload))
			return
		}
		fmt.Fprintf(out, "  %s\n", resp)
	case topics.ReceiveQualifyingEvent:
		events, err := pumpmsg.UnmarshalQualifyingEvents(msg.Payload)
		if err != nil {
			fmt.Fprintf(out, "  undecodable events: %v\n", err)
			return
		}
		fmt.Fprintf(out, "  events: %v\n", events)
	default:
		fmt.Fprintf(out, "  %s\n", string(msg.Payload))
	}
}
