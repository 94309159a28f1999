package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
)

// parseCommand parses channel:opcode:response-opcode[:hex-payload].
func parseCommand(arg string, txID uint8) (pumpmsg.Command, error) {
	parts := strings.Split(strings.TrimSpace(arg), ":")
	if len(parts) < 3 || len(parts) > 4 {
		return pumpmsg.Command{}, fmt.Errorf("command %q: want channel:opcode:response-opcode[:hex-payload]", arg)
	}

	channel, err := pumpmsg.ParseCharacteristic(parts[0])
	if err != nil {
		return pumpmsg.Command{}, fmt.Errorf("command %q: %w", arg, err)
	}
	opcode, err := parseOpcode(parts[1])
	if err != nil {
		return pumpmsg.Command{}, fmt.Errorf("command %q: opcode: %w", arg, err)
	}
	responseOpcode, err := parseOpcode(parts[2])
	if err != nil {
		return pumpmsg.Command{}, fmt.Errorf("command %q: response opcode: %w", arg, err)
	}

	var payload []byte
	if len(parts) == 4 && parts[3] != "" {
		payload, err = hex.DecodeString(parts[3])
		if err != nil {
			return pumpmsg.Command{}, fmt.Errorf("command %q: payload: %w", arg, err)
		}
	}

	cmd := pumpmsg.NewCommand(channel, opcode, responseOpcode, payload)
	cmd.TxID = txID
	return cmd, nil
}

// parseCommands parses args in order, numbering transactions from firstTxID.
func parseCommands(args []string, firstTxID uint8) ([]pumpmsg.Command, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("at least one command is required")
	}
	cmds := make([]pumpmsg.Command, 0, len(args))
	for i, arg := range args {
		cmd, err := parseCommand(arg, firstTxID+uint8(i))
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func parseOpcode(s string) (pumpmsg.Opcode, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 8)
	if err != nil {
		return 0, err
	}
	return pumpmsg.Opcode(v), nil
}
