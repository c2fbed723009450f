// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"errors"
	"strings"
)

// commandKind identifies a line typed by the user.
type commandKind int

const (
	commandMessage commandKind = iota
	commandAuth
	commandJoin
	commandRename
	commandHelp
)

// command is a parsed input line.
type command struct {
	kind commandKind

	// args holds the arguments in order: username, secret and display
	// name for auth; channel for join; display name for rename; text for
	// a message.
	args []string
}

const helpText = `Commands:
  /auth {Username} {Secret} {DisplayName}  log in
  /join {ChannelID}                        switch channel
  /rename {DisplayName}                    change the local display name
  /help                                    print this help
Any other line is sent as a message.`

var (
	errInvalidCommand     = errors.New("invalid command")
	errMissingSecret      = errors.New("missing secret for command auth")
	errMissingDisplayName = errors.New("missing display name for command auth")
)

// parseCommand parses a line typed by the user.
func parseCommand(line string) (command, error) {
	if !strings.HasPrefix(line, "/") {
		return command{kind: commandMessage, args: []string{line}}, nil
	}
	name, rest, _ := strings.Cut(line[1:], " ")

	switch name {
	case "auth":
		username, rest, ok := strings.Cut(rest, " ")
		if !ok {
			return command{}, errMissingSecret
		}
		secret, displayName, ok := strings.Cut(rest, " ")
		if !ok {
			return command{}, errMissingDisplayName
		}
		return command{kind: commandAuth, args: []string{username, secret, displayName}}, nil

	case "join":
		return command{kind: commandJoin, args: []string{rest}}, nil

	case "rename":
		return command{kind: commandRename, args: []string{rest}}, nil

	case "help":
		if rest != "" {
			return command{}, errInvalidCommand
		}
		return command{kind: commandHelp}, nil

	default:
		return command{}, errInvalidCommand
	}
}
