// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bassosimone/ipkchat"
)

// chat runs the interactive loop on top of a connected session.
type chat struct {
	pollInterval time.Duration
	session      *ipkchat.Session
	stderr       io.Writer
	stdout       io.Writer
}

// readLines sends the lines read from r and closes the channel on EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- strings.TrimRight(scanner.Text(), "\r")
		}
	}()
	return lines
}

// run executes lines and prints incoming messages until the session ends,
// lines is closed or ctx is done.
//
// It returns the error that ended the session, if any.
func (c *chat) run(ctx context.Context, lines <-chan string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.bye()
		case line, ok := <-lines:
			if !ok {
				return c.bye()
			}
			if err := c.execute(line); err != nil {
				if c.ended() {
					return err
				}
				c.printError(err)
			}
		case <-ticker.C:
		}

		if err := c.session.Poll(); err != nil {
			return err
		}
		if err := c.drain(); err != nil {
			return err
		}
		if c.ended() {
			return nil
		}
	}
}

func (c *chat) ended() bool {
	return c.session.State() == ipkchat.StateEnd
}

func (c *chat) bye() error {
	if c.ended() {
		return nil
	}
	return c.session.Bye()
}

// execute runs a single input line.
func (c *chat) execute(line string) error {
	if line == "" {
		return nil
	}
	cmd, err := parseCommand(line)
	if err != nil {
		return err
	}

	switch cmd.kind {
	case commandAuth:
		return c.session.Authorize(cmd.args[0], cmd.args[1], cmd.args[2])
	case commandJoin:
		return c.session.Join(cmd.args[0])
	case commandRename:
		return c.session.SetDisplayName(cmd.args[0])
	case commandHelp:
		fmt.Fprintln(c.stdout, helpText)
		return nil
	default:
		return c.session.Send(cmd.args[0])
	}
}

// drain prints all the available messages.
func (c *chat) drain() error {
	for {
		msg, err := c.session.Receive()
		if errors.Is(err, ipkchat.ErrNoMessage) {
			return nil
		}
		if err != nil {
			return err
		}
		c.print(msg)
	}
}

func (c *chat) print(msg ipkchat.Message) {
	switch msg := msg.(type) {
	case ipkchat.MsgMessage:
		fmt.Fprintf(c.stdout, "%s: %s\n", msg.DisplayName, msg.Content)
	case ipkchat.ErrMessage:
		fmt.Fprintf(c.stderr, "ERROR FROM %s: %s\n", msg.DisplayName, msg.Content)
	case ipkchat.ReplyMessage:
		if msg.OK {
			fmt.Fprintf(c.stderr, "Success: %s\n", msg.Content)
		} else {
			fmt.Fprintf(c.stderr, "Failure: %s\n", msg.Content)
		}
	}
}

func (c *chat) printError(err error) {
	fmt.Fprintf(c.stderr, "ERROR: %s\n", err)
}
