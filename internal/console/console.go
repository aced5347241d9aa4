// Package console provides the interactive terminal loop for poking the
// session by hand: send a message to a chat, or log out and exit.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/DGGua/oicq/internal/session"
)

const helpText = `commands:
  send <chat_id> <message>   send a message; group ids route to the group
  bye                        log out and exit
`

// Run reads commands from in until EOF, ctx cancellation, or "bye".
func Run(ctx context.Context, sess session.Session, logger *slog.Logger, in io.Reader, out io.Writer) {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch cmd, rest := splitCommand(line); cmd {
		case "send":
			target, message, err := parseSend(rest)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			if err := deliver(sess, target, message); err != nil {
				logger.Warn("console send failed", "target", target, "error", err)
				fmt.Fprintf(out, "send failed: %v\n", err)
			}
		case "bye":
			if err := sess.Logout(); err != nil {
				logger.Warn("console logout failed", "error", err)
			}
			return
		default:
			fmt.Fprint(out, helpText)
		}
	}
}

// deliver routes to the group sender when the session knows the chat as a
// group, otherwise to the private sender.
func deliver(sess session.Session, target int64, message string) error {
	if sess.HasGroup(target) {
		return sess.SendGroupMessage(target, message, nil)
	}
	return sess.SendPrivateMessage(target, message, nil)
}

func splitCommand(line string) (string, string) {
	cmd, rest, _ := strings.Cut(line, " ")
	return cmd, strings.TrimSpace(rest)
}

func parseSend(rest string) (int64, string, error) {
	idText, message, ok := strings.Cut(rest, " ")
	if !ok || strings.TrimSpace(message) == "" {
		return 0, "", fmt.Errorf("usage: send <chat_id> <message>")
	}
	target, err := strconv.ParseInt(idText, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("chat id %q is not a number", idText)
	}
	return target, strings.TrimSpace(message), nil
}
