// Package repl is a manual test harness: each line typed is sent straight
// to the agent, with no memory and no prompt composition.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ashureev/finchat/internal/agent"
	"github.com/ashureev/finchat/internal/convlog"
)

const banner = "Finance Chatbot (type 'exit' to quit)\n"

// Run reads lines from in until exit, quit, EOF or ctx cancellation. Errors
// from a single turn are printed and the loop continues.
func Run(ctx context.Context, in io.Reader, out io.Writer, builder agent.Builder, convLogger convlog.Logger, sessionID string) error {
	if convLogger == nil {
		convLogger = convlog.Noop{}
	}

	fmt.Fprint(out, banner+"\n")
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "exit", "quit":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}

		convLogger.Log(convlog.Event{SessionID: sessionID, Channel: convlog.ChannelREPL, Direction: "inbound", EventType: convlog.EventUserMessage, ContentRaw: line})
		reply, err := Ask(ctx, builder, line)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			convLogger.Log(convlog.Event{SessionID: sessionID, Channel: convlog.ChannelREPL, Direction: "internal", EventType: convlog.EventError, Error: err.Error()})
			continue
		}
		fmt.Fprintf(out, "Bot: %s\n", reply)
		convLogger.Log(convlog.Event{SessionID: sessionID, Channel: convlog.ChannelREPL, Direction: "outbound", EventType: convlog.EventBotReply, ContentRaw: reply})
	}
}

// Ask sends one prompt to the agent and returns its normalized reply.
func Ask(ctx context.Context, builder agent.Builder, prompt string) (string, error) {
	a, err := builder.Build(ctx)
	if err != nil {
		return "", err
	}
	result, err := a.Invoke(ctx, prompt)
	if err != nil {
		return "", err
	}
	return result.Reply()
}
