package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"quant/internal/console"
)

type command struct {
	key  string
	help string
	run  func(ctx context.Context, args []string) error
}

// RunCommands reads one command per line from in and applies it to t until
// the trader shuts down, in is exhausted or ctx is done.
func RunCommands(ctx context.Context, t *Trader, in io.Reader, out *console.Renderer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	next := func() (string, bool) {
		select {
		case line, ok := <-lines:
			return line, ok
		case <-ctx.Done():
			return "", false
		}
	}

	var commands []command
	help := func(context.Context, []string) error {
		out.Println("Commands:")
		for _, c := range commands {
			out.Println(fmt.Sprintf("\t%s: %s", c.key, c.help))
		}
		return nil
	}
	reduce := func(ctx context.Context, args []string) error {
		if !t.HasOpenPosition() {
			return fmt.Errorf("%w to reduce", ErrNoPosition)
		}
		raw := ""
		if len(args) > 0 {
			raw = args[0]
		} else {
			out.Println("Reduce position by how many shares? ")
			line, ok := next()
			if !ok {
				return io.ErrUnexpectedEOF
			}
			raw = strings.TrimSpace(line)
		}
		qty, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidQuantity, raw)
		}
		return t.ReducePosition(ctx, qty)
	}
	commands = []command{
		{"q", "Quit the trader program", func(context.Context, []string) error { return t.Shutdown(false) }},
		{"o", "Open a delayed-open position", func(ctx context.Context, _ []string) error { return t.OpenPosition(ctx) }},
		{"c", "Close an open position", func(ctx context.Context, _ []string) error { return t.ClosePosition(ctx) }},
		{"s", "Position and order status", func(context.Context, []string) error { t.Status(); return nil }},
		{"Q", "Force quit, without closing positions", func(context.Context, []string) error { return t.Shutdown(true) }},
		{"h", "Display this help menu", help},
		{"r", "Reduce the position (prompts for share quantity)", reduce},
	}

	_ = help(ctx, nil)
	for t.Active() {
		line, ok := next()
		if !ok {
			return ctx.Err()
		}
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}

		var cmd *command
		for i := range commands {
			if commands[i].key == tokens[0] {
				cmd = &commands[i]
				break
			}
		}
		if cmd == nil {
			out.Announce("Unrecognized command %s", tokens[0])
			_ = help(ctx, nil)
			continue
		}

		out.Announce("%s", cmd.help)
		if err := cmd.run(ctx, tokens[1:]); err != nil {
			out.Error("Error executing %q: %v", strings.Join(tokens, " "), err)
			t.Status()
		}
	}
	return nil
}
