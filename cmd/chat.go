package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"switchboard/internal/broker"
	"switchboard/internal/messages"
)

var (
	chatLocation string
	chatTimeout  time.Duration
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the assistant",
	Long: `Publishes what you type as transcripts and prints the assistant's answers,
the same way the speech pipeline talks to switchboard.

With a message argument, sends that one message and exits. Without, starts
an interactive session; type 'exit' or press Ctrl+D to leave.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

// chatClient sends transcripts and waits for the matching response.
type chatClient struct {
	bus       *broker.Client
	location  string
	timeout   time.Duration
	responses chan messages.Response
	sub       *broker.Subscription
}

func newChatClient(ctx context.Context, bus *broker.Client, location string, timeout time.Duration) (*chatClient, error) {
	c := &chatClient{
		bus:       bus,
		location:  location,
		timeout:   timeout,
		responses: make(chan messages.Response, 8),
	}
	route := messages.Handle(messages.LLMResponse, func(_ context.Context, _ broker.Envelope, resp messages.Response) error {
		if c.location != "" && resp.Location != "" && resp.Location != c.location {
			return nil
		}
		c.responses <- resp
		return nil
	})
	sub, err := bus.Subscribe(ctx, route.Topic, route.Handler)
	if err != nil {
		return nil, err
	}
	c.sub = sub
	return c, nil
}

// Ask publishes input and waits for the next response.
func (c *chatClient) Ask(ctx context.Context, input string) (messages.Response, error) {
	// Drop answers to earlier questions that arrived after their timeout.
	for len(c.responses) > 0 {
		<-c.responses
	}

	if err := messages.Transcription.Publish(ctx, c.bus, messages.Transcript{Text: input, Location: c.location}); err != nil {
		return messages.Response{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	select {
	case resp := <-c.responses:
		return resp, nil
	case <-waitCtx.Done():
		return messages.Response{}, fmt.Errorf("no answer within %s", c.timeout)
	}
}

func (c *chatClient) Close() {
	_ = c.bus.Unsubscribe(context.Background(), c.sub)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	client, err := newChatClient(ctx, s.Bus, chatLocation, chatTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	if len(args) == 1 {
		resp, err := ask(ctx, cmd, client, args[0])
		if err != nil {
			return err
		}
		printResponse(cmd.OutOrStdout(), resp)
		return nil
	}
	return chatLoop(ctx, cmd, client)
}

func chatLoop(ctx context.Context, cmd *cobra.Command, client *chatClient) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            text.FgHiCyan.Sprint("you") + " » ",
		HistoryFile:       filepath.Join(os.TempDir(), ".switchboard_chat_history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(rl.Stdout(), "Connected. Type 'exit' or press Ctrl+D to leave.")
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		} else if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		resp, err := ask(ctx, cmd, client, input)
		if err != nil {
			fmt.Fprintln(rl.Stderr(), text.FgRed.Sprint(err.Error()))
			continue
		}
		printResponse(rl.Stdout(), resp)
	}
}

func ask(ctx context.Context, cmd *cobra.Command, client *chatClient, input string) (messages.Response, error) {
	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	spin.Suffix = " Thinking..."
	spin.Writer = cmd.ErrOrStderr()
	spin.Start()
	defer spin.Stop()
	return client.Ask(ctx, input)
}

func printResponse(w io.Writer, resp messages.Response) {
	if resp.Error {
		fmt.Fprintln(w, text.FgRed.Sprint(resp.Text))
		return
	}
	fmt.Fprintf(w, "%s » %s\n", text.FgHiGreen.Sprint("assistant"), resp.Text)

	var details []string
	for _, call := range resp.ToolCalls {
		label := call.Server + "/" + call.Tool
		if call.Failure != "" {
			label += " (failed: " + call.Failure + ")"
		}
		details = append(details, label)
	}
	if len(details) > 0 {
		fmt.Fprintf(w, "%s\n", text.FgHiBlack.Sprintf("  tools: %s", strings.Join(details, ", ")))
	}
	if resp.Truncated {
		fmt.Fprintf(w, "%s\n", text.FgYellow.Sprint("  (stopped after the maximum number of tool rounds)"))
	}
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&chatLocation, "location", "terminal", "Location reported with each transcript")
	chatCmd.Flags().DurationVar(&chatTimeout, "timeout", 2*time.Minute, "How long to wait for an answer")
}
