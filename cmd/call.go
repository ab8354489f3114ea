package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"switchboard/internal/toolcall"
)

var (
	callTimeout time.Duration
	callQuiet   bool
	callJSON    bool
)

var callCmd = &cobra.Command{
	Use:   "call <server>/<tool> [key=value...]",
	Short: "Invoke a tool through the gateway",
	Long: `Sends one tool call request over the bus and prints the result.

Arguments are given as key=value pairs. Values that parse as JSON (numbers,
booleans, objects, arrays, quoted strings) are passed as such; anything
else is passed as a string.

Examples:
  switchboard call core/echo text="hello world"
  switchboard call core/add a=2 b=3.5
  switchboard call core/time_now timezone=Europe/Berlin`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

func runCall(cmd *cobra.Command, args []string) error {
	target, err := toolcall.ParseTarget(args[0])
	if err != nil {
		return err
	}
	toolArgs, err := parseToolArgs(args[1:])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var spin *spinner.Spinner
	if !callQuiet {
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		spin.Suffix = fmt.Sprintf(" Calling %s...", target)
		spin.Writer = cmd.ErrOrStderr()
		spin.Start()
	}

	requester := toolcall.NewRequester(s.Bus, toolcall.Config{Timeout: s.Config.Tools.Timeout})
	var opts []toolcall.CallOption
	if callTimeout > 0 {
		opts = append(opts, toolcall.WithTimeout(callTimeout))
	}
	outcome := requester.Invoke(ctx, target, toolArgs, opts...)

	if spin != nil {
		spin.Stop()
	}

	out := cmd.OutOrStdout()
	if !outcome.OK() {
		if callJSON {
			return printJSON(out, map[string]any{"error": outcome.Failure.Reason, "kind": outcome.Failure.Kind})
		}
		fmt.Fprintln(cmd.ErrOrStderr(), text.FgRed.Sprintf("%s failed (%s)", target, outcome.Failure.Kind))
		return outcome.Err()
	}

	if callJSON {
		var value any
		if err := outcome.Decode(&value); err != nil {
			return err
		}
		return printJSON(out, value)
	}
	fmt.Fprintln(out, outcome.Text())
	return nil
}

// parseToolArgs turns key=value pairs into tool arguments.
func parseToolArgs(pairs []string) (map[string]any, error) {
	args := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q, expected key=value", pair)
		}
		if _, dup := args[key]; dup {
			return nil, fmt.Errorf("argument %q given more than once", key)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		args[key] = value
	}
	return args, nil
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().DurationVar(&callTimeout, "timeout", 0, "Call deadline (default from tools.timeout)")
	callCmd.Flags().BoolVarP(&callQuiet, "quiet", "q", false, "Do not show a progress spinner")
	callCmd.Flags().BoolVar(&callJSON, "json", false, "Print the result as JSON")
}
