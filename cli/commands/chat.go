package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/petal-labs/carelink/core"
	"github.com/petal-labs/carelink/services/assistant"
)

func (a *App) newChatCommand() *cobra.Command {
	var prompt, thread string

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Ask the assistant and stream its replies",
		Long: `Send a prompt to the assistant and print replies as they arrive.

The prompt comes from --prompt, the arguments, or stdin when it is not a
terminal. Pass --thread to continue a conversation; the thread ID is
printed on stderr when the stream ends.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := a.chatPrompt(prompt, args)
			if err != nil {
				return exitWithCode(ExitValidation, err)
			}

			client, err := a.newClient()
			if err != nil {
				return err
			}

			if thread == "" {
				thread = assistant.NewThreadID()
			}
			replies, err := assistant.New(client).Ask(cmd.Context(), text, thread)
			if err != nil {
				return a.fail(err)
			}

			enc := json.NewEncoder(a.stdout)
			count := 0
			for res := range replies {
				msg, err := res.Get()
				if err != nil {
					// Parse errors affect one line only.
					if errors.Is(err, core.ErrSerialization) {
						a.logger.Debug("skipping reply", zap.Error(err))
						fmt.Fprintf(a.stderr, "warning: %v\n", err)
						continue
					}
					return a.fail(err)
				}

				count++
				if a.jsonOutput {
					if err := enc.Encode(msg); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintln(a.stdout, msg.Text)
			}

			a.logger.Debug("chat finished", zap.String("thread", thread), zap.Int("replies", count))
			if !a.jsonOutput {
				fmt.Fprintf(a.stderr, "thread: %s\n", thread)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "prompt to send")
	cmd.Flags().StringVar(&thread, "thread", "", "thread ID to continue")
	return cmd
}

// chatPrompt picks the prompt from the flag, the arguments, or piped stdin.
func (a *App) chatPrompt(flag string, args []string) (string, error) {
	text := strings.TrimSpace(flag)
	if text == "" {
		text = strings.TrimSpace(strings.Join(args, " "))
	}
	if text == "" && !isTerminal(a.stdin) {
		b, err := io.ReadAll(a.stdin)
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		text = strings.TrimSpace(string(b))
	}
	if text == "" {
		return "", errors.New("a prompt is required (use --prompt, an argument, or stdin)")
	}
	return text, nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
