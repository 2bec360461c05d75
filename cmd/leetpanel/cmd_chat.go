package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"leetpanel/internal/markdown"
	"leetpanel/internal/transcript"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// reloadCmd switches to the problem on the active tab
var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Drop the current session and start over on the active tab's problem",
	Long: `Deletes the current session, detects the problem on the active tab again,
and starts a new session under the same username if there was one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			bootstrapQuietly(ctx, a)
			if err := a.machine.ReloadForNewQuestion(ctx); err != nil {
				logger.Warn("Reload incomplete", zap.Error(err))
			}
			printState(os.Stdout, a.machine.Snapshot())
			return nil
		})
	},
}

// sendCmd sends one chat message
var sendCmd = &cobra.Command{
	Use:   "send [text...]",
	Short: "Send a message and print the refreshed transcript",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		return withApp(func(ctx context.Context, a *app) error {
			bootstrapQuietly(ctx, a)
			err := a.transcript.Send(ctx, text)
			printTranscript(os.Stdout, a.transcript.Entries())
			return userError(err)
		})
	},
}

// exportCmd writes the transcript as HTML
var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the transcript as an HTML document (stdout when no file is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			bootstrapQuietly(ctx, a)
			if err := a.transcript.Refresh(ctx); err != nil {
				return userError(err)
			}
			doc := htmlDocument(a.machine.Snapshot().Question.Label(), a.transcript.RenderHTML())
			if len(args) == 0 {
				_, err := io.WriteString(os.Stdout, doc)
				return err
			}
			if err := os.WriteFile(args[0], []byte(doc), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", args[0], err)
			}
			logger.Info("Exported transcript", zap.String("path", args[0]))
			return nil
		})
	},
}

// renderCmd renders markdown to HTML
var renderCmd = &cobra.Command{
	Use:   "render [file]",
	Short: "Render markdown from a file (or stdin) to safe HTML",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var src []byte
		var err error
		if len(args) == 1 {
			src, err = os.ReadFile(args[0])
		} else {
			src, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), markdown.Render(string(src)))
		return nil
	},
}

func printTranscript(w io.Writer, entries []transcript.Entry) {
	for _, e := range entries {
		who := "You"
		if e.Role == transcript.RoleAssistant {
			who = "Tutor"
		}
		fmt.Fprintf(w, "%s:\n%s\n\n", who, e.Content)
	}
}

func htmlDocument(title, body string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>")
	b.WriteString(markdown.EscapeText(title))
	b.WriteString("</title>\n</head>\n<body>\n")
	b.WriteString(body)
	b.WriteString("</body>\n</html>\n")
	return b.String()
}
