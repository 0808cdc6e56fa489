package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/kata/internal/config"
	"github.com/michaelbrown/kata/internal/storage"
	"github.com/michaelbrown/kata/internal/storage/sqlite"
)

var (
	statusFilter   string
	exerciseFilter string
	limitFlag      int
	exportFormat   string
	exportOutput   string
	forceFlag      bool
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session", "s"},
	Short:   "Manage saved exercise sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session's code, output and submissions",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session as markdown or JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsExport,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd, sessionsExportCmd)

	sessionsListCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (active, running, completed, failed)")
	sessionsListCmd.Flags().StringVar(&exerciseFilter, "exercise", "", "Filter by exercise slug")
	sessionsListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max sessions to show")

	sessionsExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	sessionsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	sessionsDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func openStore() (storage.Store, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return sqlite.Open(cfg.Storage.DBPath)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListSessions(context.Background(), storage.SessionListOptions{
		Status:   storage.SessionStatus(statusFilter),
		Exercise: exerciseFilter,
		Limit:    limitFlag,
	})
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	fmt.Printf("%-10s %-12s %-36s %-16s %s\n", "ID", "STATUS", "TITLE", "EXERCISE", "UPDATED")
	fmt.Println(strings.Repeat("─", 90))

	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		ex := s.Exercise
		if ex == "" {
			ex = "-"
		}
		fmt.Printf("%-10s %-12s %-36s %-16s %s\n",
			shortID(s.ID), s.Status, truncate(title, 34), truncate(ex, 14), timeAgo(s.UpdatedAt))
	}

	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	sess, err := store.GetSession(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Session:  %s\n", sess.ID)
	fmt.Printf("Title:    %s\n", sess.Title)
	if sess.Exercise != "" {
		fmt.Printf("Exercise: %s\n", sess.Exercise)
	}
	fmt.Printf("Status:   %s\n", sess.Status)
	fmt.Printf("Created:  %s\n", sess.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:  %s\n", sess.UpdatedAt.Format(time.RFC3339))

	entries, err := store.LoadTranscript(ctx, sess.ID)
	if err != nil {
		return err
	}

	fmt.Printf("\nOutput: %d entries\n", len(entries))
	fmt.Println(strings.Repeat("─", 60))
	for _, e := range entries {
		fmt.Print(transcriptLine(e))
	}

	subs, err := store.ListSubmissions(ctx, sess.ID)
	if err != nil {
		return err
	}
	if len(subs) > 0 {
		fmt.Printf("\nSubmissions: %d\n", len(subs))
		fmt.Println(strings.Repeat("─", 60))
		for _, sub := range subs {
			verdict := errorColor.Sprint("failed")
			if sub.Passed {
				verdict = passColor.Sprint("passed")
			}
			fmt.Printf("%s  %s  %d cases\n", sub.CreatedAt.Format(time.RFC3339), verdict, len(sub.Results))
		}
	}

	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	sess, err := store.GetSession(ctx, args[0])
	if err != nil {
		return err
	}

	if !forceFlag {
		title := sess.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("Delete session %s - %q? [y/N] ", shortID(sess.ID), title)
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := store.DeleteSession(ctx, sess.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted session %s\n", shortID(sess.ID))
	return nil
}

func runSessionsExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	sess, err := store.GetSession(ctx, args[0])
	if err != nil {
		return err
	}

	entries, err := store.LoadTranscript(ctx, sess.ID)
	if err != nil {
		return err
	}
	subs, err := store.ListSubmissions(ctx, sess.ID)
	if err != nil {
		return err
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(sess, entries, subs)
		if err != nil {
			return err
		}
		output = string(data)
	default:
		output = storage.ExportMarkdown(sess, entries, subs)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Print(output)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// transcriptLine renders one stored output entry.
func transcriptLine(e storage.Entry) string {
	switch e.Kind {
	case "error":
		return errorColor.Sprintln(truncate(e.Text, 200))
	case "input":
		return inputColor.Sprintf("> %s", truncate(strings.TrimSuffix(e.Text, "\n"), 200)) + "\n"
	}
	return e.Text
}
