package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pavelanni/examgrader/internal/attempt"
	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/store"
)

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade one submission and record it as the next attempt",
		RunE:  runGrade,
	}
	f := cmd.Flags()
	f.String("exam-id", "", "Exam identifier (required)")
	f.String("answers", "-", "Answers JSON file: [{\"question_id\": 1, \"answer\": \"...\"}] (- for stdin)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addStoreFlags(f)
	addGradingFlags(f)
	addLogFlags(f)
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import exam JSON files (either schema version)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	addStoreFlags(cmd.Flags())
	addLogFlags(cmd.Flags())
	return cmd
}

func attemptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Show the next attempt number and the wrong questions of the latest attempt",
		RunE:  runAttempts,
	}
	f := cmd.Flags()
	f.String("exam-id", "", "Exam identifier (required)")
	addStoreFlags(f)
	addLogFlags(f)
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the attempt history of an exam as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("exam-id", "", "Exam identifier (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addStoreFlags(f)
	addLogFlags(f)
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runGrade(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := commandContext(cmd)

	answers, err := readAnswers(v.GetString("answers"))
	if err != nil {
		return err
	}

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	g, err := newGrader(v, db)
	if err != nil {
		return err
	}
	res, err := g.service.Submit(ctx, v.GetString("exam-id"), answers)
	if err != nil {
		return err
	}
	return writeOutput(v.GetString("output"), res)
}

func readAnswers(path string) ([]model.StudentAnswer, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}
	var answers []model.StudentAnswer
	if err := json.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("parse answers: %w", err)
	}
	return answers, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := commandContext(cmd)

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	return importFiles(ctx, db, args)
}

func importFiles(ctx context.Context, db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if _, _, err := db.ImportFile(ctx, path, data); err != nil {
			return err
		}
	}
	return nil
}

func runAttempts(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := commandContext(cmd)

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	tracker, err := attempt.NewTracker(db.Current(), db.Legacy())
	if err != nil {
		return err
	}
	examID := v.GetString("exam-id")
	next, err := tracker.NextAttemptNumber(ctx, examID)
	if err != nil {
		return err
	}
	wrong, err := tracker.WrongQuestionIDs(ctx, examID)
	if err != nil {
		return err
	}
	return writeOutput("-", map[string]any{
		"exam_id":         examID,
		"next_attempt":    next,
		"wrong_questions": wrong,
	})
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := commandContext(cmd)

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	examID := v.GetString("exam-id")
	history, err := db.ExportHistory(ctx, examID)
	if err != nil {
		return fmt.Errorf("export history: %w", err)
	}
	if history == nil {
		return fmt.Errorf("exam %s not found", examID)
	}
	slog.Info("exported history", "exam_id", examID, "attempts", len(history.Attempts))
	return writeOutput(v.GetString("output"), history)
}

func writeOutput(outPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}
