package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/revisor/internal/extract"
	"github.com/pavelanni/revisor/internal/grade"
	appI18n "github.com/pavelanni/revisor/internal/i18n"
	"github.com/pavelanni/revisor/internal/model"
	"github.com/pavelanni/revisor/internal/review"
	"github.com/pavelanni/revisor/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "revisor",
		Short: "OCR answer-sheet review and auto-grading",
	}

	root.PersistentFlags().String("db", "revisor.db", "Document store path")
	root.PersistentFlags().StringP("lang", "l", "es", "Output language (es, en)")
	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	root.AddCommand(
		reviewCmd(),
		assignCmd(),
		editScoreCmd(),
		historyCmd(),
		importTestCmd(),
		importRosterCmd(),
	)
	return root
}

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review <file>",
		Short: "Run the review pipeline over a scanned answer sheet",
		Args:  cobra.ExactArgs(1),
		RunE:  runReview,
	}
	f := cmd.Flags()
	f.StringP("test", "t", "", "Test identifier (required)")
	f.String("tesseract", "", "Path to the tesseract binary")
	f.String("pdftoppm", "", "Path to the pdftoppm binary")
	f.String("languages", "spa+eng", "OCR languages")
	f.Int("max-pages", 3, "Maximum PDF pages to read or render")
	f.Float64("upscale", 1.8, "Render scale factor for the OCR fallback")
	f.Int("min-text-len", 40, "Minimum normalized length for usable text")
	f.Int("workers", 2, "Concurrent per-page OCR workers")
	f.Float64("coverage-threshold", 0.1, "Minimum coverage accepted as a document match")
	f.Float64("fallback-coverage", 0.25, "Nominal coverage for filename-accepted degraded scans")
	f.Float64("roster-cutoff", 0.5, "Minimum name similarity for an automatic roster match")
	f.Int("candidates", 8, "Ranked candidates shown for manual resolution")
	f.StringSlice("denylist", nil, "Extra keywords excluded from name guessing")

	_ = cmd.MarkFlagRequired("test")
	return cmd
}

func assignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign an ambiguous review to a roster student",
		RunE:  runAssign,
	}
	f := cmd.Flags()
	f.StringP("test", "t", "", "Test identifier (required)")
	f.String("uploaded-at", "", "Upload timestamp of the review record, RFC3339 (required)")
	f.StringP("student", "s", "", "Roster student identifier (required)")
	f.Int("score", 0, "Score to record")

	_ = cmd.MarkFlagRequired("test")
	_ = cmd.MarkFlagRequired("uploaded-at")
	_ = cmd.MarkFlagRequired("student")
	return cmd
}

func editScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit-score",
		Short: "Correct the committed score of a student",
		RunE:  runEditScore,
	}
	f := cmd.Flags()
	f.StringP("test", "t", "", "Test identifier (required)")
	f.StringP("student", "s", "", "Roster student identifier (required)")
	f.Int("score", 0, "New score (clamped to the test's point range)")

	_ = cmd.MarkFlagRequired("test")
	_ = cmd.MarkFlagRequired("student")
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the review history, one row per roster student",
		RunE:  runHistory,
	}
	cmd.Flags().StringP("test", "t", "", "Test identifier (required)")
	_ = cmd.MarkFlagRequired("test")
	return cmd
}

func importTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-test <file>",
		Short: "Load a test definition JSON into the document store",
		Args:  cobra.ExactArgs(1),
		RunE:  runImportTest,
	}
}

func importRosterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-roster <file>",
		Short: "Load a section roster JSON into the document store",
		Args:  cobra.ExactArgs(1),
		RunE:  runImportRoster,
	}
	cmd.Flags().String("section", "", "Section identifier (required)")
	_ = cmd.MarkFlagRequired("section")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("REVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("revisor")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/revisor")
	v.AddConfigPath("/etc/revisor")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func setup(cmd *cobra.Command) (*viper.Viper, *store.Store, error) {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return nil, nil, fmt.Errorf("init i18n: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open document store: %w", err)
	}
	return v, db, nil
}

func reviewConfig(v *viper.Viper) review.Config {
	cfg := review.DefaultConfig()
	cfg.Extract.Languages = v.GetString("languages")
	cfg.Extract.MaxPages = v.GetInt("max-pages")
	cfg.Extract.Upscale = v.GetFloat64("upscale")
	cfg.Extract.MinTextLen = v.GetInt("min-text-len")
	cfg.Extract.Workers = v.GetInt("workers")
	cfg.Match.Threshold = v.GetFloat64("coverage-threshold")
	cfg.Match.FallbackCoverage = v.GetFloat64("fallback-coverage")
	cfg.Match.MinTextLen = v.GetInt("min-text-len")
	cfg.Identity.Cutoff = v.GetFloat64("roster-cutoff")
	cfg.Identity.TopK = v.GetInt("candidates")
	cfg.Identity.Denylist = append(cfg.Identity.Denylist, v.GetStringSlice("denylist")...)
	return cfg
}

func newService(v *viper.Viper, db *store.Store, cfg review.Config) *review.Service {
	extractor := extract.New(
		&extract.Tesseract{Path: v.GetString("tesseract")},
		&extract.Poppler{Path: v.GetString("pdftoppm")},
		cfg.Extract,
		slog.Default(),
	)
	return review.NewService(
		extractor,
		store.NewRosterDirectory(db),
		store.NewReviewStore(db),
		store.NewGradeLedger(db),
		cfg,
		slog.Default(),
	)
}

func runReview(cmd *cobra.Command, args []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	// Ctrl-C mid-extraction must abort before anything is written.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	test, err := store.NewTestRepository(db).Get(v.GetString("test"))
	if err != nil {
		return err
	}

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	up := extract.Upload{
		Filename:    filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Data:        data,
	}

	svc := newService(v, db, reviewConfig(v))
	outcome, err := svc.RunReview(ctx, up, test)
	if err != nil {
		return err
	}

	printOutcome(outcome, test)
	return nil
}

func printOutcome(o *review.Outcome, test *model.Test) {
	coverage := fmt.Sprintf("%.2f", o.Coverage)
	if o.SameDocument {
		fmt.Println(appI18n.T("ReviewMatched", map[string]any{"Title": test.Title, "Coverage": coverage}))
	} else {
		fmt.Println(appI18n.T("ReviewNotMatched", map[string]any{"Title": test.Title, "Coverage": coverage}))
	}
	if o.Degraded {
		fmt.Println(appI18n.T("ReviewDegraded", nil))
	}
	if o.AnswerKey {
		fmt.Println(appI18n.T("AnswerKeyDetected", nil))
	}
	// assign addresses the record by this exact timestamp, so print it
	// with full precision.
	fmt.Println(appI18n.T("UploadedAtLine", map[string]any{"Time": o.UploadedAt.Format(time.RFC3339Nano)}))

	switch {
	case o.StudentFound:
		fmt.Println(appI18n.T("StudentResolved", map[string]any{"Name": o.StudentName, "ID": o.StudentID}))
	case !o.AnswerKey:
		fmt.Println(appI18n.T("StudentAmbiguous", map[string]any{"Name": o.StudentName}))
		for i, c := range o.Candidates {
			fmt.Println(appI18n.T("CandidateLine", map[string]any{
				"Rank":       i + 1,
				"Name":       c.Student.DisplayName,
				"ID":         c.Student.ID,
				"Similarity": fmt.Sprintf("%.2f", c.Similarity),
			}))
		}
	}

	if o.Score != nil {
		fmt.Println(appI18n.T("ScoreLine", map[string]any{
			"Score":   *o.Score,
			"Total":   o.TotalQuestions,
			"Points":  grade.Points(*o.Score, o.TotalQuestions, o.TotalPoints),
			"Percent": grade.Percent(*o.Score, o.TotalQuestions),
		}))
	} else {
		fmt.Println(appI18n.T("ScoreSkipped", nil))
	}

	if o.Score != nil && o.StudentFound && !o.AnswerKey {
		fmt.Println(appI18n.T("GradeCommitted", nil))
	} else if !o.AnswerKey {
		fmt.Println(appI18n.T("GradeDeferred", nil))
	}
}

func runAssign(cmd *cobra.Command, _ []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	uploadedAt, err := time.Parse(time.RFC3339Nano, v.GetString("uploaded-at"))
	if err != nil {
		return fmt.Errorf("parse uploaded-at: %w", err)
	}
	test, err := store.NewTestRepository(db).Get(v.GetString("test"))
	if err != nil {
		return err
	}

	svc := newService(v, db, reviewConfig(v))
	if err := svc.ManualAssign(context.Background(), test, uploadedAt, v.GetString("student"), v.GetInt("score")); err != nil {
		return err
	}
	fmt.Println(appI18n.T("AssignDone", map[string]any{"Name": v.GetString("student"), "Score": v.GetInt("score")}))
	return nil
}

func runEditScore(cmd *cobra.Command, _ []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	test, err := store.NewTestRepository(db).Get(v.GetString("test"))
	if err != nil {
		return err
	}

	svc := newService(v, db, reviewConfig(v))
	if err := svc.EditScore(context.Background(), test, v.GetString("student"), v.GetInt("score")); err != nil {
		return err
	}
	fmt.Println(appI18n.T("EditDone", map[string]any{"Name": v.GetString("student"), "Score": v.GetInt("score")}))
	return nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	test, err := store.NewTestRepository(db).Get(v.GetString("test"))
	if err != nil {
		return err
	}
	history, err := store.NewReviewStore(db).History(test.ID)
	if err != nil {
		return err
	}
	students, err := store.NewRosterDirectory(db).StudentsInSection(test.SectionID)
	if err != nil {
		return err
	}

	fmt.Println(appI18n.T("HistoryHeader", map[string]any{"Title": test.Title, "Count": len(history)}))
	for _, s := range students {
		rec := store.LatestForStudent(history, s)
		if rec == nil {
			fmt.Printf("%-30s  %s\n", s.DisplayName, appI18n.T("HistoryNoUpload", nil))
			continue
		}
		score := "-"
		if rec.Score != nil {
			score = fmt.Sprintf("%d/%d", *rec.Score, rec.TotalQuestions)
		}
		fmt.Printf("%-30s  %s  %s\n", s.DisplayName, rec.UploadedAt.Format(time.RFC3339Nano), score)
	}
	return nil
}

func runImportTest(cmd *cobra.Command, args []string) error {
	_, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read test file: %w", err)
	}
	var t model.Test
	if err := json.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("decode test file: %w", err)
	}
	if t.ID == "" {
		return fmt.Errorf("test file %s has no id", args[0])
	}
	if err := store.NewTestRepository(db).Put(&t); err != nil {
		return err
	}
	slog.Info("test imported", "id", t.ID, "title", t.Title, "questions", len(t.Questions))
	return nil
}

func runImportRoster(cmd *cobra.Command, args []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read roster file: %w", err)
	}
	var students []model.Student
	if err := json.Unmarshal(data, &students); err != nil {
		return fmt.Errorf("decode roster file: %w", err)
	}
	section := v.GetString("section")
	if err := store.NewRosterDirectory(db).PutSection(section, students); err != nil {
		return err
	}
	slog.Info("roster imported", "section", section, "students", len(students))
	return nil
}
