package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/finance-importer/internal/domain/import/repository"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/service"
	"github.com/FACorreiaa/finance-importer/pkg/config"
	"github.com/FACorreiaa/finance-importer/pkg/db"
)

// app is the state shared by the subcommands. Tests set svc and cfg up front.
type app struct {
	cfg     *config.Config
	svc     *service.ImportService
	logger  *slog.Logger
	cleanup func()

	useDB   bool
	verbose bool
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "importctl",
		Short: "Detect, preview and import bank transaction exports",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.ErrOrStderr())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.cleanup != nil {
				a.cleanup()
			}
		},
	}

	root.PersistentFlags().BoolVar(&a.useDB, "db", false, "use the configured PostgreSQL database instead of an in-memory store")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log pipeline progress to stderr")

	root.AddCommand(
		newDetectCommand(a),
		newPreviewCommand(a),
		newImportCommand(a),
		newFormatsCommand(a),
	)
	return root
}

func (a *app) init(stderr io.Writer) error {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	}
	if a.cfg == nil {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.svc != nil {
		return nil
	}

	var (
		txRepo  repository.TransactionRepository
		formats repository.FormatStore
	)
	if a.useDB {
		database, err := db.New(db.Config{DSN: a.cfg.Database.DSN(), MaxConns: a.cfg.Database.MaxConns}, a.logger)
		if err != nil {
			return err
		}
		if err := database.RunMigrations(); err != nil {
			database.Close()
			return err
		}
		a.cleanup = database.Close
		txRepo = repository.NewPostgresTransactionRepository(database.Pool)
		formats = repository.NewPostgresFormatStore(database.Pool)
	} else {
		store := repository.NewMemoryStore()
		txRepo, formats = store, store
	}

	a.svc = service.NewImportService(txRepo, formats, a.logger).
		WithSampleRows(a.cfg.Import.SampleRows).
		WithWorkers(a.cfg.Import.Workers)
	return nil
}

func (a *app) account(flag string) string {
	if flag != "" || a.cfg == nil {
		return flag
	}
	return a.cfg.Import.DefaultAccount
}

// ============================================================================
// Subcommands
// ============================================================================

func newDetectCommand(a *app) *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "detect <file>",
		Short: "Profile a file and print the suggested column mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := readFile(args[0])
			if err != nil {
				return err
			}
			res, err := a.svc.AutoDetect(cmd.Context(), file, a.account(account))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account the file belongs to")
	return cmd
}

// previewRow is one line of `preview --csv`.
type previewRow struct {
	Row          int    `csv:"row"`
	Date         string `csv:"date"`
	Amount       string `csv:"amount"`
	Description  string `csv:"description"`
	Merchant     string `csv:"merchant"`
	Account      string `csv:"account_source"`
	Status       string `csv:"status"`
	CrossAccount bool   `csv:"cross_account"`
}

func newPreviewCommand(a *app) *cobra.Command {
	var (
		account, format, overrides string
		asCSV                      bool
	)

	cmd := &cobra.Command{
		Use:   "preview <file>",
		Short: "Parse a file and classify its transactions without importing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := readFile(args[0])
			if err != nil {
				return err
			}
			req := service.PreviewRequest{File: file, AccountSource: a.account(account), FormatHint: format}
			if err := decodeFlag(overrides, &req.Overrides); err != nil {
				return fmt.Errorf("invalid --overrides: %w", err)
			}

			p, err := a.svc.Preview(cmd.Context(), req)
			if err != nil {
				if p != nil && p.Config != nil {
					_ = printJSON(cmd.ErrOrStderr(), p.Config)
				}
				return err
			}
			if !asCSV {
				return printJSON(cmd.OutOrStdout(), p)
			}

			rows := make([]previewRow, len(p.Transactions))
			for i, tx := range p.Transactions {
				rows[i] = previewRow{
					Row:          tx.Row,
					Date:         tx.Date.Format("2006-01-02"),
					Amount:       tx.Amount.StringFixed(2),
					Description:  tx.Description,
					Merchant:     tx.Merchant,
					Account:      tx.AccountSource,
					Status:       string(tx.Status),
					CrossAccount: tx.CrossAccount,
				}
			}
			return gocsv.Marshal(rows, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account the file belongs to")
	cmd.Flags().StringVar(&format, "format", "", "saved or built-in format name (default: auto-detect)")
	cmd.Flags().StringVar(&overrides, "overrides", "", "JSON object of mapping overrides")
	cmd.Flags().BoolVar(&asCSV, "csv", false, "print the classified transactions as CSV")
	return cmd
}

func newImportCommand(a *app) *cobra.Command {
	var (
		account, format, name string
		save                  bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Import the new transactions of one or more files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := make([]service.RawFile, len(args))
			for i, path := range args {
				f, err := readFile(path)
				if err != nil {
					return err
				}
				files[i] = f
			}

			if len(files) == 1 {
				res, err := a.svc.Confirm(cmd.Context(), service.ConfirmRequest{
					File:          files[0],
					FormatType:    format,
					AccountSource: a.account(account),
					SaveFormat:    save,
					FormatName:    name,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			}

			selections := make([]service.FileSelection, len(files))
			for i, f := range files {
				selections[i] = service.FileSelection{Filename: f.Filename, AccountSource: a.account(account), FormatType: format}
			}
			res, err := a.svc.BatchConfirm(cmd.Context(), service.BatchConfirmRequest{
				Files:      files,
				Selections: selections,
				SaveFormat: save,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account the files belong to")
	cmd.Flags().StringVar(&format, "format", "", "saved or built-in format name (default: auto-detect)")
	cmd.Flags().BoolVar(&save, "save-format", false, "save the resolved mapping for reuse")
	cmd.Flags().StringVar(&name, "name", "", "name of the saved format")
	return cmd
}

func newFormatsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "formats",
		Short: "List saved custom formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			formats, err := a.svc.ListConfigs(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tACCOUNT\tUSES\tDESCRIPTION")
			for _, f := range formats {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", f.Name, f.Config.AccountSource, f.UseCount, f.Description)
			}
			return w.Flush()
		},
	}
	return cmd
}

// ============================================================================
// Helpers
// ============================================================================

func readFile(path string) (service.RawFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return service.RawFile{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return service.RawFile{Filename: filepath.Base(path), Data: data}, nil
}

func decodeFlag(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
