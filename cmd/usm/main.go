package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"usm-go/internal/app"
	"usm-go/internal/config"
	"usm-go/internal/usm"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a fully wired App (store, catalog,
// run history). The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Maintain", "Cleanup").
func newApp(operation string) (*app.App, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.New(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// newTransferApp creates an App for transfer-only commands that never touch
// the update store (sync, export, decrypt, keys).
func newTransferApp(operation string) (*app.App, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewTransferApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// readPassphrase prompts on stderr and reads a passphrase without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// confirm prompts for a y/N answer on stdin.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

var rootCmd = &cobra.Command{
	Use:   "usm",
	Short: "Update server maintenance tool",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		// Generate a new site ID
		siteID := uuid.New().String()

		cfg := config.NewConfig(siteID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Site ID:  %s\n", siteID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Site ID:     %s\n", cfg.SiteID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Store:       %s (%s)\n", cfg.Store.Path, cfg.Store.Type)
		fmt.Printf("Content Dir: %s\n", cfg.ContentDir)
		fmt.Printf("Backup Dir:  %s (retain %d days)\n", cfg.Backup.Dir, cfg.Backup.RetentionDays)
		fmt.Printf("Export Root: %s\n", cfg.ExportRoot)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage export encryption keys",
}

var keysSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Generate the site key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newTransferApp("KeysSetup")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("Passphrase for private key: ")
		if err != nil {
			return err
		}
		again, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != again {
			return fmt.Errorf("passphrases do not match")
		}

		if err := a.SetupEncryption(passphrase); err != nil {
			return fmt.Errorf("setting up keys: %w", err)
		}

		fmt.Println("Key pair generated.")
		return nil
	},
}

// maintain command
var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run the full maintenance sequence",
	RunE: func(cmd *cobra.Command, args []string) error {
		skipDeep, _ := cmd.Flags().GetBool("skip-deep-cleanup")
		exportPath, _ := cmd.Flags().GetString("export-path")

		a, err := newApp("Maintain")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.RunMaintenance(cmd.Context(), skipDeep)
		if report != nil {
			printReport(report)
		}
		if err != nil {
			return fmt.Errorf("maintenance failed: %w", err)
		}

		if exportPath != "" {
			res, err := a.Export(cmd.Context(), exportPath, false)
			if err != nil {
				return fmt.Errorf("exporting snapshot: %w", err)
			}
			fmt.Printf("Snapshot exported to %s\n", res.SnapshotDir)
		}
		return nil
	},
}

func printReport(report *usm.RunReport) {
	fmt.Printf("Run: %s .. %s\n",
		report.Started.Format("2006-01-02 15:04:05"),
		report.Finished.Format("2006-01-02 15:04:05"))
	for _, p := range report.Phases {
		detail := ""
		if p.Err != nil {
			detail = "  " + p.Err.Error()
		} else if len(p.Warnings) > 0 {
			detail = "  " + p.Warnings[0]
		}
		fmt.Printf("  %-10s %-8s", p.Phase, p.Status)
		for k, v := range p.Counts {
			fmt.Printf("  %s=%d", k, v)
		}
		fmt.Println(detail)
	}
	if report.SizeBefore > 0 {
		fmt.Printf("Store size: %d -> %d bytes\n", report.SizeBefore, report.SizeAfter)
	}
	if len(report.ManualReviewIDs) > 0 {
		fmt.Printf("Approval refused: %d updates need manual review\n", len(report.ManualReviewIDs))
	}
}

// cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune supersession and aged status rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		if !force && !confirm("This permanently deletes rows from the update store. Continue?") {
			fmt.Println("Aborted.")
			return nil
		}

		a, err := newApp("Cleanup")
		if err != nil {
			return err
		}
		defer a.Close()

		counts, err := a.Cleanup(cmd.Context())
		if counts != nil {
			fmt.Printf("Deleted %d supersession row(s), %d status row(s)\n",
				counts.SupersessionRows, counts.StatusRows)
		}
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Differentially copy snapshots between folders",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		dest, _ := cmd.Flags().GetString("dest")
		snapshot, _ := cmd.Flags().GetString("snapshot")
		all, _ := cmd.Flags().GetBool("all")

		if source == "" || dest == "" {
			return fmt.Errorf("--source and --dest are required")
		}

		a, err := newTransferApp("Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		switch {
		case all:
			results, errs := a.SyncAll(ctx, source, dest)
			for _, r := range results {
				printSyncResult(r)
			}
			if len(errs) > 0 {
				return fmt.Errorf("sync finished with %d error(s): %v", len(errs), errs[0])
			}
		case snapshot != "":
			r, err := a.SyncDir(ctx, snapshot, dest)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			printSyncResult(r)
		default:
			r, err := a.Sync(ctx, source, dest)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			printSyncResult(r)
		}
		return nil
	},
}

func printSyncResult(r *usm.SyncResult) {
	fmt.Printf("%s: backup copied=%v, content copied %d, skipped %d, failed %d\n",
		r.Source.Dir, r.Backup, r.Content.Copied, r.Content.Skipped, r.Content.Failed)
	for _, w := range r.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Build a dated export snapshot from the newest backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		encrypt, _ := cmd.Flags().GetBool("encrypt")
		push, _ := cmd.Flags().GetBool("push")
		out, _ := cmd.Flags().GetString("out")

		a, err := newTransferApp("Export")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Export(cmd.Context(), out, encrypt)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		fmt.Printf("Snapshot: %s\n", res.SnapshotDir)
		fmt.Printf("Artifact: %s (encrypted=%v)\n", res.BackupPath, res.Encrypted)
		fmt.Printf("Content:  copied %d, skipped %d, failed %d\n",
			res.Content.Copied, res.Content.Skipped, res.Content.Failed)

		if push {
			counts, err := a.PushSnapshot(cmd.Context(), res.SnapshotDir)
			for name, n := range counts {
				fmt.Printf("Pushed %d file(s) to %s\n", n, name)
			}
			if err != nil {
				return fmt.Errorf("push failed: %w", err)
			}
		}
		return nil
	},
}

// decrypt command
var decryptCmd = &cobra.Command{
	Use:   "decrypt SRC DST",
	Short: "Decrypt an exported backup artifact",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newTransferApp("Decrypt")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("Private key passphrase: ")
		if err != nil {
			return err
		}

		if err := a.Decrypt(args[0], args[1], passphrase); err != nil {
			return fmt.Errorf("decrypt failed: %w", err)
		}

		fmt.Printf("Decrypted to %s\n", args[1])
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore BACKUPFILE",
	Short: "Replace the update store with a backup snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		if !force && !confirm("This replaces the live update store. Continue?") {
			fmt.Println("Aborted.")
			return nil
		}

		a, err := newApp("Restore")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RestoreStore(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}

		fmt.Println("Store restored.")
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View maintenance run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("History")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No maintenance runs recorded.")
			return nil
		}

		for _, run := range runs {
			duration := ""
			if run.FinishedAt.Valid {
				d := run.FinishedAt.Time.Sub(run.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-10s  %s  %-8s  %s\n",
				run.ID,
				run.Operation,
				run.StartedAt.Format("2006-01-02 15:04:05"),
				run.Status,
				duration,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// keys subcommands
	keysCmd.AddCommand(keysSetupCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(maintainCmd)
	maintainCmd.Flags().Bool("skip-deep-cleanup", false, "Skip supersession and status pruning")
	maintainCmd.Flags().String("export-path", "", "Export a snapshot to this archive root after the run")
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolP("force", "f", false, "Do not ask for confirmation")
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().String("source", "", "Source archive or snapshot root")
	syncCmd.Flags().String("dest", "", "Destination root")
	syncCmd.Flags().String("snapshot", "", "Explicit snapshot folder to copy (skips discovery)")
	syncCmd.Flags().Bool("all", false, "Mirror every snapshot in the source archive")
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().Bool("encrypt", false, "Encrypt the backup artifact")
	exportCmd.Flags().Bool("push", false, "Push the snapshot to configured transports")
	exportCmd.Flags().String("out", "", "Export root (defaults to configured export_root)")
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().BoolP("force", "f", false, "Do not ask for confirmation")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
}
