package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"usm-go/internal/catalog"
	"usm-go/internal/config"
	"usm-go/internal/copier"
	"usm-go/internal/encryption"
	"usm-go/internal/history"
	"usm-go/internal/sqlstore"
	"usm-go/internal/transport"
	"usm-go/internal/usm"
)

// runMarkerName is the lock file that marks a maintenance run in progress.
// Destructive commands refuse to start while it exists.
const runMarkerName = "maintenance.run"

// App is the application layer between the CLI and the maintenance engines.
// It constructs all dependencies from config, exposes high-level operations,
// and manages store and history lifecycles on Close.
type App struct {
	cfg       *config.Config
	store     *sqlstore.SQLStore
	catalog   usm.Catalog
	hist      *history.DB
	service   *usm.MaintenanceService
	mutator   *usm.Mutator
	syncer    *usm.Syncer
	exporter  *usm.Exporter
	encryptor usm.Encryptor
	logger    usm.Logger
	logFile   *os.File
	op        *Operation

	markerPath string
	markerHeld bool
}

// New creates a fully wired App from the given config, including the update
// store and the run-history database. operation identifies the CLI command
// being run (e.g. "Maintain", "Cleanup"). The caller must call Close when done.
func New(cfg *config.Config, operation string) (*App, error) {
	a, err := newTransferApp(cfg, operation)
	if err != nil {
		return nil, err
	}

	storePath := cfg.Store.Path
	if cfg.Store.Type == "memory" {
		storePath = ":memory:"
	} else if err := os.MkdirAll(filepath.Dir(storePath), 0755); err != nil {
		a.closeLog()
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	store, err := sqlstore.Open(storePath, cfg.Store.Timeout())
	if err != nil {
		a.closeLog()
		return nil, fmt.Errorf("opening update store: %w", err)
	}

	hist, err := openHistory(cfg.History)
	if err != nil {
		store.Close()
		a.closeLog()
		return nil, fmt.Errorf("opening run history: %w", err)
	}

	a.store = store
	a.catalog = catalog.New(store.DB())
	a.hist = hist
	a.service = usm.NewMaintenanceService(a.catalog, store, usm.RealClock{}, a.logger)
	a.mutator = usm.NewMutator(store, a.catalog, a.logger)
	return a, nil
}

// NewTransferApp creates an App wired for transfer-only commands (sync,
// export, decrypt): logger, copier, syncer, exporter and encryptor, but no
// update store or run history. Import sites run these without a store.
func NewTransferApp(cfg *config.Config, operation string) (*App, error) {
	return newTransferApp(cfg, operation)
}

func newTransferApp(cfg *config.Config, operation string) (*App, error) {
	runID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	cp := copier.New(copier.Options{
		Workers:   cfg.Copy.Workers,
		Retries:   uint(cfg.Copy.Retries),
		RetryWait: time.Duration(cfg.Copy.RetryWaitMillis) * time.Millisecond,
	}, logger)

	return &App{
		cfg:        cfg,
		syncer:     usm.NewSyncer(cp, logger),
		exporter:   usm.NewExporter(cp, usm.RealClock{}, logger),
		encryptor:  enc,
		logger:     logger,
		logFile:    logFile,
		op:         NewOperation(operation, ""),
		markerPath: filepath.Join(cfg.BaseDir, runMarkerName),
	}, nil
}

func openHistory(cfg config.HistoryConfig) (*history.DB, error) {
	if cfg.Type == "memory" {
		return history.Open(":memory:")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	return history.Open(filepath.Join(cfg.DataDir, "history.db"))
}

// persistOperation saves the operation to the run-history database, giving it
// an auto-increment ID. This should only be called for store-mutating commands.
func (a *App) persistOperation(ctx context.Context) error {
	if a.op.Persisted() {
		return nil // already persisted
	}
	run, err := a.hist.CreateRun(ctx, a.op.Name, a.op.Parameters, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = run.ID
	return nil
}

// acquireRunMarker takes the single-writer lock for destructive commands.
func (a *App) acquireRunMarker() error {
	if err := os.MkdirAll(a.cfg.BaseDir, 0755); err != nil {
		return fmt.Errorf("creating base directory: %w", err)
	}
	f, err := os.OpenFile(a.markerPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("maintenance already in progress (marker %s exists)", a.markerPath)
		}
		return fmt.Errorf("creating run marker: %w", err)
	}
	fmt.Fprintf(f, "%s\t%s\n", a.op.Name, time.Now().UTC().Format(time.RFC3339))
	f.Close()
	a.markerHeld = true
	return nil
}

func (a *App) releaseRunMarker() {
	if !a.markerHeld {
		return
	}
	if err := os.Remove(a.markerPath); err != nil {
		a.logger.Warn("removing run marker", "path", a.markerPath, "error", err)
	}
	a.markerHeld = false
}

// RunMaintenance executes the full maintenance sequence and records every
// phase outcome in the run history.
func (a *App) RunMaintenance(ctx context.Context, skipDeepCleanup bool) (*usm.RunReport, error) {
	if err := a.persistOperation(ctx); err != nil {
		return nil, err
	}
	if err := a.acquireRunMarker(); err != nil {
		return nil, err
	}
	defer a.releaseRunMarker()

	params := a.runParams()
	params.SkipDeepCleanup = skipDeepCleanup

	report, err := a.service.Run(ctx, params)
	if report != nil {
		a.recordPhases(ctx, report)
		if report.Failed() {
			a.op.Status = "error"
		} else if hasWarnings(report) {
			a.op.Status = "warning"
		}
	}
	if err != nil {
		a.op.Status = "error"
		return report, err
	}
	return report, nil
}

func (a *App) runParams() usm.RunParams {
	retention := a.cfg.Backup.RetentionDays
	if retention <= 0 {
		retention = 90
	}
	minPages := a.cfg.Index.MinPages
	if minPages <= 0 {
		minPages = 1000
	}
	return usm.RunParams{
		Policy:        a.cfg.Policy.Params(),
		Batch:         a.cfg.Batch.Params(),
		BackupDir:     a.cfg.Backup.Dir,
		RetentionDays: retention,
		MinIndexPages: minPages,
	}
}

func (a *App) recordPhases(ctx context.Context, report *usm.RunReport) {
	for _, p := range report.Phases {
		if err := a.hist.RecordPhase(ctx, a.op.ID, p); err != nil {
			a.logger.Warn("recording phase outcome", "phase", p.Phase, "error", err)
		}
	}
}

func hasWarnings(report *usm.RunReport) bool {
	for _, p := range report.Phases {
		if p.Status == usm.PhaseWarning || p.Status == usm.PhaseRefused {
			return true
		}
	}
	return false
}

// CleanupCounts reports what a standalone cleanup removed.
type CleanupCounts struct {
	SupersessionRows int64
	StatusRows       int64
}

// Cleanup runs the destructive prune phases on their own, outside a full
// maintenance run. Both declined and superseded revisions are swept.
func (a *App) Cleanup(ctx context.Context) (*CleanupCounts, error) {
	if err := a.persistOperation(ctx); err != nil {
		return nil, err
	}
	if err := a.acquireRunMarker(); err != nil {
		return nil, err
	}
	defer a.releaseRunMarker()

	policy := a.cfg.Policy.Params()
	batch := a.cfg.Batch.Params()
	cutoff := time.Now().UTC().AddDate(0, -policy.AgeMonths, 0)

	counts := &CleanupCounts{}
	for _, state := range []usm.RevisionState{usm.StateDeclined, usm.StateSuperseded} {
		n, err := a.mutator.PruneSupersession(ctx, state, batch)
		counts.SupersessionRows += n
		if err != nil {
			a.op.Status = "error"
			return counts, fmt.Errorf("pruning supersession rows (%s): %w", state, err)
		}

		n, err = a.mutator.PruneAgedStatus(ctx, state, cutoff, batch)
		counts.StatusRows += n
		if err != nil {
			a.op.Status = "error"
			return counts, fmt.Errorf("pruning status rows (%s): %w", state, err)
		}
	}
	return counts, nil
}

// Sync discovers the newest snapshot under sourceRoot and differentially
// copies it into destRoot.
func (a *App) Sync(ctx context.Context, sourceRoot, destRoot string) (*usm.SyncResult, error) {
	return a.syncer.Sync(ctx, sourceRoot, destRoot)
}

// SyncDir copies one explicit snapshot folder into destRoot without
// discovery.
func (a *App) SyncDir(ctx context.Context, snapshotDir, destRoot string) (*usm.SyncResult, error) {
	return a.syncer.SyncDir(ctx, snapshotDir, destRoot)
}

// SyncAll mirrors every snapshot folder in the archive at sourceRoot into
// destRoot, continuing past per-snapshot failures.
func (a *App) SyncAll(ctx context.Context, sourceRoot, destRoot string) ([]*usm.SyncResult, []error) {
	arch, err := usm.NewArchive(sourceRoot)
	if err != nil {
		return nil, []error{err}
	}
	dirs, err := arch.LeafDirs()
	if err != nil {
		return nil, []error{err}
	}
	return a.syncer.SyncAll(ctx, sourceRoot, dirs, destRoot)
}

// Export builds a dated snapshot from the newest local backup artifact.
// exportRoot overrides the configured export root when non-empty. When
// encrypt is true the artifact is encrypted with the configured public key.
func (a *App) Export(ctx context.Context, exportRoot string, encrypt bool) (*usm.ExportResult, error) {
	backupPath, err := latestBackup(a.cfg.Backup.Dir)
	if err != nil {
		return nil, err
	}

	if exportRoot == "" {
		exportRoot = a.cfg.ExportRoot
	}
	params := usm.ExportParams{
		ExportRoot: exportRoot,
		BackupPath: backupPath,
		ContentDir: a.cfg.ContentDir,
	}
	if encrypt {
		if !a.encryptor.IsConfigured() {
			return nil, fmt.Errorf("encryption requested but keys are not set up (run usm keys setup)")
		}
		params.Encryptor = a.encryptor
	}
	return a.exporter.BuildSnapshot(ctx, params)
}

// PushSnapshot uploads a built snapshot to every configured transport.
// It returns the per-transport file counts and the first error, if any.
func (a *App) PushSnapshot(ctx context.Context, snapshotDir string) (map[string]int, error) {
	if len(a.cfg.Transports) == 0 {
		return nil, fmt.Errorf("no transports configured")
	}

	counts := make(map[string]int)
	var firstErr error
	for _, tc := range a.cfg.Transports {
		t, err := transport.NewTransport(ctx, tc)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			a.logger.Error("creating transport", "name", tc.Name, "error", err)
			continue
		}
		n, err := a.exporter.Push(ctx, t, a.cfg.ExportRoot, snapshotDir)
		counts[t.Name()] = n
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			a.logger.Error("pushing snapshot", "transport", t.Name(), "error", err)
		}
	}
	return counts, firstErr
}

// RestoreStore replaces the live update store with the snapshot at
// backupPath. The store connection is reopened afterwards.
func (a *App) RestoreStore(ctx context.Context, backupPath string) error {
	if err := a.persistOperation(ctx); err != nil {
		return err
	}
	if err := a.acquireRunMarker(); err != nil {
		return err
	}
	defer a.releaseRunMarker()

	if err := a.store.RestoreFrom(ctx, backupPath); err != nil {
		a.op.Status = "error"
		return fmt.Errorf("restoring store: %w", err)
	}
	return nil
}

// SetupEncryption generates and stores the site key pair.
func (a *App) SetupEncryption(passphrase string) error {
	if a.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys already exist")
	}
	return a.encryptor.Setup(passphrase)
}

// Decrypt unlocks the private key with passphrase and decrypts the artifact
// at src into dst.
func (a *App) Decrypt(src, dst, passphrase string) error {
	dc, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening encrypted artifact: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer out.Close()

	if err := dc.Decrypt(in, out); err != nil {
		os.Remove(dst)
		return fmt.Errorf("decrypting artifact: %w", err)
	}
	return nil
}

// History returns the most recent recorded runs.
func (a *App) History(ctx context.Context, limit int) ([]*history.Run, error) {
	return a.hist.ListRuns(ctx, limit)
}

// RunPhases returns the recorded phase outcomes for one run.
func (a *App) RunPhases(ctx context.Context, runID int64) ([]*history.PhaseRecord, error) {
	return a.hist.RunPhases(ctx, runID)
}

// Close finalizes the operation record and closes all resources.
func (a *App) Close() error {
	var firstErr error

	if a.hist != nil {
		if a.op.Persisted() {
			if err := a.hist.FinishRun(context.Background(), a.op.ID, a.op.Status, time.Now().UTC()); err != nil {
				firstErr = fmt.Errorf("finishing run record: %w", err)
			}
		}
		if err := a.hist.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing run history: %w", err)
		}
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing update store: %w", err)
		}
	}

	a.closeLog()
	return firstErr
}

func (a *App) closeLog() {
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
}

// latestBackup returns the most recently written backup artifact in dir.
func latestBackup(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading backup directory: %w", err)
	}

	var newest string
	var newestTime time.Time
	for _, e := range entries {
		if e.IsDir() || !usm.IsBackupFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest = filepath.Join(dir, e.Name())
			newestTime = info.ModTime()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no backup artifacts in %s", dir)
	}
	return newest, nil
}
