// fieldsync: operator CLI for the offline sync layer.
// Commands: status, drain, sweep, clear.

package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/fieldsales/fieldsync/internal/backend"
	"github.com/fieldsales/fieldsync/internal/config"
	"github.com/fieldsales/fieldsync/internal/engine"
	"github.com/fieldsales/fieldsync/internal/photo"
	"github.com/fieldsales/fieldsync/internal/queue"
	"github.com/fieldsales/fieldsync/internal/storage"
	"github.com/fieldsales/fieldsync/internal/sweeper"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: fieldsync <command>

commands:
  status   show queue and sync state
  drain    manually retry syncing the pending queue
  sweep    evict expired drafts and cached photos
  clear    force-clear the local cache (prompts unless --yes)`)
	os.Exit(2)
}

func main() {
	_ = godotenv.Load()
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}
	if cfg.UserID == "" {
		fatal(fmt.Errorf("user_id not configured"))
	}
	kv, err := openKV(cfg)
	if err != nil {
		fatal(err)
	}
	defer kv.Close()

	switch os.Args[1] {
	case "status":
		cmdStatus(kv, cfg)
	case "drain":
		cmdDrain(kv, cfg)
	case "sweep":
		cmdSweep(kv, cfg)
	case "clear":
		cmdClear(kv, cfg, os.Args[2:])
	default:
		usage()
	}
}

func cmdStatus(kv storage.KV, cfg *config.Config) {
	q := queue.New(kv, cfg.UserID)
	md, err := q.Metadata()
	if err != nil {
		fatal(err)
	}
	records, err := q.List()
	if err != nil {
		fatal(err)
	}
	photos := photo.NewCache(kv, cfg.UserID)
	photoIDs, _ := photos.IDs()

	lastSync := "never"
	if md.LastSync != nil {
		lastSync = md.LastSync.Local().Format(time.RFC822)
	}
	fmt.Printf("fieldsync status\n")
	fmt.Printf("  user:      %s\n", cfg.UserID)
	fmt.Printf("  sync:      %s\n", md.Status)
	fmt.Printf("  pending:   %d\n", md.PendingCount)
	fmt.Printf("  photos:    %d cached\n", len(photoIDs))
	fmt.Printf("  last sync: %s\n", lastSync)
	fmt.Printf("  retries:   %d\n", md.RetryCount)
	if md.LastError != "" {
		fmt.Printf("  error:     %s\n", md.LastError)
	}
	if len(records) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Entity", "Status", "Photos", "Created"})
	for _, r := range records {
		t.AppendRow(table.Row{
			shortID(r.ID), r.Entity, r.Status, len(r.PhotoIDs),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	t.Render()
}

func cmdDrain(kv storage.KV, cfg *config.Config) {
	q := queue.New(kv, cfg.UserID)
	n, err := q.Count()
	if err != nil {
		fatal(err)
	}
	if n == 0 {
		fmt.Println("Queue is empty.")
		return
	}

	inserter := backend.NewRESTClient(cfg.BackendURL, cfg.BackendAPIKey, cfg.BackendToken)
	blobs, err := backend.NewS3BlobStore(context.Background(), backend.S3Config{
		Region:    cfg.S3.Region,
		Endpoint:  cfg.S3.Endpoint,
		PathStyle: cfg.S3.PathStyle,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		PublicURL: cfg.S3.PublicURL,
	})
	if err != nil {
		fatal(err)
	}

	engCfg := engine.DefaultConfig()
	engCfg.PhotoBucket = cfg.PhotoBucket
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	eng := engine.New(queue.New(kv, cfg.UserID), photo.NewCache(kv, cfg.UserID),
		inserter, blobs, func() bool { return true },
		engine.LogNotifier{Log: log}, engCfg, log)
	defer eng.Stop()

	if err := eng.ManualRetry(context.Background()); err != nil {
		fatal(fmt.Errorf("drain: %w", err))
	}
	fmt.Println("Drain complete.")
}

func cmdSweep(kv storage.KV, cfg *config.Config) {
	sw := sweeper.New(kv, cfg.Retention(), nil)
	drafts, photos, err := sw.Sweep(time.Now())
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Swept %d draft(s), %d photo(s).\n", drafts, photos)
}

// cmdClear is the storage-full escape hatch: it removes the user's cached
// photos and drafts. Pending-sync records are kept unless --all is given.
func cmdClear(kv storage.KV, cfg *config.Config, args []string) {
	yes, all := false, false
	for _, a := range args {
		switch a {
		case "--yes":
			yes = true
		case "--all":
			all = true
		default:
			usage()
		}
	}

	if !yes {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fatal(fmt.Errorf("refusing to clear without --yes on a non-interactive stdin"))
		}
		what := "cached photos and drafts"
		if all {
			what = "ALL local data including unsynced records"
		}
		fmt.Printf("This removes %s for user %s. Continue? [y/N] ", what, cfg.UserID)
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(line)) != "y" {
			fmt.Println("Aborted.")
			return
		}
	}

	prefix := fmt.Sprintf("users/%s/", cfg.UserID)
	keys, err := kv.List(prefix)
	if err != nil {
		fatal(err)
	}
	removed := 0
	for _, k := range keys {
		if !all && strings.Contains(k, "/pendingSync") {
			continue
		}
		if !all && strings.Contains(k, "/syncMetadata") {
			continue
		}
		if err := kv.Delete(k); err == nil {
			removed++
		}
	}
	fmt.Printf("Removed %d entries.\n", removed)
}

func openKV(cfg *config.Config) (storage.KV, error) {
	kv, err := storage.OpenSQLite(cfg.DBPath, storage.SQLiteOptions{MaxBytes: cfg.QuotaBytes()})
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("FIELDSYNC_MASTER_KEY"); v != "" {
		key, err := hex.DecodeString(v)
		if err != nil {
			kv.Close()
			return nil, fmt.Errorf("decode master key: %w", err)
		}
		enc, err := storage.NewEncryptedKV(kv, key)
		if err != nil {
			kv.Close()
			return nil, err
		}
		return enc, nil
	}
	return kv, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "fieldsync: %v\n", err)
	os.Exit(1)
}
