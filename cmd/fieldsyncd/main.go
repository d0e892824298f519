// fieldsyncd: background sync agent for fieldsync.
// Watches backend reachability, drains the pending-sync queue on
// reconnect, and sweeps expired drafts and photos periodically.

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fieldsales/fieldsync/internal/backend"
	"github.com/fieldsales/fieldsync/internal/config"
	"github.com/fieldsales/fieldsync/internal/engine"
	"github.com/fieldsales/fieldsync/internal/netmon"
	"github.com/fieldsales/fieldsync/internal/photo"
	"github.com/fieldsales/fieldsync/internal/queue"
	"github.com/fieldsales/fieldsync/internal/storage"
	"github.com/fieldsales/fieldsync/internal/sweeper"
)

func main() {
	_ = godotenv.Load()
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fieldsyncd: %v\n", err)
		os.Exit(1)
	}
	if cfg.UserID == "" {
		fmt.Fprintln(os.Stderr, "fieldsyncd: user_id not configured")
		os.Exit(1)
	}

	kv, err := openKV(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fieldsyncd: %v\n", err)
		os.Exit(1)
	}
	defer kv.Close()

	q := queue.New(kv, cfg.UserID)
	photos := photo.NewCache(kv, cfg.UserID)
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
		fmt.Fprintf(os.Stderr, "fieldsyncd: %v\n", err)
		os.Exit(1)
	}

	monitor := netmon.New(cfg.HealthURL, cfg.ProbeInterval(), log)
	engCfg := engine.DefaultConfig()
	engCfg.PhotoBucket = cfg.PhotoBucket
	eng := engine.New(q, photos, inserter, blobs, monitor.Online,
		engine.LogNotifier{Log: log}, engCfg, log)
	monitor.OnOnline(eng.TriggerOnline)

	sw := sweeper.New(kv, cfg.Retention(), log)

	// Session-start sweep before anything else touches the cache.
	if _, _, err := sw.Sweep(time.Now()); err != nil {
		log.Warn("initial sweep failed", "err", err)
	}

	monitor.Start()
	defer monitor.Stop()
	defer eng.Stop()

	sweepTicker := time.NewTicker(cfg.SweepInterval())
	defer sweepTicker.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	log.Info("fieldsyncd started", "user", cfg.UserID, "db", cfg.DBPath)
	for {
		select {
		case <-sweepTicker.C:
			if _, _, err := sw.Sweep(time.Now()); err != nil {
				log.Warn("sweep failed", "err", err)
			}
		case s := <-sig:
			log.Info("shutting down", "signal", s.String())
			return
		}
	}
}

// openKV opens the SQLite store, wrapped with at-rest encryption when
// FIELDSYNC_MASTER_KEY (hex, 32 bytes) is set.
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
