package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"

	"notification-engine/internal/config"
	"notification-engine/internal/infra/postgresql"
	"notification-engine/internal/infra/postgresql/migrations"
	"notification-engine/internal/observability"
	"notification-engine/internal/repository"
	"notification-engine/internal/service"
)

// Reads a CSV of user_id,email pairs and resets each user's active email
// target record. A header row is detected and skipped.
func main() {
	inputPath := flag.String("input", "", "path to a user_id,email csv (default stdin)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	entries, err := readEntries(*inputPath)
	if err != nil {
		logger.Fatal("failed to read input", zap.Error(err))
	}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	backfill, err := service.NewBackfillService(repository.NewGormTargetRepo(db), logger)
	if err != nil {
		logger.Fatal("backfill service init failed", zap.Error(err))
	}

	summary, err := backfill.Run(context.Background(), entries)
	if err != nil {
		logger.Fatal("backfill failed", zap.Error(err))
	}

	fmt.Printf("backfill done: %d processed, %d failed\n", summary.Processed, summary.Failed)
	if summary.Failed > 0 {
		os.Exit(1)
	}
}

func readEntries(path string) ([]service.EmailEntry, error) {
	var reader io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		reader = f
	}

	records, err := csv.NewReader(reader).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}

	entries := make([]service.EmailEntry, 0, len(records))
	for i, record := range records {
		if len(record) < 2 {
			return nil, fmt.Errorf("row %d: expected user_id,email", i+1)
		}

		userID := strings.TrimSpace(record[0])
		email := strings.TrimSpace(record[1])
		if i == 0 && strings.EqualFold(userID, "user_id") {
			continue
		}

		entries = append(entries, service.EmailEntry{UserID: userID, Email: email})
	}

	return entries, nil
}
