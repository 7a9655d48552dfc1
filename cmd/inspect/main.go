package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"realtime-board/internal/board"
	"realtime-board/internal/cache"
	"realtime-board/internal/config"
	"realtime-board/internal/database"
	"realtime-board/internal/logging"
	"realtime-board/internal/model"
	"realtime-board/internal/registry"
	"realtime-board/internal/storage"
)

func main() {
	sessionID := flag.String("session", "", "session ID to inspect")
	showMaps := flag.Bool("maps", false, "list uploaded background images from the catalog")
	flag.Parse()

	if *sessionID == "" && !*showMaps {
		fmt.Fprintln(os.Stderr, "usage: inspect -session <id> [-maps]")
		os.Exit(2)
	}

	cfg := config.Load()
	cfg.Redis.DialAttempts = 1
	log := logging.New(config.LogConfig{Level: "warn", Format: cfg.Log.Format})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if *sessionID != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.Redis, log)
		if err != nil {
			fmt.Fprintln(os.Stderr, "❌ Redis connection failed:", err)
			os.Exit(1)
		}
		defer rdb.Close()

		fmt.Println("✅ Connected to Redis")
		fmt.Println()

		boards := board.NewStore(rdb, cfg.Board, log)
		reg := registry.New(rdb, boards, cfg.Board.SessionTTL, log)
		if err := inspectSession(ctx, reg, boards, *sessionID); err != nil {
			fmt.Fprintln(os.Stderr, "❌", err)
			os.Exit(1)
		}
	}

	if *showMaps {
		if !cfg.Database.Enabled() {
			fmt.Fprintln(os.Stderr, "❌ DB_HOST is not set, catalog is disabled")
			os.Exit(1)
		}
		db, err := database.ConnectDB(cfg.Database, log)
		if err != nil {
			fmt.Fprintln(os.Stderr, "❌ Database connection failed:", err)
			os.Exit(1)
		}
		defer database.Close(db)

		images, err := storage.NewCatalog(db).List(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "❌ Failed to list catalog:", err)
			os.Exit(1)
		}
		fmt.Printf("🖼  Background images: %d\n", len(images))
		for _, img := range images {
			fmt.Printf("  %-40s %8d bytes  %s  (%s)\n", img.Filename, img.Size, img.CreatedAt.Format(time.RFC3339), img.OriginalName)
		}
	}
}

func inspectSession(ctx context.Context, reg *registry.Registry, boards *board.Store, sessionID string) error {
	info, err := reg.SessionInfo(ctx, sessionID)
	if errors.Is(err, model.ErrNotFound) {
		fmt.Printf("📭 Session %s does not exist (expired or never joined)\n", sessionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("session info: %w", err)
	}

	fmt.Printf("📋 Session %s\n", info.ID)
	fmt.Printf("  created:    %s\n", info.CreatedAt.Format(time.RFC3339))
	fmt.Printf("  created by: %s\n", info.CreatedBy)
	fmt.Println()

	count, err := reg.MemberCount(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("member count: %w", err)
	}
	roster, err := reg.Roster(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("roster: %w", err)
	}
	fmt.Printf("👥 Members: %d (roster shows %d)\n", count, len(roster))
	for _, p := range roster {
		fmt.Printf("  %-36s %-20s %s  joined %s\n", p.ID, p.Name, p.Color, p.JoinedAt.Format(time.RFC3339))
	}
	fmt.Println()

	snap, err := boards.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("board: %w", err)
	}
	fmt.Println("🗺  Board")
	fmt.Printf("  background:   %q\n", snap.BackgroundImageRef)
	fmt.Printf("  active layer: %d\n", snap.ActiveLayer)
	fmt.Printf("  strokes:      %d\n", len(snap.Strokes))
	fmt.Printf("  markers:      %d\n", len(snap.Markers))
	fmt.Printf("  tokens:       %d\n", len(snap.Tokens))
	for _, tok := range snap.Tokens {
		fmt.Printf("    %-8s %-10s (%.1f, %.1f) layer=%d\n", tok.ID, tok.Team, tok.Position.X, tok.Position.Y, tok.Layer)
	}
	return nil
}
