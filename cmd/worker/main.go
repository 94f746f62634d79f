package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"noesis/internal/attendance"
	"noesis/internal/cloudinary"
	"noesis/internal/config"
	"noesis/internal/jobs"
	"noesis/internal/qrtoken"
	"noesis/internal/queue"
	"noesis/internal/store"
)

// Worker consumes accepted check-in messages to maintain live per-session
// tallies, retries verification photo uploads that failed during check-in,
// and runs the periodic token and session sweeps.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var tokenStore qrtoken.Store
	if cfg.TokenStore == "redis" {
		tokenStore = qrtoken.NewRedisStore(redisClient.Client, "qr")
	} else {
		// A memory token store is per-process; the worker sweep is a no-op
		// for tokens held by API instances, but session close still runs.
		tokenStore = qrtoken.NewMemoryStore()
	}
	issuer := qrtoken.NewIssuer(tokenStore)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "noesis:checkins")
	}

	repo := attendance.NewRepository(db.Client)

	var photos attendance.Base64Uploader
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		photos = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	}

	jobs.StartSweepJob(ctx, cfg.SweepInterval, issuer, repo, cfg.SessionCloseJob)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type == queue.TypePhotoUpload {
			if photos == nil {
				log.Println("photo retry message dropped: Cloudinary not configured")
				continue
			}
			if err := attendance.UploadPendingPhoto(ctx, repo, photos, msg); err != nil {
				log.Printf("photo retry failed: %v", err)
			}
			continue
		}
		if msg.Type != queue.TypeCheckIn {
			continue
		}

		id := string(msg.Body)
		rec, err := repo.GetRecordByID(ctx, id)
		if err != nil {
			log.Printf("fetch record %s failed: %v", id, err)
			continue
		}

		// Live tally for the session dashboard; expires with the school day.
		key := fmt.Sprintf("session:%s:tally:%s", rec.SessionID, rec.Status)
		if err := redisClient.Client.Incr(ctx, key).Err(); err != nil {
			log.Printf("tally update failed for %s: %v", id, err)
			continue
		}
		_ = redisClient.Client.Expire(ctx, key, 24*time.Hour).Err()

		log.Printf("record %s: %s via %s for session %s", rec.ID, rec.Status, rec.Method, rec.SessionID)
	}

	log.Println("worker stopped")
}
