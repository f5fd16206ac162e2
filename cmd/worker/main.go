package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"facetrack/internal/attendance"
	"facetrack/internal/config"
	"facetrack/internal/faceoracle"
	"facetrack/internal/queue"
	"facetrack/internal/store"
)

// Worker consumes attendance events and maintains the daily presence set in
// Redis that the API reads for live counts.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "facetrack:events")
	}

	// Check face service health on startup so a dead scorer is visible in logs.
	face := faceoracle.New(cfg.FaceServiceURL, cfg.FaceTimeout, cfg.FaceRetries, cfg.FaceRetryWait, cfg.FaceSkip)
	if err := face.Health(ctx); err != nil {
		log.Printf("WARNING: face service not available: %v", err)
	} else {
		log.Println("face service connected")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != "attendance" {
			continue
		}

		var evt attendance.Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("bad event payload: %v", err)
			continue
		}

		key := store.PresenceKey(evt.Day)
		if err := redisClient.Client.SAdd(ctx, key, evt.UserID).Err(); err != nil {
			log.Printf("presence update failed for %s: %v", evt.UserID, err)
			continue
		}
		redisClient.Client.Expire(ctx, key, 48*time.Hour)
		log.Printf("event %s %s on %s recorded", evt.UserID, evt.Action, evt.Day)
	}

	log.Println("worker stopped")
}
