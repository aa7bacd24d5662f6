// Package main prints the most recent audit events from the Redis stream the
// server writes to.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"leadgate/internal/audit"
)

func main() {
	_ = godotenv.Load()
	limit := flag.Int("n", 50, "number of events")
	stream := flag.String("stream", audit.DefaultStream, "redis stream key")
	flag.Parse()

	opts, err := redis.ParseURL(os.Getenv("REDIS_URL"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "audit-tail: REDIS_URL:", err)
		os.Exit(1)
	}
	client := redis.NewClient(opts)
	defer client.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tail(ctx, audit.NewRedisStore(client, *stream, 0), *limit, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "audit-tail:", err)
		os.Exit(1)
	}
}

// tail writes one JSON object per event, oldest first.
func tail(ctx context.Context, store audit.Store, limit int, out io.Writer) error {
	events, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}
