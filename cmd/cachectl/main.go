// Command cachectl is the maintenance tool for the fetch cache: it purges
// expired entries, reports store statistics and dumps individual entries.
//
// Configuration comes from the environment:
//
//	CACHE_BACKEND             mongo (default) or redis
//	CACHE_MONGO_URI/MONGO_URI MongoDB connection string
//	CACHE_DATABASE            MongoDB database name
//	REDIS_URL                 Redis address (host:port)
//	CACHE_MAX_AGE             retention window, Go duration (e.g. 24h)
//	CACHE_NAMESPACE           key namespace shared with the pipeline
//	CACHE_CHUNK_SIZE          chunk bound in bytes
//	CACHE_FINGERPRINT_HEADERS comma-separated header allowlist
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/crawlkit/fetchcache/pkg/blobstore"
	mongostore "github.com/crawlkit/fetchcache/pkg/blobstore/mongo"
	redisstore "github.com/crawlkit/fetchcache/pkg/blobstore/redis"
	"github.com/crawlkit/fetchcache/pkg/fingerprint"
	"github.com/crawlkit/fetchcache/pkg/logging"
	"github.com/crawlkit/fetchcache/pkg/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const usage = `usage: cachectl <command> [args]

commands:
  purge          delete entries older than CACHE_MAX_AGE
  stats          print the number of stored entries
  get <url>      print the cached entry for a GET of <url>
  delete <url>   remove the cached entry for a GET of <url>
`

func main() {
	logger := logging.Setup(logging.FromEnv())

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := openStore(ctx, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open blob store")
	}

	cfg := storage.FromEnv()
	cache := storage.New(store, cfg)
	if err := cache.Open(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Backing store unreachable")
	}
	defer cache.Close(ctx)

	if err := run(ctx, cache, store, cfg, os.Args[1], os.Args[2:]); err != nil {
		logger.Fatal().Err(err).Str("command", os.Args[1]).Msg("Command failed")
	}
}

func run(ctx context.Context, cache *storage.Controller, store blobstore.Store, cfg storage.Config, command string, args []string) error {
	switch command {
	case "purge":
		if cfg.MaxAge <= 0 {
			return fmt.Errorf("purge requires CACHE_MAX_AGE > 0")
		}
		purged, err := cache.PurgeExpired(ctx, cfg.MaxAge)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d entries older than %s\n", purged, cfg.MaxAge)
		return nil

	case "stats":
		keys, err := store.Keys(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d entries\n", len(keys))
		return nil

	case "get":
		if len(args) < 1 {
			return fmt.Errorf("get requires a URL argument")
		}
		d := fingerprint.Descriptor{Method: "GET", URL: args[0]}
		entry, err := cache.Lookup(ctx, d, cfg.MaxAge)
		if err != nil {
			return err
		}
		fmt.Printf("key:       %s\n", entry.Key)
		fmt.Printf("status:    %d\n", entry.StatusCode)
		fmt.Printf("stored_at: %s (age %s)\n", entry.StoredAt.Format(time.RFC3339), entry.Age().Round(time.Second))
		for _, h := range entry.Headers {
			fmt.Printf("header:    %s: %s\n", h.Name, h.Value)
		}
		fmt.Printf("body:      %d bytes\n", len(entry.Body))
		return nil

	case "delete":
		if len(args) < 1 {
			return fmt.Errorf("delete requires a URL argument")
		}
		d := fingerprint.Descriptor{Method: "GET", URL: args[0]}
		if err := store.Delete(ctx, cache.Key(d)); err != nil {
			return err
		}
		fmt.Println("deleted")
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// openStore selects the blob store backend from CACHE_BACKEND.
func openStore(ctx context.Context, logger zerolog.Logger) (blobstore.Store, error) {
	backend := getEnv("CACHE_BACKEND", "mongo")

	switch backend {
	case "mongo":
		cfg := mongostore.FromEnv()
		logger.Info().Str("backend", "mongo").Str("uri", cfg.URI).Msg("Connecting to blob store")
		return mongostore.New(ctx, cfg)

	case "redis":
		addr := getEnv("REDIS_URL", "localhost:6379")
		logger.Info().Str("backend", "redis").Str("addr", addr).Msg("Connecting to blob store")
		client := redis.NewClient(&redis.Options{Addr: addr})
		return redisstore.New(client, redisstore.FromEnv()), nil

	default:
		return nil, fmt.Errorf("unknown CACHE_BACKEND %q (want mongo or redis)", backend)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
