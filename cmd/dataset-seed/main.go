// Command dataset-seed uploads a region FeatureCollection into Redis so the
// server can load it from redis://host:port/key.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/h3-hexoverlay/internal/cache/redisstore"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/config"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/dataset"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load(".env")
	cfg := config.FromEnv()

	file := flag.String("file", cfg.DatasetSource, "dataset to upload (file path or http(s) URL)")
	addr := flag.String("redis", cfg.RedisAddr, "redis address")
	key := flag.String("key", "hexoverlay:dataset", "redis key")
	ttl := flag.Duration("ttl", 0, "expiry; 0 keeps the key forever")
	flag.Parse()

	zl := logger.Build(logger.Config{Level: cfg.LogLevel, Console: true, Component: "dataset-seed"}, os.Stderr)
	log := logger.NewSlog(&zl)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DatasetTimeout)
	defer cancel()

	doc, err := dataset.NewLoader().Load(ctx, *file)
	if err != nil {
		log.Error("read dataset", "file", *file, "err", err)
		return 1
	}

	rc, err := redisstore.New(ctx, *addr, redisstore.WithDialTimeout(5*time.Second))
	if err != nil {
		log.Error("connect redis", "addr", *addr, "err", err)
		return 1
	}
	defer func() { _ = rc.Close() }()

	if err := rc.Set(ctx, *key, doc, *ttl); err != nil {
		log.Error("upload dataset", "key", *key, "err", err)
		return 1
	}
	log.Info("dataset uploaded", "bytes", len(doc), "key", *key)
	fmt.Printf("DATASET_SOURCE=redis://%s/%s\n", *addr, *key)
	return 0
}
