package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/velumhealth/grounded-query/internal/bootstrap"
	"github.com/velumhealth/grounded-query/internal/config"
)

// loader indexes curated documents into the knowledge corpus:
//
//	loader -category aftercare docs/aftercare.xlsx docs/handbook.pdf
//
// Re-running on the same documents is a no-op per entry.
func main() {
	category := flag.String("category", "", "category assigned to loaded entries")
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		log.Fatal("usage: loader [-category name] <file> [file...]")
	}

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "loader")
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	total := 0
	for _, path := range paths {
		inserted, err := app.Loader.LoadFile(ctx, path, *category)
		if err != nil {
			log.Fatalf("load %s: %v", path, err)
		}
		total += inserted
	}
	log.Printf("loaded %d entries from %d documents", total, len(paths))
}
