// Command locaid is a minimal composition root proving the Engine wires end
// to end: it opens a store, writes a few memories, lets the extraction
// pipeline run, and prints search results. The CLI/HTTP surfaces proper are
// external collaborators and intentionally absent.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/locai-dev/locai/pkg/locai"
	"github.com/locai-dev/locai/pkg/model"
	"github.com/locai-dev/locai/pkg/search"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := locai.DefaultConfig()
	if *configPath != "" {
		cfg, err = locai.LoadConfig(*configPath)
		if err != nil {
			log.Fatal("load config", zap.Error(err))
		}
	}

	ctx := context.Background()
	engine, err := locai.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("open engine", zap.Error(err))
	}
	defer engine.Close()

	for _, content := range []string{
		"Kickoff call with Dana: email dana@example.com with the summary",
		"The deployment pipeline broke again around the database migration step",
		"Reminder: invoice #42 for $1,250.00 is due next week",
	} {
		id, err := engine.CreateMemory(ctx, &model.Memory{
			Content:    content,
			MemoryType: model.MemoryTypeFact,
			Source:     "locaid-demo",
		})
		if err != nil {
			log.Fatal("create memory", zap.Error(err))
		}
		log.Info("stored memory", zap.String("id", id))
	}
	engine.WaitForEnrichment()

	results, err := engine.SearchMemories(ctx, "deployment pipeline", 5, search.ModeText, nil)
	if err != nil {
		log.Fatal("search", zap.Error(err))
	}
	for i, r := range results {
		fmt.Printf("%d. %.3f  %s\n", i+1, r.Score, r.Memory.Content)
	}

	entities, err := engine.ListEntities(ctx, model.EntityFilter{}, model.ListOptions{})
	if err != nil {
		log.Fatal("list entities", zap.Error(err))
	}
	fmt.Printf("extracted %d entities\n", len(entities))
	for _, e := range entities {
		fmt.Printf("  - %s (%s)\n", e.Name(), e.EntityType)
	}
}
