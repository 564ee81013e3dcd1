package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"github.com/substrat/ragpipe/internal/models"
	"github.com/substrat/ragpipe/pkg/chunker"
	cfgPkg "github.com/substrat/ragpipe/pkg/config"
	"github.com/substrat/ragpipe/pkg/embedder"
	"github.com/substrat/ragpipe/pkg/index"
	"github.com/substrat/ragpipe/pkg/llm"
	"github.com/substrat/ragpipe/pkg/loader"
	"github.com/substrat/ragpipe/pkg/store"
)

type flags struct {
	configPath string
	collection string
	ingestFile string
	ingestURL  string
	force      bool
	topK       int
}

func main() {
	_ = godotenv.Load()

	f := parseFlags()
	if err := run(f); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to config file")
	flag.StringVar(&f.collection, "collection", "", "Collection to ingest into and query")
	flag.StringVar(&f.ingestFile, "file", "", "Text file to ingest before chatting")
	flag.StringVar(&f.ingestURL, "url", "", "Documentation URL to ingest before chatting")
	flag.BoolVar(&f.force, "force", false, "Store chunks even when identical content already exists")
	flag.IntVar(&f.topK, "top-k", 5, "Number of chunks retrieved per question")
	flag.Parse()
	return f
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func run(f flags) error {
	cfg, err := cfgPkg.LoadConfig(f.configPath)
	if err != nil {
		return err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		return fmt.Errorf("invalid configuration")
	}
	if f.collection != "" {
		cfg.Indexer.Collection = f.collection
	}

	backoff := embedder.DefaultBackoff()
	backoff.MaxAttempts = cfg.Embeddings.MaxRetries

	emb, err := embedder.NewWithConfig(embedder.ClientConfig{
		EndpointURL:   cfg.Embeddings.EndpointURL,
		APIKey:        cfg.Embeddings.APIKey,
		BatchSize:     cfg.Embeddings.BatchSize,
		MaxConcurrent: cfg.Embeddings.MaxConcurrent,
		MaxBatchChars: cfg.Embeddings.MaxBatchChars,
		Backoff:       backoff,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %v", err)
	}

	vectorStore, err := store.NewWithConfig(store.VectorStoreConfig{
		ConnString:  cfg.Database.URL,
		TableName:   cfg.Database.TableName,
		VectorDim:   cfg.Database.VectorDim,
		FilterBatch: cfg.Database.FilterBatch,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %v", err)
	}
	defer vectorStore.Close()

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %v", err)
	}

	chunk := chunker.NewWithConfig(chunker.ChunkerConfig{
		ParallelThreshold: cfg.Chunker.ParallelThreshold,
		Workers:           cfg.Chunker.Workers,
	})

	service := index.NewWithConfig(index.IndexerConfig{
		Collection:          cfg.Indexer.Collection,
		ChunkSize:           cfg.Chunker.ChunkSize,
		ChunkOverlap:        cfg.Chunker.ChunkOverlap,
		APIBatchSize:        cfg.Indexer.APIBatchSize,
		CommitFrequency:     cfg.Indexer.CommitFrequency,
		EmbeddingDimensions: cfg.Embeddings.Dimensions,
	}, chunk, emb, vectorStore, chatEngine)

	ctx := context.Background()

	if f.ingestFile != "" {
		if err := ingestFile(ctx, service, f.ingestFile, f.force); err != nil {
			return err
		}
	}
	if f.ingestURL != "" {
		if err := ingestURL(ctx, service, cfg, f.ingestURL, f.force); err != nil {
			return err
		}
	}

	return chatLoop(ctx, service, f.topK)
}

func ingestFile(ctx context.Context, service *index.Service, path string, force bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %v", path, err)
	}

	start := time.Now()
	records, err := service.AddDocument(ctx, string(data), index.DocumentOptions{
		TextOptions: index.TextOptions{
			SourceTitle: path,
			Force:       force,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to ingest %s: %v", path, err)
	}
	color.Green("✓ Ingested %s: %d new chunks in %s", path, len(records), time.Since(start).Round(time.Millisecond))
	return nil
}

func ingestURL(ctx context.Context, service *index.Service, cfg *cfgPkg.Config, docsURL string, force bool) error {
	bar := getProgressBar(-1, " Fetching documentation...")
	l, err := loader.NewWithConfig(loader.LoaderConfig{
		BaseURL:        docsURL,
		MaxDepth:       cfg.Loader.MaxDepth,
		RateLimit:      cfg.Loader.RateLimit,
		IgnorePatterns: cfg.Loader.IgnorePatterns,
		OnProgress: func(string) {
			bar.Add(1)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize loader: %v", err)
	}

	sources, err := l.Load(ctx, docsURL)
	bar.Finish()
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %v", docsURL, err)
	}
	color.Green("✓ Fetched %d pages", len(sources))

	ingestBar := getProgressBar(len(sources), " Indexing pages")
	var total int
	for _, source := range sources {
		records, err := service.AddDocument(ctx, source.Content, index.DocumentOptions{
			TextOptions: index.TextOptions{
				ContentType: models.ContentTypeText,
				SourceURL:   source.URL,
				SourceTitle: source.Title,
				Force:       force,
			},
		})
		if err != nil {
			color.Red("Failed to index %s: %v", source.URL, err)
			continue
		}
		total += len(records)
		ingestBar.Add(1)
	}
	ingestBar.Finish()
	color.Green("✓ Stored %d new chunks", total)
	return nil
}

func chatLoop(ctx context.Context, service *index.Service, topK int) error {
	color.Cyan("\nAsk questions about the indexed documents (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if strings.ToLower(question) == "exit" {
			break
		}

		answer, err := service.Ask(ctx, question, topK)
		if err != nil {
			color.Red("Error: %v", err)
			continue
		}

		assistantPrompt("Assistant: ")
		fmt.Println(answer.Text)

		if len(answer.Sources) > 0 {
			seen := make(map[string]bool)
			var lines []string
			for _, source := range answer.Sources {
				if source.SourceURL == "" || seen[source.SourceURL] {
					continue
				}
				seen[source.SourceURL] = true
				lines = append(lines, source.SourceURL)
			}
			if len(lines) > 0 {
				color.Blue("\nSources:\n%s", strings.Join(lines, "\n"))
			}
		}
	}

	return scanner.Err()
}
