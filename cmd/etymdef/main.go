package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"etymdef/internal/artifact"
	"etymdef/internal/artifact/minio"
	"etymdef/internal/config"
	"etymdef/internal/domain"
	"etymdef/internal/encoder/openai"
	"etymdef/internal/encoder/tfidf"
	"etymdef/internal/gloss"
	"etymdef/internal/lexicon"
	"etymdef/internal/logging"
	"etymdef/internal/matrix"
	"etymdef/internal/regress"
	"etymdef/internal/report"
	"etymdef/internal/service"
	"etymdef/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var (
		cfgPath        string
		useTUI         bool
		batchSize      int
		trainFraction  float64
		sampleFraction float64
		seed           int64
		epochs         int
		hiddenLayers   int
		k              int
		dataDir        string
	)
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/etymdef/config.yaml if not provided)")
	flag.BoolVar(&useTUI, "tui", false, "Browse the report interactively")
	flag.IntVar(&batchSize, "batch-size", 0, "Rows per encoder call")
	flag.Float64Var(&trainFraction, "train-fraction", 0, "Fraction of words used for training")
	flag.Float64Var(&sampleFraction, "sample-fraction", 0, "Fraction of rows kept before splitting")
	flag.Int64Var(&seed, "seed", 0, "Seed for sampling, splitting and initialization")
	flag.IntVar(&epochs, "epochs", 0, "Training epochs")
	flag.IntVar(&hiddenLayers, "hidden-layers", 0, "Hidden layers of the regressor")
	flag.IntVar(&k, "k", 0, "Nearest definitions per word")
	flag.StringVar(&dataDir, "data-dir", "", "Directory for cached embeddings and the model")
	flag.Parse()
	inputs := flag.Args()
	if len(inputs) != 1 {
		fmt.Println("Usage: etymdef [--config=config.yaml] [--tui] lexicon.tsv|lexicon.jsonl")
		os.Exit(1)
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Only flags given on the command line override the config.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "batch-size":
			cfg.Cache.BatchSize = batchSize
		case "train-fraction":
			cfg.Split.TrainFraction = trainFraction
		case "sample-fraction":
			cfg.Split.SampleFraction = sampleFraction
		case "seed":
			cfg.Split.Seed, cfg.Trainer.Seed, cfg.Report.Seed = seed, seed, seed
		case "epochs":
			cfg.Trainer.Epochs = epochs
		case "hidden-layers":
			cfg.Trainer.HiddenLayers = hiddenLayers
		case "k":
			cfg.Report.K = k
		case "data-dir":
			cfg.Storage.DataDir = dataDir
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	slog.SetDefault(logger)

	rows, err := lexicon.LoadFile(inputs[0])
	if err != nil {
		log.Fatalf("load lexicon: %v", err)
	}
	logger.Info("lexicon loaded", "path", inputs[0], "rows", len(rows))

	// Assemble components
	var enc domain.Encoder
	switch cfg.Encoder.Type {
	case "tfidf", "":
		t := tfidf.NewEncoder(cfg.Encoder.TFIDF.MaxFeatures)
		corpus := append(lexicon.WordEtymologyTexts(rows), lexicon.DefinitionTexts(rows)...)
		if err := t.Prepare(corpus); err != nil {
			log.Fatalf("tfidf prepare failed: %v", err)
		}
		enc = t
	case "openai":
		if cfg.Encoder.OpenAI == nil {
			log.Fatalf("openai encoder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:           cfg.Encoder.OpenAI.BaseURL,
			APIKeyEnv:         cfg.Encoder.OpenAI.APIKeyEnv,
			Model:             cfg.Encoder.OpenAI.Model,
			Timeout:           time.Duration(cfg.Encoder.OpenAI.TimeoutSecs) * time.Second,
			MaxRequestSize:    cfg.Encoder.OpenAI.MaxRequestSize,
			Concurrency:       cfg.Encoder.OpenAI.Concurrency,
			RequestsPerSecond: cfg.Encoder.OpenAI.RequestsPerSecond,
		})
		if err != nil {
			log.Fatalf("openai encoder init failed: %v", err)
		}
		enc = client
	default:
		log.Fatalf("unknown encoder: %s", cfg.Encoder.Type)
	}

	var st domain.ArtifactStore
	switch cfg.Storage.Type {
	case "local", "":
		st = artifact.NewLocalStore(cfg.Storage.DataDir)
	case "minio":
		mc := cfg.Storage.Minio
		if mc == nil {
			log.Fatalf("minio storage config missing")
		}
		s, err := minio.New(minio.Config{
			Endpoint:  mc.Endpoint,
			AccessKey: os.Getenv(mc.AccessKeyEnv),
			SecretKey: os.Getenv(mc.SecretKeyEnv),
			Bucket:    mc.Bucket,
			Prefix:    mc.Prefix,
			Secure:    mc.Secure,
		})
		if err != nil {
			log.Fatalf("minio storage init failed: %v", err)
		}
		st = s
	default:
		log.Fatalf("unknown storage: %s", cfg.Storage.Type)
	}

	compression, err := matrix.ParseCompression(cfg.Storage.Compression)
	if err != nil {
		log.Fatalf("storage compression: %v", err)
	}

	pipeline := service.NewPipeline(enc, st, gloss.NewFrequencySummarizer(), service.Options{
		BatchSize:      cfg.Cache.BatchSize,
		Compression:    compression,
		SampleFraction: cfg.Split.SampleFraction,
		TrainFraction:  cfg.Split.TrainFraction,
		SplitSeed:      cfg.Split.Seed,
		Trainer: regress.Config{
			Epochs:         cfg.Trainer.Epochs,
			HiddenLayers:   cfg.Trainer.HiddenLayers,
			LearningRate:   cfg.Trainer.LearningRate,
			LogEvery:       cfg.Trainer.LogEvery,
			CosineGradient: cfg.Trainer.CosineGradient,
			Seed:           cfg.Trainer.Seed,
		},
		K:            cfg.Report.K,
		Sample:       cfg.Report.Sample,
		MaxSentences: cfg.Report.MaxSentences,
		ReportSeed:   cfg.Report.Seed,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	rep, err := pipeline.Run(ctx, rows)
	if err != nil {
		log.Fatalf("pipeline failed: %v", err)
	}

	if !useTUI {
		if err := report.NewPrinter(os.Stdout).Write(rep); err != nil {
			log.Fatal(err)
		}
		return
	}
	m := tui.New(pipeline, rep, cfg.Report.K)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		log.Fatal(err)
	}
}
