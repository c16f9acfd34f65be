package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-mosaic/internal/checkpoint"
	"github.com/23skdu/longbow-mosaic/internal/config"
	"github.com/23skdu/longbow-mosaic/internal/corpus"
	"github.com/23skdu/longbow-mosaic/internal/engine"
	"github.com/23skdu/longbow-mosaic/internal/logger"
)

func main() {
	p := config.Default()

	flag.StringVar(&p.ModelPath, "model", "", "path to model checkpoint")
	flag.Int64Var(&p.Seed, "seed", p.Seed, "sampling seed (negative for time-based)")
	flag.IntVar(&p.Threads, "threads", p.Threads, "worker threads for matrix kernels")
	flag.IntVar(&p.Batch, "batch", p.Batch, "prompt tokens evaluated per pass")
	flag.IntVar(&p.CtxLen, "ctx", p.CtxLen, "context length (clamped to the model's maximum)")
	flag.IntVar(&p.Predict, "n", p.Predict, "tokens to generate")
	tempF := flag.Float64("temp", float64(p.Temp), "sampling temperature")
	flag.IntVar(&p.TopK, "top-k", p.TopK, "top-k cutoff (0 for full vocabulary)")
	topPF := flag.Float64("top-p", float64(p.TopP), "nucleus cutoff")
	flag.IntVar(&p.RepeatLastN, "repeat-last-n", p.RepeatLastN, "repetition penalty window (-1 for full context)")
	repPenF := flag.Float64("repeat-penalty", float64(p.RepeatPenalty), "repetition penalty")
	flag.BoolVar(&p.Perplexity, "perplexity", false, "score a corpus instead of generating")
	flag.StringVar(&p.MetricsAddr, "metrics", p.MetricsAddr, "prometheus listen address (empty to disable)")
	flag.StringVar(&p.LogLevel, "log-level", p.LogLevel, "log level")
	flag.StringVar(&p.LogFormat, "log-format", p.LogFormat, "log format (console or json)")

	prompt := flag.String("prompt", "", "prompt text (empty for a random prompt)")
	promptLen := flag.Int("random-prompt-len", 16, "length of the random prompt when -prompt is empty")
	corpusPath := flag.String("corpus", "", "perplexity corpus: .arrow token file or plain text")
	flightAddr := flag.String("corpus-flight", "", "flight server address for remote corpora")
	flightSet := flag.String("corpus-dataset", "", "dataset name to fetch over flight")
	flag.Parse()

	p.Temp = float32(*tempF)
	p.TopP = float32(*topPF)
	p.RepeatPenalty = float32(*repPenF)

	logger.Setup(p.LogLevel, p.LogFormat)
	log := logger.Log

	if p.ModelPath == "" {
		fmt.Fprintln(os.Stderr, "error: -model is required")
		flag.Usage()
		os.Exit(1)
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		log.Error("invalid parameters", "error", err)
		os.Exit(1)
	}

	if p.MetricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			log.Info("metrics serving", "addr", p.MetricsAddr)
			if err := http.ListenAndServe(p.MetricsAddr, nil); err != nil {
				log.Error("metrics server", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	model, err := checkpoint.LoadFile(p.ModelPath, p.CtxLen, log)
	if err != nil {
		log.Error("model load failed", "error", err)
		os.Exit(1)
	}
	p.ClampToModel(int(model.Hparams.MaxSeqLen), model.Vocab.Size())

	rng := rand.New(rand.NewSource(p.Seed))
	log.Info("run parameters",
		"seed", p.Seed,
		"threads", p.Threads,
		"ctx", p.CtxLen,
		"batch", p.Batch,
		"predict", p.Predict,
	)

	runner := engine.NewRunner(model, engine.RunnerConfig{
		Threads:     p.Threads,
		Batch:       p.Batch,
		Predict:     p.Predict,
		RepeatLastN: p.RepeatLastN,
		Sampler: engine.SamplerConfig{
			TopK:          p.TopK,
			TopP:          float64(p.TopP),
			Temperature:   float64(p.Temp),
			RepeatPenalty: float64(p.RepeatPenalty),
		},
	}, rng, log)

	if p.Perplexity {
		if err := runPerplexity(ctx, runner, p, *corpusPath, *flightAddr, *flightSet, log); err != nil {
			log.Error("perplexity failed", "error", err)
			os.Exit(1)
		}
		return
	}

	tokens := runner.TokenizeMessage(*prompt)
	if *prompt == "" {
		tokens = runner.Tokenizer().RandomPrompt(rng, *promptLen)
		log.Info("using random prompt", "tokens", len(tokens))
	} else {
		log.Info("prompt encoded", "tokens", len(tokens))
	}

	done := make(chan error, 1)
	go func() {
		_, err := runner.ProcessTokenized(tokens, func(s string) {
			fmt.Print(s)
		})
		done <- err
	}()

	select {
	case err := <-done:
		fmt.Println()
		if err != nil {
			log.Error("generation failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		fmt.Println()
		log.Info("interrupted")
	}
}

// runPerplexity resolves the corpus from flight, an Arrow token file, or
// plain text, then scores it.
func runPerplexity(ctx context.Context, runner *engine.Runner, p config.Params,
	path, flightAddr, dataset string, log *logger.Logger) error {

	var tokens []int
	switch {
	case flightAddr != "":
		if dataset == "" {
			return fmt.Errorf("-corpus-dataset is required with -corpus-flight")
		}
		client, err := corpus.Dial(flightAddr, log)
		if err != nil {
			return err
		}
		defer client.Close()
		tokens, err = client.FetchTokens(ctx, dataset)
		if err != nil {
			return err
		}

	case strings.HasSuffix(path, ".arrow"):
		var err error
		tokens, err = corpus.ReadTokensFile(path)
		if err != nil {
			return err
		}

	case path != "":
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tokens = runner.TokenizeMessage(string(raw))

	default:
		return fmt.Errorf("-corpus or -corpus-flight is required with -perplexity")
	}

	ppl, err := engine.Perplexity(runner.Executor(), tokens, p.Batch, log)
	if err != nil {
		return err
	}
	log.Info("final perplexity", "ppl", ppl, "tokens", len(tokens))
	return nil
}
