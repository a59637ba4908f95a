package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/oarkflow/json"
	"github.com/spf13/cobra"

	"github.com/oarkflow/ppm"
)

var (
	verbose bool

	maxOrder  int
	exclusion bool
	analyzer  string
	lowercase bool
	alphabet  string
	fields    []string
	condition string
	modelPath string
	update    bool
	topK      int
	addr      string
	cfgPath   string

	rootCmd = &cobra.Command{
		Use:   "ppmlm",
		Short: "Train and query PPM language models",
		Long: `ppmlm trains adaptive Prediction by Partial Matching models over
characters or words, scores text against them and predicts continuations.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	trainCmd = &cobra.Command{
		Use:   "train [corpus...]",
		Short: "Train a model on text or JSON corpora and save it",
		Long: `Files ending in .json must hold a JSON array of strings or records;
any other file is read one document per line. Without --alphabet the
vocabulary is every token seen in the corpora.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runTrain,
	}

	evalCmd = &cobra.Command{
		Use:   "eval [corpus...]",
		Short: "Report log-probability and perplexity of corpora under a model",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runEval,
	}

	predictCmd = &cobra.Command{
		Use:   "predict [prefix]",
		Short: "Rank the most probable next tokens after a prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPredict,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Describe a saved model",
		RunE:  runStats,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve models over HTTP",
		RunE:  runServe,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(trainCmd)
	trainCmd.Flags().IntVarP(&maxOrder, "order", "n", ppm.DefaultMaxOrder, "Maximum context length")
	trainCmd.Flags().BoolVar(&exclusion, "exclusion", false, "Enable the exclusion mechanism")
	trainCmd.Flags().StringVar(&analyzer, "analyzer", "char", "Tokenization: 'char' or 'word'")
	trainCmd.Flags().BoolVar(&lowercase, "lowercase", false, "Lower-case text before character tokenization")
	trainCmd.Flags().StringVar(&alphabet, "alphabet", "", "Fixed character vocabulary; out-of-alphabet tokens are skipped")
	trainCmd.Flags().StringSliceVar(&fields, "fields", nil, "Record fields holding text in JSON corpora")
	trainCmd.Flags().StringVar(&condition, "condition", "", "SQL-like filter records must satisfy, e.g. \"lang = 'en'\"")
	trainCmd.Flags().StringVarP(&modelPath, "model", "m", "model.ppm.json", "Where to write the trained model")

	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().StringVarP(&modelPath, "model", "m", "model.ppm.json", "Saved model to evaluate with")
	evalCmd.Flags().BoolVar(&update, "update", false, "Keep learning while evaluating")
	evalCmd.Flags().StringSliceVar(&fields, "fields", nil, "Record fields holding text in JSON corpora")
	evalCmd.Flags().StringVar(&analyzer, "analyzer", "char", "Override the saved tokenization: 'char' or 'word'")
	evalCmd.Flags().BoolVar(&lowercase, "lowercase", false, "Override the saved lower-casing of character tokenization")

	rootCmd.AddCommand(predictCmd)
	predictCmd.Flags().StringVarP(&modelPath, "model", "m", "model.ppm.json", "Saved model to predict with")
	predictCmd.Flags().IntVarP(&topK, "top", "k", 5, "Number of candidates to print")
	predictCmd.Flags().StringVar(&analyzer, "analyzer", "char", "Override the saved tokenization: 'char' or 'word'")
	predictCmd.Flags().BoolVar(&lowercase, "lowercase", false, "Override the saved lower-casing of character tokenization")

	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVarP(&modelPath, "model", "m", "model.ppm.json", "Saved model to describe")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&cfgPath, "config", "c", "", "YAML or JSON manager config")
	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address, overrides the config")
}

func modelConfig() ppm.Config {
	order := maxOrder
	return ppm.Config{
		MaxOrder:  &order,
		Exclusion: exclusion,
		Analyzer:  analyzer,
		Lowercase: lowercase,
		Alphabet:  alphabet,
	}
}

// readCorpus returns one text per document in path.
func readCorpus(ctx context.Context, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return readJSONCorpus(ctx, f)
	}
	var texts []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		texts = append(texts, sc.Text())
	}
	return texts, sc.Err()
}

func readJSONCorpus(ctx context.Context, r io.Reader) ([]string, error) {
	var values []any
	if err := json.NewDecoder(r).Decode(&values); err != nil {
		return nil, fmt.Errorf("decode corpus: %w", err)
	}
	texts := make([]string, 0, len(values))
	for i, v := range values {
		text, err := ppm.AdaptText(ctx, v, ppm.WithTextFields(fields...))
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		texts = append(texts, text)
	}
	return texts, nil
}

// loadModel restores the saved model with the tokenization it was trained
// with, unless --analyzer or --lowercase override it.
func loadModel(cmd *cobra.Command) (*ppm.LanguageModel, error) {
	var opts []ppm.Options
	if cmd.Flags().Changed("analyzer") || cmd.Flags().Changed("lowercase") {
		an, err := ppm.Config{Analyzer: analyzer, Lowercase: lowercase}.NewAnalyzer()
		if err != nil {
			return nil, err
		}
		opts = append(opts, ppm.WithAnalyzer(an))
	}
	return ppm.LoadFromDisk(modelPath, opts...)
}

func printJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := modelConfig()
	an, err := cfg.NewAnalyzer()
	if err != nil {
		return err
	}
	vocab, err := cfg.Vocabulary()
	if err != nil {
		return err
	}
	fixed := vocab.Size() > 1
	if !fixed {
		// One pass to collect the vocabulary from the corpora themselves.
		for _, path := range args {
			texts, err := readCorpus(ctx, path)
			if err != nil {
				return err
			}
			for _, text := range texts {
				if err := vocab.AddAll(an.Tokens(text)...); err != nil {
					return err
				}
			}
		}
	}
	model, err := cfg.NewModel(vocab)
	if err != nil {
		return err
	}
	var total ppm.TrainStats
	for _, path := range args {
		var stats ppm.TrainStats
		if strings.EqualFold(filepath.Ext(path), ".json") {
			stats, err = model.BuildFromFile(ctx, path, ppm.WithTextFields(fields...), ppm.WithCondition(condition))
		} else {
			var texts []string
			texts, err = readCorpus(ctx, path)
			if err == nil {
				stats = model.TrainTexts(texts...)
			}
		}
		if err != nil {
			return fmt.Errorf("train on %s: %w", path, err)
		}
		slog.Info("corpus trained", "path", path, "good", stats.GoodCount, "skipped", stats.SkippedCount)
		total.Merge(stats)
	}
	if err := model.SaveToDisk(modelPath); err != nil {
		return err
	}
	slog.Info("model saved",
		"path", modelPath,
		"vocabulary_size", vocab.Size(),
		"nodes", model.NodeCount(),
		"good", total.GoodCount,
		"skipped", total.SkippedCount)
	return nil
}

func runEval(cmd *cobra.Command, args []string) error {
	model, err := loadModel(cmd)
	if err != nil {
		return err
	}
	var total ppm.EvalResult
	for _, path := range args {
		texts, err := readCorpus(cmd.Context(), path)
		if err != nil {
			return err
		}
		res := model.EvaluateTexts(texts, update)
		fmt.Printf("%s\tgood=%d\tskipped=%d\tlog10prob=%.4f\tperplexity=%.4f\n",
			path, res.GoodCount, res.SkippedCount, res.SumLog10Prob, res.Perplexity)
		total.Merge(res)
	}
	if len(args) > 1 {
		fmt.Printf("total\tgood=%d\tskipped=%d\tlog10prob=%.4f\tperplexity=%.4f\n",
			total.GoodCount, total.SkippedCount, total.SumLog10Prob, total.Perplexity)
	}
	return nil
}

func runPredict(cmd *cobra.Command, args []string) error {
	model, err := loadModel(cmd)
	if err != nil {
		return err
	}
	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}
	for _, p := range model.PredictAfter(prefix, topK) {
		fmt.Printf("%q\t%.6f\n", p.Token, p.Probability)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	model, err := loadModel(cmd)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"id":              model.ID,
		"max_order":       model.MaxOrder(),
		"exclusion":       model.UseExclusion(),
		"strict":          model.Strict(),
		"vocabulary_size": model.Vocabulary().Size(),
		"trie":            model.Stats(),
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := &ppm.ManagerConfig{}
	if cfgPath != "" {
		var err error
		if cfg, err = ppm.LoadConfig(cfgPath); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("addr") || cfg.Addr == "" {
		cfg.Addr = addr
	}
	cfg.Logger = slog.Default()
	mgr, err := ppm.NewManager(*cfg)
	if err != nil {
		return err
	}
	defer mgr.Close()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return mgr.StartHTTP(ctx, cfg.Addr)
}
