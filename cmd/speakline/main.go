package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"speakline/pkg/audio"
	"speakline/pkg/config"
	"speakline/pkg/db"
	"speakline/pkg/db/maintenance"
	"speakline/pkg/logging"
	"speakline/pkg/probe"
	"speakline/pkg/session"
	"speakline/pkg/store"
	"speakline/pkg/tracker"
	"speakline/pkg/tts"
	"speakline/pkg/version"
)

const defaultConfigPath = "configs/speakline.yaml"

// errUsage marks command-line mistakes; main prints usage and exits 2.
var errUsage = errors.New("usage error")

// newDevice is the audio output; nil selects the system speaker.
var newDevice = func() audio.Device { return nil }

type options struct {
	configPath  string
	engine      string
	voice       string
	initConfig  bool
	history     int
	listVoices  bool
	showVersion bool

	modelConfig string // positional: piper voice .onnx.json
	speakerArg  string // positional: optional speaker id
}

func parseArgs(args []string, stderr io.Writer) (*options, *flag.FlagSet, error) {
	opts := &options{}
	fs := flag.NewFlagSet("speakline", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: speakline [flags] <model_config_path> [speaker_id]\n\n")
		fmt.Fprintf(fs.Output(), "Reads one utterance per line from stdin and speaks it.\n")
		fmt.Fprintf(fs.Output(), "<model_config_path> is the piper voice .onnx.json (required for the piper engine).\n\nFlags:\n")
		fs.PrintDefaults()
	}

	fs.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to the YAML config file")
	fs.StringVar(&opts.engine, "engine", "", "Synthesis engine override (piper, edge-tts, gemini, windows-sapi)")
	fs.StringVar(&opts.voice, "voice", "", "Voice override for the selected engine")
	fs.BoolVar(&opts.initConfig, "init-config", false, "Generate default config file and exit")
	fs.IntVar(&opts.history, "history", 0, "Print the last N utterances as CSV and exit")
	fs.BoolVar(&opts.listVoices, "voices", false, "List the engine's voices and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}

	rest := fs.Args()
	if len(rest) > 2 {
		return nil, fs, fmt.Errorf("%w: too many arguments", errUsage)
	}
	if len(rest) > 0 {
		opts.modelConfig = rest[0]
	}
	if len(rest) > 1 {
		opts.speakerArg = rest[1]
	}
	return opts, fs, nil
}

func main() {
	opts, fs, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		os.Exit(2)
	}

	if opts.showVersion {
		fmt.Println("speakline", version.Version)
		return
	}

	// Handle --init-config flag
	if opts.initConfig {
		if err := config.GenerateDefault(opts.configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", opts.configPath)
		return
	}

	// First signal ends the session between lines, a second one kills the process
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	if err := run(ctx, opts, os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			fs.Usage()
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, in io.Reader, out io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.engine != "" {
		cfg.Synth.Engine = opts.engine
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
	}

	cleanupLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	tts.SetLogPath(cfg.Log.TTS.Path)

	slog.Debug("speakline started", "version", version.Version, "engine", cfg.Synth.Engine)

	if opts.history > 0 {
		return printHistory(ctx, cfg, out, opts.history)
	}

	sessOpts, err := sessionOptions(opts)
	if err != nil {
		return err
	}

	tr := tracker.New()
	synth, err := newSynthesizer(ctx, cfg, opts, &sessOpts, tr)
	if err != nil {
		return err
	}

	if opts.listVoices {
		return printVoices(ctx, synth, out)
	}

	st := openHistory(ctx, cfg)
	if st != nil {
		defer st.Close()
	}

	probes := []probe.Probe{probe.Engine(synth), probe.Format(synth)}
	if st != nil {
		probes = append(probes, probe.History(st))
	}
	if err := probe.AnalyzeResults(probe.Run(ctx, probes)); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	sink := audio.New(cfg.Audio, newDevice())
	if err := sink.Open(synth.Format()); err != nil {
		return err
	}
	defer sink.Close()

	sess := &session.Session{
		Synth:   synth,
		Sink:    sink,
		Options: sessOpts,
		Tracker: tr,
	}
	if st != nil {
		sess.History = st
	}

	runErr := sess.Run(ctx, in)

	for engine, s := range tr.Snapshot() {
		slog.Debug("Session stats",
			"engine", engine,
			"utterances", s.Utterances,
			"synth_failures", s.SynthFailures,
			"chunks_ok", s.ChunksOK,
			"chunks_failed", s.ChunksFailed,
			"samples_played", s.SamplesPlayed)
	}
	return runErr
}

func sessionOptions(opts *options) (tts.Options, error) {
	so := tts.Options{Voice: opts.voice}
	if opts.speakerArg == "" {
		return so, nil
	}
	id, err := strconv.ParseInt(opts.speakerArg, 10, 64)
	if err != nil {
		return so, fmt.Errorf("invalid speaker id %q: %w", opts.speakerArg, err)
	}
	so.Speaker = &id
	return so, nil
}

// openHistory opens the history database. Failures disable history instead of failing startup.
func openHistory(ctx context.Context, cfg *config.Config) *store.SQLiteStore {
	if !cfg.History.Enabled || cfg.History.Path == "" {
		return nil
	}
	d, err := db.Init(cfg.History.Path)
	if err != nil {
		slog.Warn("Utterance history disabled", "path", cfg.History.Path, "error", err)
		return nil
	}
	st := store.NewSQLiteStore(d)
	if err := maintenance.Run(ctx, st, d, cfg.History.Retention.Std()); err != nil {
		slog.Error("Maintenance tasks failed", "error", err)
	}
	return st
}

func printHistory(ctx context.Context, cfg *config.Config, out io.Writer, limit int) error {
	d, err := db.Init(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	st := store.NewSQLiteStore(d)
	defer st.Close()

	_, err = maintenance.ExportCSV(ctx, st, out, limit)
	return err
}

func printVoices(ctx context.Context, synth tts.Synthesizer, out io.Writer) error {
	lister, ok := synth.(tts.VoiceLister)
	if !ok {
		return fmt.Errorf("engine %s cannot list voices", synth.Name())
	}
	voices, err := lister.Voices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list voices: %w", err)
	}
	for _, v := range voices {
		fmt.Fprintf(out, "%s\t%s\t%s\n", v.ID, v.Name, v.Language)
	}
	return nil
}
