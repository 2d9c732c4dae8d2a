// Package main provides the logexpect CLI that waits
// for a pod container, or a local command, to log an
// expected line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/valyala/fasttemplate"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"

	"github.com/byte4ever/logexpect/testing/expect"
	"github.com/byte4ever/logexpect/testing/ghactions"
	"github.com/byte4ever/logexpect/testing/logtail"
	"github.com/byte4ever/logexpect/testing/logtail/kube"
	"github.com/byte4ever/logexpect/testing/logtail/proc"
	"github.com/byte4ever/logexpect/testing/redact"
)

// config holds all CLI parameters.
type config struct {
	namespace     string
	kubeconfig    string
	pod           string
	container     string
	expected      string
	stallTimeout  time.Duration
	pollInterval  time.Duration
	timeout       time.Duration
	tail          int64
	startAttempts int
	startState    logtail.State
	prefix        string
	redactRules   string
	redactExprs   []string
	report        string
	command       []string
}

// arrayFlag implements flag.Value for collecting
// repeated string flags.
type arrayFlag []string

func (f *arrayFlag) String() string {
	return strings.Join(*f, ",")
}

func (f *arrayFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}

func parseConfig(
	fs *flag.FlagSet,
	args []string,
) (*config, error) {
	const errCtx = "parse config"

	var (
		cfg        config
		redacts    arrayFlag
		startState string
	)

	fs.StringVar(
		&cfg.namespace,
		"namespace",
		os.Getenv("NAMESPACE"),
		"kubernetes namespace",
	)
	fs.StringVar(
		&cfg.kubeconfig,
		"kubeconfig",
		os.Getenv("KUBECONFIG"),
		"path to kubernetes config file",
	)
	fs.StringVar(
		&cfg.pod, "pod", "",
		"pod to follow; when empty the remaining"+
			" arguments are run as a local command",
	)
	fs.StringVar(
		&cfg.container, "container", "",
		"container inside the pod",
	)
	fs.StringVar(
		&cfg.expected, "expect", "",
		"substring the log must contain",
	)
	fs.DurationVar(
		&cfg.stallTimeout,
		"stall_timeout",
		expect.DefaultStallTimeout,
		"fail when the log is silent this long",
	)
	fs.DurationVar(
		&cfg.pollInterval,
		"poll_interval",
		expect.DefaultPollInterval,
		"pause between polls of an idle log",
	)
	fs.DurationVar(
		&cfg.timeout,
		"timeout", 0,
		"overall execution timeout, 0 for none",
	)
	fs.Int64Var(
		&cfg.tail, "tail", 1,
		"lines of history to replay, 0 for all",
	)
	fs.IntVar(
		&cfg.startAttempts,
		"start_attempts", 10,
		"status refreshes while waiting for start",
	)
	fs.StringVar(
		&startState, "start_state", "",
		"status to wait for before following the log;"+
			" running, waiting or terminated, empty for"+
			" any status past waiting",
	)
	fs.StringVar(
		&cfg.prefix,
		"prefix", "[{pod}/{container}]: ",
		"echo prefix; {namespace}, {pod}, {container}"+
			" and {cmd} are expanded",
	)
	fs.StringVar(
		&cfg.redactRules, "redact_rules", "",
		"YAML file of redaction rules",
	)
	fs.Var(
		&redacts,
		"redact",
		"regexp whose capture groups are masked",
	)
	fs.StringVar(
		&cfg.report, "report", "",
		"write a JSON result to this file",
	)

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	cfg.redactExprs = redacts
	cfg.command = fs.Args()

	if startState != "" {
		st, err := logtail.ParseState(startState)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		cfg.startState = st
	}

	if cfg.expected == "" {
		return nil, fmt.Errorf(
			"%s: expect is required", errCtx,
		)
	}

	if cfg.pod == "" && len(cfg.command) == 0 {
		return nil, fmt.Errorf(
			"%s: either pod or a command is required",
			errCtx,
		)
	}

	if cfg.pod != "" && cfg.namespace == "" {
		return nil, fmt.Errorf(
			"%s: namespace is required", errCtx,
		)
	}

	return &cfg, nil
}

func loadRules(cfg *config) ([]redact.Rule, error) {
	const errCtx = "loading rules"

	var rules []redact.Rule

	if cfg.redactRules != "" {
		fromFile, err := redact.LoadRules(cfg.redactRules)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		rules = append(rules, fromFile...)
	}

	for i, expr := range cfg.redactExprs {
		r, err := redact.NewRule(
			fmt.Sprintf("flag-%d", i), expr,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		rules = append(rules, r)
	}

	return rules, nil
}

// expandPrefix substitutes the source description into
// the prefix template.
func expandPrefix(cfg *config) string {
	return fasttemplate.ExecuteStringStd(
		cfg.prefix, "{", "}",
		map[string]interface{}{
			"namespace": cfg.namespace,
			"pod":       cfg.pod,
			"container": cfg.container,
			"cmd":       strings.Join(cfg.command, " "),
		},
	)
}

func openSource(
	ctx context.Context,
	cfg *config,
) (logtail.Source, func(), error) {
	const errCtx = "opening source"

	if cfg.pod == "" {
		p, err := proc.Start(
			ctx, "", cfg.command[0], cfg.command[1:]...,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		return p, p.Stop, nil
	}

	kubeconfig := cfg.kubeconfig
	if kubeconfig == "" {
		if _, ok := os.LookupEnv(
			"KUBERNETES_SERVICE_HOST",
		); !ok {
			kubeconfig = filepath.Join(
				homedir.HomeDir(),
				".kube", "config",
			)
		}
	}

	restConfig, err := clientcmd.BuildConfigFromFlags(
		"", kubeconfig,
	)
	if err != nil {
		return nil, nil, fmt.Errorf(
			"%s: building kubeconfig: %w",
			errCtx, err,
		)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, nil, fmt.Errorf(
			"%s: creating clientset: %w",
			errCtx, err,
		)
	}

	c := kube.NewContainer(
		clientset.CoreV1().Pods(cfg.namespace),
		cfg.namespace, cfg.pod, cfg.container,
	)

	return c, func() {}, nil
}

func writeReport(path string, res *expect.Result) error {
	const errCtx = "writing report"

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	//nolint:gosec // report path from CLI flag
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

func run(ctx context.Context, args []string) error {
	const errCtx = "logexpect"

	cfg, err := parseConfig(
		flag.NewFlagSet("logexpect", flag.ContinueOnError),
		args,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	rules, err := loadRules(cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if cfg.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	src, stop, err := openSource(ctx, cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	defer stop()

	w := &expect.Waiter{
		StallTimeout: cfg.stallTimeout,
		PollInterval: cfg.pollInterval,
		Since:        logtail.SinceLines(cfg.tail),
		Printer:      redact.NewPrinter(os.Stdout, rules...),
		Prefix:       expandPrefix(cfg),
		StartState:   cfg.startState,
	}

	// A zero tail replays everything.
	if cfg.tail <= 0 {
		w.Since = logtail.SinceTime(time.Unix(1, 0))
	}

	endGroup := ghactions.Group(os.Stdout, cfg.expected)
	defer endGroup()

	st, err := w.WaitStarted(ctx, src, cfg.startAttempts)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	slog.Info("source started", "status", st)

	res, waitErr := w.WaitFor(ctx, src, cfg.expected)

	if cfg.report != "" {
		if err := writeReport(cfg.report, res); err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	if waitErr != nil {
		return fmt.Errorf("%s: %w", errCtx, waitErr)
	}

	slog.Info("found", "expected", cfg.expected, "seq", res.Seq)

	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)

	err := run(ctx, os.Args[1:])

	cancel()

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}

		slog.Error(err.Error())
		os.Exit(1)
	}
}
