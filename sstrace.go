// sstrace samples per-connection TCP statistics with ss(8) in a tight loop
// and appends them, timestamped, to a log.
package main

import (
	"context"
	"flag"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/httpx"
	"github.com/m-lab/go/memoryless"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/go/warnonerror"

	"github.com/m-lab/sstrace/capture"
	"github.com/m-lab/sstrace/config"
	"github.com/m-lab/sstrace/filter"
	"github.com/m-lab/sstrace/lifecycle"
	"github.com/m-lab/sstrace/logging"
	"github.com/m-lab/sstrace/platformx"
	"github.com/m-lab/sstrace/query"
	"github.com/m-lab/sstrace/redis"
	"github.com/m-lab/sstrace/results"
	"github.com/m-lab/sstrace/sampler"
	"github.com/m-lab/sstrace/ssparse"
)

var (
	remoteIP   = flag.String("remote-ip", "", "Only sample connections to this remote address")
	remotePort = flag.Int("remote-port", 0, "Only sample connections to this remote port")
	localPort  = flag.Int("local-port", 0, "Only sample connections from this local port")
	duration   = flag.String("duration", "", "Number of seconds to sample for. Empty samples until stopped")

	output    = flag.String("output", "ss.log", "The sample log. Existing content is kept")
	format    = flag.String("format", "text", "Log format: text or json")
	compress  = flag.Bool("compress", false, "Whether to gzip the sample log")
	emitEmpty = flag.Bool("emit-empty", false, "Whether to log samples in which no connection matched")

	minInterval    = flag.Duration("min-interval", 0, "Minimum time between two queries. Zero polls back to back")
	queryTimeout   = flag.Duration("query-timeout", 5*time.Second, "Maximum time a single ss invocation may take")
	maxFailures    = flag.Int("max-failures", 0, "Stop after this many consecutive query failures. Zero never stops")
	onUnknownField = flag.String("on-unknown-field", string(sampler.Quarantine), "What to do with undecodable output: quarantine or abort")
	extraFields    flagx.StringArray

	ssBinary   = flag.String("ss.binary", "ss", "The ss binary")
	ssArgs     = flag.String("ss.args", "", "Space separated ss options replacing the defaults "+strings.Join(query.DefaultArgs, " "))
	ssExtended = flag.Bool("ss.extended", false, "Pass -e to ss, adding uid, inode and socket cookie")
	ssMemory   = flag.Bool("ss.memory", false, "Pass -m to ss, adding socket memory usage")

	captureEnable    = flag.Bool("capture.enable", false, "Whether to run a packet capture alongside the sampler")
	captureBinary    = flag.String("capture.binary", "tcpdump", "The packet capture binary")
	captureInterface = flag.String("capture.interface", "any", "The interface to capture on")
	capturePort      = flag.Int("capture.port", 0, "Only capture TCP traffic on this port. Zero uses -remote-port")
	captureOutput    = flag.String("capture.output", "trace.pcap", "The capture file")
	captureOwner     = flag.String("capture.owner", "", "The user tcpdump drops privileges to")
	captureSizeMB    = flag.Int("capture.size-mb", 0, "Rotate the capture file after this many megabytes")

	redisAddr = flag.String("redis.addr", "", "Redis server holding the termination flag. Empty disables remote stop")
	runID     = flag.String("run-id", "", "The run identifier used for remote stop. Defaults to a random UUID")

	metricsAddr = flag.String("metrics.addr", ":9990", "The address serving /metrics and /debug/pprof")
	configFile  = flag.String("config", "", "A YAML file providing values for flags that are not set")
	logLevel    = flag.String("log.level", "info", "The minimum level of log messages")

	// Context for the whole program.
	ctx, cancel = context.WithCancel(context.Background())
)

func init() {
	flag.Var(&extraFields, "extra-field", "An ss key to keep verbatim instead of rejecting. Repeatable")
}

func serveMetrics() *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    *metricsAddr,
		Handler: logging.MakeAccessLogHandler(mux),
	}
	rtx.Must(httpx.ListenAndServeAsync(srv), "Could not start metrics server")
	return srv
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")
	if *configFile != "" {
		cfg, err := config.Load(*configFile)
		rtx.Must(err, "Could not load config")
		rtx.Must(cfg.Apply(flag.CommandLine), "Could not apply config")
	}
	rtx.Must(logging.SetLevel(*logLevel), "Invalid -log.level")
	platformx.WarnIfNotFullySupported()

	target, err := filter.Build(*remoteIP, *remotePort, *localPort, *duration)
	rtx.Must(err, "Invalid target")
	logFormat, err := results.ParseFormat(*format)
	rtx.Must(err, "Invalid -format")
	policy, err := sampler.ParsePolicy(*onUnknownField)
	rtx.Must(err, "Invalid -on-unknown-field")
	if *runID == "" {
		*runID = uuid.NewString()
	}
	logger := logging.Logger.WithFields(log.Fields{
		"run_id": *runID,
		"filter": target.Predicate.String(),
	})

	srv := serveMetrics()
	defer warnonerror.Close(srv, "Could not close metrics server")

	if census, err := query.NewProcCensus("/proc"); err == nil {
		if n, err := census.Count(target.Predicate); err == nil {
			logger.WithField("sockets", n).Info("matching sockets at start")
		}
	}

	m := lifecycle.New(ctx)
	w, err := results.Open(*output, logFormat, *compress)
	rtx.Must(err, "Could not open sample log")
	m.OnClose(w)

	ss := query.NewSS(*ssBinary, *queryTimeout, *ssExtended, *ssMemory)
	if fields := strings.Fields(*ssArgs); len(fields) > 0 {
		ss.Args = fields
	}
	s := sampler.New(sampler.Config{
		Predicate:              target.Predicate,
		Duration:               target.Duration,
		MinInterval:            *minInterval,
		EmitEmptySamples:       *emitEmpty,
		MaxConsecutiveFailures: *maxFailures,
		Policy:                 policy,
	}, ss, ssparse.NewParser(extraFields...))
	tasks := []lifecycle.Task{
		func(ctx context.Context) error { return s.Run(ctx, w) },
	}

	if *captureEnable {
		port := *capturePort
		if port == 0 {
			port = *remotePort
		}
		c, err := capture.Start(m.Context(), capture.Config{
			Binary:     *captureBinary,
			Interface:  *captureInterface,
			Port:       port,
			Output:     *captureOutput,
			Owner:      *captureOwner,
			FileSizeMB: *captureSizeMB,
		})
		if err != nil {
			m.Shutdown()
			rtx.Must(err, "Could not start packet capture")
		}
		m.Track(c)
		tasks = append(tasks, c.Run)
	}

	if *redisAddr != "" {
		rc := redis.NewClient(*redisAddr)
		m.OnClose(rc)
		tasks = append(tasks, lifecycle.WatchTermination(rc, *runID, memoryless.Config{
			Min:      250 * time.Millisecond,
			Expected: time.Second,
			Max:      4 * time.Second,
		}))
	}

	logger.WithField("output", w.Path).Info("sampling")
	err = m.Run(tasks...)
	rtx.Must(err, "Sampling failed")
	logger.Info("done")
}
