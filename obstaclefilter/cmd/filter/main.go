// Package main runs the reachability obstacle filter against Kafka or a recorded rosbag.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/MShields1986/reuleaux/obstaclefilter"
	"github.com/MShields1986/reuleaux/octomap"
	"github.com/MShields1986/reuleaux/reachability"
	"github.com/MShields1986/reuleaux/ros"
	"github.com/MShields1986/reuleaux/ros/replay"
	"github.com/MShields1986/reuleaux/transport"
	"github.com/MShields1986/reuleaux/transport/inmem"
	"github.com/MShields1986/reuleaux/transport/kafka"
)

const (
	transportKafka = "kafka"
	transportBag   = "bag"
)

var logger = golog.NewDevelopmentLogger("remove_reachability")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	Policy         string `flag:"0,usage=filter policy: voxel | inscribed-sphere | circumscribed-sphere"`
	Transport      string `flag:"transport,default=kafka,usage=message transport: kafka or bag"`
	Brokers        string `flag:"brokers,default=localhost:9092,usage=comma separated kafka brokers"`
	Group          string `flag:"group,usage=kafka consumer group for the scene topic; none reads only new scenes"`
	Bag            string `flag:"bag,usage=rosbag to replay when the transport is bag"`
	SceneFile      string `flag:"scene-file,usage=octomap .bt file used as the initial scene"`
	PeriodMs       int    `flag:"period-ms,default=100,usage=loop period in milliseconds"`
	FullLattice    bool   `flag:"full-lattice,usage=emit face and edge midpoints of occupied voxels as obstacles"`
	DumpObstacles  string `flag:"dump-obstacles,usage=pcd file to write every new obstacle cloud to"`
	MetricsAddr    string `flag:"metrics-addr,usage=address to serve prometheus metrics on"`
	SceneTopic     string `flag:"scene-topic,default=/move_group/monitored_planning_scene,usage=planning scene topic"`
	MapTopic       string `flag:"map-topic,default=/reachability_map,usage=reachability map topic"`
	FilteredTopic  string `flag:"filtered-topic,default=/reachability_map_filtered,usage=filtered map topic"`
	CollidingTopic string `flag:"colliding-topic,default=reachability_map_colliding,usage=colliding map topic"`
	Debug          bool   `flag:"debug"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(flagsFirst(args), &argsParsed); err != nil {
		return err
	}
	if argsParsed.Debug {
		logger = golog.NewDebugLogger("remove_reachability")
	}

	policy, err := obstaclefilter.ParsePolicy(argsParsed.Policy)
	if err != nil {
		return err
	}
	if argsParsed.Policy == "" {
		logger.Infof("no filter type provided, defaulting to %s", policy)
	} else {
		logger.Infof("setting filter type to %s", policy)
	}
	if argsParsed.PeriodMs <= 0 {
		return errors.Errorf("period must be positive, got %dms", argsParsed.PeriodMs)
	}
	vertices := obstaclefilter.CornerVertices
	if argsParsed.FullLattice {
		vertices = obstaclefilter.FullLattice
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	cfg := obstaclefilter.Config{
		Policy:         policy,
		Vertices:       vertices,
		Period:         time.Duration(argsParsed.PeriodMs) * time.Millisecond,
		SceneTopic:     argsParsed.SceneTopic,
		MapTopic:       argsParsed.MapTopic,
		FilteredTopic:  argsParsed.FilteredTopic,
		CollidingTopic: argsParsed.CollidingTopic,
		DumpObstacles:  argsParsed.DumpObstacles,
		Metrics:        obstaclefilter.NewMetrics(registry),
	}

	var initialScene []byte
	if argsParsed.SceneFile != "" {
		if initialScene, err = loadSceneFile(argsParsed.SceneFile); err != nil {
			return err
		}
	}

	bus, rec, err := openTransport(argsParsed, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, bus.Close())
	}()

	if argsParsed.MetricsAddr != "" {
		stop := serveMetrics(argsParsed.MetricsAddr, registry, logger)
		defer stop()
	}

	return runFilter(ctx, bus, rec, initialScene, cfg, logger)
}

// flagsFirst moves the flags in args ahead of the positional arguments, since utils.ParseFlags
// stops parsing flags at the first positional argument. args[0] is the program name.
func flagsFirst(args []string) []string {
	if len(args) < 2 {
		return args
	}
	boolFlags := boolFlagNames()
	var flags, positional []string
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		arg := rest[i]
		if arg == "--" {
			positional = append(positional, rest[i+1:]...)
			break
		}
		if arg == "-" || !strings.HasPrefix(arg, "-") {
			positional = append(positional, arg)
			continue
		}
		flags = append(flags, arg)
		name := strings.TrimLeft(arg, "-")
		if !strings.Contains(name, "=") && !boolFlags[name] && i+1 < len(rest) {
			i++
			flags = append(flags, rest[i])
		}
	}
	out := append([]string{args[0]}, flags...)
	return append(out, positional...)
}

// boolFlagNames returns the names of the boolean flags of Arguments, which take no separate value.
func boolFlagNames() map[string]bool {
	names := map[string]bool{}
	argsType := reflect.TypeOf(Arguments{})
	for i := 0; i < argsType.NumField(); i++ {
		field := argsType.Field(i)
		if field.Type.Kind() != reflect.Bool {
			continue
		}
		name, _, _ := strings.Cut(field.Tag.Get("flag"), ",")
		names[name] = true
	}
	return names
}

// loadSceneFile reads an octomap .bt file and encodes it as a scene message payload.
func loadSceneFile(path string) ([]byte, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open scene file %q", path)
	}
	defer utils.UncheckedErrorFunc(f.Close)

	tree, err := octomap.ReadBinaryFile(f)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading scene file %q", path)
	}
	msg, err := octomap.ToMessage(tree, ros.Header{Stamp: ros.NewTime(time.Now())})
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// openTransport returns the bus named by the arguments. For a bag, the recording to replay onto
// the bus is returned too.
func openTransport(argsParsed Arguments, cfg obstaclefilter.Config, logger golog.Logger) (transport.Bus, *replay.Recording, error) {
	switch argsParsed.Transport {
	case transportKafka:
		brokers := lo.Compact(lo.Map(strings.Split(argsParsed.Brokers, ","), func(b string, _ int) string {
			return strings.TrimSpace(b)
		}))
		bus, err := kafka.New(kafka.Config{
			Brokers: brokers,
			GroupID: argsParsed.Group,
			Latched: []string{cfg.MapTopic},
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return bus, nil, nil
	case transportBag:
		if argsParsed.Bag == "" {
			return nil, nil, errors.New("--bag is required when the transport is bag")
		}
		rec, err := replay.Load(argsParsed.Bag, cfg.SceneTopic, cfg.MapTopic, logger)
		if err != nil {
			return nil, nil, err
		}
		return inmem.New(), rec, nil
	default:
		return nil, nil, errors.Errorf("unknown transport %q, expected %s or %s", argsParsed.Transport, transportKafka, transportBag)
	}
}

// runFilter runs the filter on bus until ctx is done. A non empty initialScene is handed to the
// filter as its first scene. A non nil rec is replayed onto bus once the filter is subscribed,
// and the maps the filter publishes in return are logged.
func runFilter(
	ctx context.Context,
	bus transport.Bus,
	rec *replay.Recording,
	initialScene []byte,
	cfg obstaclefilter.Config,
	logger golog.Logger,
) (err error) {
	if rec != nil {
		subs, subErr := logOutputs(ctx, bus, cfg, logger)
		if subErr != nil {
			return subErr
		}
		defer func() {
			for _, sub := range subs {
				err = multierr.Combine(err, sub.Unsubscribe())
			}
		}()
	}

	f, err := obstaclefilter.New(ctx, bus, cfg, logger)
	if err != nil {
		return err
	}
	if len(initialScene) > 0 {
		f.HandleScene(initialScene)
	}

	var activeBackgroundWorkers sync.WaitGroup
	defer activeBackgroundWorkers.Wait()
	if rec != nil {
		player := replay.NewPlayer(bus, cfg.Clock, logger)
		activeBackgroundWorkers.Add(1)
		utils.PanicCapturingGo(func() {
			defer activeBackgroundWorkers.Done()
			if err := player.Play(ctx, rec); err != nil {
				if ctx.Err() == nil {
					logger.Errorw("error replaying bag", "error", err)
				}
				return
			}
			logger.Infow("bag replay finished", "events", len(rec.Events))
		})
	}

	utils.ContextMainReadyFunc(ctx)()
	return f.Run(ctx)
}

// logOutputs subscribes to both output topics and logs every map whose size differs from the
// previous one on its topic.
func logOutputs(ctx context.Context, bus transport.Bus, cfg obstaclefilter.Config, logger golog.Logger) ([]transport.Subscription, error) {
	var subs []transport.Subscription
	for _, topic := range []string{cfg.CollidingTopic, cfg.FilteredTopic} {
		topic := topic
		last := -1
		sub, err := bus.Subscribe(ctx, topic, func(payload []byte) {
			m, err := reachability.Unmarshal(payload)
			if err != nil {
				logger.Warnw("error decoding published map", "topic", topic, "error", err)
				return
			}
			if m.Len() == last {
				return
			}
			last = m.Len()
			logger.Infow("map published", "topic", topic, "samples", m.Len())
		})
		if err != nil {
			for _, s := range subs {
				err = multierr.Combine(err, s.Unsubscribe())
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// serveMetrics serves the registry over HTTP until the returned function is called.
func serveMetrics(addr string, registry *prometheus.Registry, logger golog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var activeBackgroundWorkers sync.WaitGroup
	activeBackgroundWorkers.Add(1)
	utils.PanicCapturingGo(func() {
		defer activeBackgroundWorkers.Done()
		logger.Infow("serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("metrics server failed", "error", err)
		}
	})
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("error stopping metrics server", "error", err)
		}
		activeBackgroundWorkers.Wait()
	}
}
