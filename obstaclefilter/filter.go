// Package obstaclefilter removes the samples of a reachability map that collide with the obstacles
// of an occupancy volume. It listens for occupancy volumes and a reachability map on a transport
// bus and, on a fixed period, republishes the map split into its free and colliding samples.
package obstaclefilter

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/MShields1986/reuleaux/octomap"
	pc "github.com/MShields1986/reuleaux/pointcloud"
	"github.com/MShields1986/reuleaux/reachability"
	"github.com/MShields1986/reuleaux/transport"
)

// Default topics and period.
const (
	DefaultSceneTopic     = "/move_group/monitored_planning_scene"
	DefaultMapTopic       = "/reachability_map"
	DefaultFilteredTopic  = "/reachability_map_filtered"
	DefaultCollidingTopic = "reachability_map_colliding"
	DefaultPeriod         = 100 * time.Millisecond
)

// Config configures a Filter. Zero values select the defaults.
type Config struct {
	Policy   Policy
	Vertices VertexPattern
	Period   time.Duration

	SceneTopic     string
	MapTopic       string
	FilteredTopic  string
	CollidingTopic string

	// DumpObstacles, when set, is the path every new obstacle set is written to as a PCD file.
	DumpObstacles string

	Clock   clock.Clock
	Metrics *Metrics
}

func (cfg *Config) applyDefaults() {
	if cfg.Period == 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.SceneTopic == "" {
		cfg.SceneTopic = DefaultSceneTopic
	}
	if cfg.MapTopic == "" {
		cfg.MapTopic = DefaultMapTopic
	}
	if cfg.FilteredTopic == "" {
		cfg.FilteredTopic = DefaultFilteredTopic
	}
	if cfg.CollidingTopic == "" {
		cfg.CollidingTopic = DefaultCollidingTopic
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
}

// Validate checks a config with defaults applied.
func (cfg *Config) Validate() error {
	switch cfg.Policy {
	case PolicyVoxel, PolicyInscribedSphere, PolicyCircumscribedSphere:
	default:
		return errors.Wrapf(ErrUnknownPolicy, "%d", int(cfg.Policy))
	}
	switch cfg.Vertices {
	case CornerVertices, FullLattice:
	default:
		return errors.Errorf("unknown vertex pattern %d", int(cfg.Vertices))
	}
	if cfg.Period <= 0 {
		return errors.Errorf("period must be positive, got %v", cfg.Period)
	}
	if cfg.SceneTopic == cfg.MapTopic {
		return errors.Errorf("scene and map topics must differ, both are %q", cfg.SceneTopic)
	}
	if cfg.FilteredTopic == cfg.CollidingTopic {
		return errors.Errorf("filtered and colliding topics must differ, both are %q", cfg.FilteredTopic)
	}
	return nil
}

// Filter is the periodic obstacle filter. Bus callbacks only store what they receive; all
// decoding of occupancy volumes, indexing and classification happens on the loop run by Run.
type Filter struct {
	cfg     Config
	bus     transport.Bus
	logger  golog.Logger
	metrics *Metrics

	mu    sync.Mutex
	scene *octomap.Message
	rmap  *reachability.Map
	// mapFrozen lets HandleMap skip decoding once a map is stored.
	mapFrozen atomic.Bool

	sceneSub transport.Subscription
	mapSub   transport.Subscription
}

// cycleState is everything the loop carries from one cycle to the next.
type cycleState struct {
	// sceneReceived is set only for the cycle that took a new scene.
	sceneReceived bool
	mapReceived   bool
	reachMap      *reachability.Map

	// obstacles is nil until a scene was decoded. generation counts decoded scenes.
	obstacles  pc.PointCloud
	generation int

	index           *Index
	indexGeneration int

	mapUnsubscribed bool
}

// New returns a filter subscribed to the scene and map topics of bus.
func New(ctx context.Context, bus transport.Bus, cfg Config, logger golog.Logger) (*Filter, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f := &Filter{
		cfg:     cfg,
		bus:     bus,
		logger:  logger,
		metrics: cfg.Metrics,
	}

	var err error
	f.sceneSub, err = bus.Subscribe(ctx, cfg.SceneTopic, f.HandleScene)
	if err != nil {
		return nil, errors.Wrapf(err, "error subscribing to %s", cfg.SceneTopic)
	}
	f.mapSub, err = bus.Subscribe(ctx, cfg.MapTopic, f.HandleMap)
	if err != nil {
		return nil, multierr.Combine(
			errors.Wrapf(err, "error subscribing to %s", cfg.MapTopic),
			f.sceneSub.Unsubscribe(),
		)
	}
	logger.Infow("obstacle filter ready",
		"policy", cfg.Policy.String(),
		"vertices", cfg.Vertices.String(),
		"period", cfg.Period,
		"scene_topic", cfg.SceneTopic,
		"map_topic", cfg.MapTopic,
	)
	return f, nil
}

// HandleScene stores an occupancy volume message, replacing any volume the loop has not taken
// yet. A message without tree data is not an update and leaves the stored volume alone.
func (f *Filter) HandleScene(payload []byte) {
	var msg octomap.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		f.logger.Warnw("ignoring malformed scene message", "error", err)
		f.metrics.DecodeFailures.Inc()
		return
	}
	if msg.Empty() {
		f.logger.Debug("scene carries no octomap, ignoring")
		return
	}
	f.logger.Info("planning scene received")
	f.mu.Lock()
	f.scene = &msg
	f.mu.Unlock()
}

// HandleMap stores the first valid reachability map. Later maps are ignored.
func (f *Filter) HandleMap(payload []byte) {
	if f.mapFrozen.Load() {
		f.logger.Debug("reachability map already received, ignoring")
		return
	}

	m, err := reachability.Unmarshal(payload)
	if err != nil {
		f.logger.Warnw("ignoring invalid reachability map", "error", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rmap != nil {
		return
	}
	f.rmap = m
	f.mapFrozen.Store(true)
	f.logger.Infow("reachability map received", "spheres", m.Len(), "resolution", m.Resolution)
}

func (f *Filter) takeScene() *octomap.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	scene := f.scene
	f.scene = nil
	return scene
}

func (f *Filter) reachabilityMap() *reachability.Map {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rmap
}

// Run drives the loop until ctx is cancelled, then releases the subscriptions.
func (f *Filter) Run(ctx context.Context) error {
	ticker := f.cfg.Clock.Ticker(f.cfg.Period)
	defer ticker.Stop()

	st := &cycleState{}
	for {
		if !utils.SelectContextOrWaitChan(ctx, ticker.C) {
			f.logger.Info("shutting down obstacle filter")
			return f.release(st)
		}
		f.cycle(ctx, st)
	}
}

func (f *Filter) cycle(ctx context.Context, st *cycleState) {
	f.metrics.Cycles.Inc()

	scene := f.takeScene()
	st.sceneReceived = scene != nil
	if !st.mapReceived {
		if m := f.reachabilityMap(); m != nil {
			st.reachMap = m
			st.mapReceived = true
		}
	}

	if st.sceneReceived {
		f.logger.Info("received new scene")
		f.decodeScene(scene, st)
	} else if !st.mapReceived {
		f.logger.Warn("awaiting reachability map")
	}

	if st.mapReceived && !st.mapUnsubscribed {
		st.mapUnsubscribed = true
		if err := f.mapSub.Unsubscribe(); err != nil {
			f.logger.Warnw("error unsubscribing from map topic", "topic", f.cfg.MapTopic, "error", err)
		} else {
			f.logger.Infow("unsubscribed from map topic", "topic", f.cfg.MapTopic)
		}
	}

	if !st.mapReceived || st.obstacles == nil {
		return
	}

	start := f.cfg.Clock.Now()
	if st.index == nil || st.indexGeneration != st.generation || st.index.Resolution() != st.reachMap.Resolution {
		idx, err := NewIndex(st.obstacles, st.reachMap.Resolution, f.logger)
		if err != nil {
			f.logger.Warnw("error building obstacle index", "error", err)
			return
		}
		st.index = idx
		st.indexGeneration = st.generation
	}

	res := Classify(st.reachMap, st.index, f.cfg.Policy, f.logger)
	f.metrics.FilteredSamples.Set(float64(res.Filtered.Len()))
	f.metrics.CollidingSamples.Set(float64(res.Colliding.Len()))
	elapsed := f.cfg.Clock.Since(start)
	f.metrics.ProcessingSeconds.Observe(elapsed.Seconds())
	f.logger.Infow("time required to process map", "ms", elapsed.Milliseconds())

	if err := f.publish(ctx, res); err != nil {
		f.metrics.PublishFailures.Inc()
		f.logger.Warnw("error publishing filtered maps", "error", err)
	}
}

// decodeScene replaces the obstacle set with the one decoded from scene. A scene that cannot be
// decoded leaves the previous obstacle set in place.
func (f *Filter) decodeScene(scene *octomap.Message, st *cycleState) {
	tree, err := octomap.FromMessage(*scene)
	if err != nil {
		f.metrics.DecodeFailures.Inc()
		f.logger.Warnw("error decoding octomap, keeping previous obstacles", "error", err)
		return
	}
	st.obstacles = ObstacleCloud(tree, f.cfg.Vertices, f.logger)
	st.generation++
	f.metrics.ScenesDecoded.Inc()
	f.metrics.ObstaclePoints.Set(float64(st.obstacles.Size()))
	f.logger.Infow("size of obstacles cloud", "points", st.obstacles.Size())

	if f.cfg.DumpObstacles != "" {
		if err := pc.WriteToPCDFile(st.obstacles, f.cfg.DumpObstacles); err != nil {
			f.logger.Warnw("error writing obstacle cloud", "file", f.cfg.DumpObstacles, "error", err)
		}
	}
}

// publish emits the colliding map and then the filtered map. Both are encoded before either is
// published, and the filtered map is not published when the colliding map could not be.
func (f *Filter) publish(ctx context.Context, res Result) error {
	colliding, err := res.Colliding.Marshal()
	if err != nil {
		return errors.Wrap(err, "error encoding colliding map")
	}
	filtered, err := res.Filtered.Marshal()
	if err != nil {
		return errors.Wrap(err, "error encoding filtered map")
	}
	if err := f.bus.Publish(ctx, f.cfg.CollidingTopic, colliding); err != nil {
		return errors.Wrapf(err, "error publishing to %s", f.cfg.CollidingTopic)
	}
	if err := f.bus.Publish(ctx, f.cfg.FilteredTopic, filtered); err != nil {
		return errors.Wrapf(err, "error publishing to %s", f.cfg.FilteredTopic)
	}
	return nil
}

func (f *Filter) release(st *cycleState) error {
	err := f.sceneSub.Unsubscribe()
	if !st.mapUnsubscribed {
		st.mapUnsubscribed = true
		err = multierr.Combine(err, f.mapSub.Unsubscribe())
	}
	f.mu.Lock()
	f.scene = nil
	f.rmap = nil
	f.mu.Unlock()
	f.mapFrozen.Store(false)
	*st = cycleState{mapUnsubscribed: true}
	return err
}
