package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mindburn-labs/grace/pkg/adapters"
	"github.com/mindburn-labs/grace/pkg/config"
	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/crypto"
	"github.com/mindburn-labs/grace/pkg/enrichment"
	"github.com/mindburn-labs/grace/pkg/executor"
	"github.com/mindburn-labs/grace/pkg/governance"
	"github.com/mindburn-labs/grace/pkg/handshake"
	"github.com/mindburn-labs/grace/pkg/healthgraph"
	"github.com/mindburn-labs/grace/pkg/identity"
	"github.com/mindburn-labs/grace/pkg/ledger"
	"github.com/mindburn-labs/grace/pkg/memory"
	"github.com/mindburn-labs/grace/pkg/mesh"
	"github.com/mindburn-labs/grace/pkg/meta"
	"github.com/mindburn-labs/grace/pkg/parliament"
	"github.com/mindburn-labs/grace/pkg/planner"
	"github.com/mindburn-labs/grace/pkg/telemetry"
	"github.com/mindburn-labs/grace/pkg/trigger"
)

// Node holds every wired L1-L12 component for one Grace process. It is
// the in-process equivalent of the teacher's subsystems.Services: a
// flat struct of already-constructed, interconnected components,
// assembled once at startup and otherwise just read by cmd/grace.
type Node struct {
	Config *config.Config

	Signer   crypto.Signer
	Ledger   ledger.Ledger
	Identity *identity.Registry
	Mesh     *mesh.Mesh

	Governance *governance.Gate
	Parliament *parliament.Parliament
	Health     *healthgraph.Graph
	Memory     *memory.Broker
	Enrichment *enrichment.Pipeline
	Planner    *planner.Planner
	Executor   *executor.Executor
	Meta       *meta.Coordinator
	Trigger    *trigger.Hub
	Handshake  *handshake.Handshake

	Telemetry *telemetry.Provider

	outcomes *OutcomeTracker
	redis    *redis.Client
	wasm     *executor.WazeroVerifier
	cancel   context.CancelFunc
}

// New wires every component using cfg and Lite Mode's storage fallback:
// an empty DatabaseURL/RedisAddr means in-process stores instead of
// Postgres/Redis, mirroring the teacher's runServer() default-to-SQLite
// behavior so a bare `grace server` with no environment still works.
func New(ctx context.Context, cfg *config.Config) (*Node, error) {
	signer, err := crypto.NewEd25519Signer("grace-node")
	if err != nil {
		return nil, fmt.Errorf("app: mint node signer: %w", err)
	}

	log, err := ledger.OpenSQLiteLedger(ctx, cfg.LedgerPath, signer)
	if err != nil {
		return nil, fmt.Errorf("app: open ledger: %w", err)
	}

	recorder := NewLedgerRecorder(log)
	registry := identity.NewRegistry()
	if _, err := registry.Acquire("grace-node", contracts.EntityComponent, signer, "grace-node"); err != nil {
		return nil, fmt.Errorf("app: acquire node identity: %w", err)
	}

	m := mesh.New(cfg.MeshQueueDepth, MeshLedgerSink{Recorder: recorder})
	meshPub := MeshPublisher{Mesh: m}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	parliamentStore, err := newParliamentStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p := parliament.New(parliamentStore, signer, recorder, m)
	p.RegisterCommittee(parliament.Committee{
		Name:              "operators",
		QuorumRequired:    1,
		ApprovalThreshold: 0.5,
		TallyBasis:        contracts.TallyByCount,
		DefaultExpiry:     15 * time.Minute,
	})

	gate, err := governance.New(p, recorder)
	if err != nil {
		return nil, fmt.Errorf("app: build governance gate: %w", err)
	}

	var blastCache healthgraph.BlastCache
	if redisClient != nil {
		blastCache = healthgraph.NewRedisBlastCache(redisClient, "", time.Hour)
	}
	graph := healthgraph.New(blastCache)

	memStore, err := newMemoryStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var quota memory.QuotaChecker
	if redisClient != nil {
		quota = memory.NewRedisQuota(redisClient, time.Minute, 120)
	} else {
		quota = memory.NewInMemoryQuota(time.Minute, 120)
	}
	trust := NewStaticTrust(0.6)
	broker := memory.New(memStore, quota, gate, trust, recorder, signer)

	pipeline := enrichment.New(graph, broker, trust, recorder, meshPub, 2)

	catalog := planner.NewStaticCatalog(nil)
	eng, err := planner.New(catalog, planner.NoTrialStats{}, planner.NewStaticSchemas(nil), gate, meshPub, "1.0.0")
	if err != nil {
		return nil, fmt.Errorf("app: build planner: %w", err)
	}

	outcomes := NewOutcomeTracker(recorder, 200)
	escalator := NewParliamentEscalator(p)
	wasmVerifier := executor.NewWazeroVerifier(ctx, 0, 2*time.Second)
	adapters, err := buildAdapters(ctx, cfg)
	if err != nil {
		return nil, err
	}
	exec := executor.New(adapters, outcomes, meshPub, escalator, signer, "executor").WithWASMVerifier(wasmVerifier)

	observer := NewLedgerHealthObserver(log, graph)
	advisors := []meta.Advisor{meta.AnomalyScorer{}, meta.RootCauseAdvisor{}, meta.PlaybookRankerAdvisor{}}
	coordinator := meta.New(observer, outcomes, advisors, recorder, meshPub, signer).WithPeriod(cfg.MetaCyclePeriod)

	hub := trigger.New(meshPub, 500)
	hub.Subscribe(m)

	hsStore := handshake.NewInMemoryStore()
	hs := handshake.New(handshake.ParliamentAdapter{P: p}, gate, crypto.DefaultVerifier{}, hsStore, recorder, meshPub)

	telemetryProvider, err := telemetry.New(ctx, telemetry.Config{
		ServiceName:  "grace",
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	return &Node{
		Config:     cfg,
		Signer:     signer,
		Ledger:     log,
		Identity:   registry,
		Mesh:       m,
		Governance: gate,
		Parliament: p,
		Health:     graph,
		Memory:     broker,
		Enrichment: pipeline,
		Planner:    eng,
		Executor:   exec,
		Meta:       coordinator,
		Trigger:    hub,
		Handshake:  hs,
		Telemetry:  telemetryProvider,
		outcomes:   outcomes,
		redis:      redisClient,
		wasm:       wasmVerifier,
	}, nil
}

// Run starts the Mesh router and the Meta Coordinator's cycle loop.
func (n *Node) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	go n.Mesh.Run(ctx)
	n.Meta.Run(ctx)
}

// Shutdown stops intake (the mesh refuses new publishes), stops the
// mesh router and the coordinator, and releases durable resources,
// closing the log last. The router is stopped by cancelling its
// context; events still queued in the mesh at that point are not
// delivered.
func (n *Node) Shutdown(ctx context.Context) error {
	n.Mesh.Shutdown()
	if n.cancel != nil {
		n.cancel()
	}
	n.Meta.Stop()

	if n.wasm != nil {
		_ = n.wasm.Close(ctx)
	}
	if err := n.Telemetry.Shutdown(ctx); err != nil {
		slog.Default().ErrorContext(ctx, "telemetry shutdown", "error", err)
	}
	if n.redis != nil {
		_ = n.redis.Close()
	}
	if closer, ok := n.Ledger.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// buildAdapters wires the reference S3/GCS External Action Adapters
// only when their bucket is configured; an unconfigured node runs with
// no external adapters, so any step targeting "s3.*"/"gcs.*" fails
// closed with adapter-not-found rather than silently no-opping.
func buildAdapters(ctx context.Context, cfg *config.Config) (map[string]executor.Adapter, error) {
	registry := map[string]executor.Adapter{}
	if cfg.S3Bucket != "" {
		s3Adapter, err := adapters.NewS3Adapter(ctx, cfg.S3Bucket)
		if err != nil {
			return nil, fmt.Errorf("app: build s3 adapter: %w", err)
		}
		registry["s3.put_object"] = s3Adapter
		registry["s3.get_object"] = s3Adapter
		registry["s3.delete_object"] = s3Adapter
	}
	if cfg.GCSBucket != "" {
		gcsAdapter, err := adapters.NewGCSAdapter(ctx, cfg.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("app: build gcs adapter: %w", err)
		}
		registry["gcs.put_object"] = gcsAdapter
		registry["gcs.get_object"] = gcsAdapter
	}
	return registry, nil
}

func newParliamentStore(ctx context.Context, cfg *config.Config) (parliament.Store, error) {
	if cfg.DatabaseURL == "" {
		return parliament.NewInMemoryStore(), nil
	}
	store, err := parliament.OpenPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("app: open parliament postgres store: %w", err)
	}
	return store, nil
}

func newMemoryStore(ctx context.Context, cfg *config.Config) (memory.Store, error) {
	if cfg.DatabaseURL == "" {
		return memory.NewInMemoryStore(), nil
	}
	store, err := memory.OpenPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("app: open memory postgres store: %w", err)
	}
	return store, nil
}
