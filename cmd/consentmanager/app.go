package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/api"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/auth"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/cache"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/config"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/consent"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/dataflow"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/identity"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/metrics"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/queue"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/replay"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/scheduler"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/store"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/telemetry"
)

var (
	openRepository = func(ctx context.Context, cfg config.Config) (dataflow.Repository, func(), error) {
		pool, err := store.NewPostgresPool(ctx, cfg.PostgresConfig())
		if err != nil {
			return nil, nil, err
		}
		return dataflow.NewPostgresRepository(pool), pool.Close, nil
	}
	openRedis = func(ctx context.Context, cfg config.Config) (*redis.Client, error) {
		return cache.NewRedisClient(ctx, cfg.RedisConfig())
	}
)

// app holds every long-lived component. close releases them in reverse
// order of construction.
type app struct {
	cfg      config.Config
	metrics  *metrics.Registry
	server   *api.Server
	listener *dataflow.Listener
	closers  []func()
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newApp wires the service. The HTTP surface is always built; the listener
// only when withListener is set.
func newApp(ctx context.Context, cfg config.Config, withListener bool) (_ *app, err error) {
	a := &app{cfg: cfg, metrics: metrics.NewRegistry()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()
	httpClient := telemetry.InstrumentClient(&http.Client{Timeout: cfg.HTTP.ClientTimeout})

	var rc *redis.Client
	if strings.EqualFold(strings.TrimSpace(cfg.Cache.Backend), cache.BackendRedis) {
		if rc, err = openRedis(ctx, cfg); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.onClose(func() { _ = rc.Close() })
	}
	c, err := cache.New(ctx, cfg.CacheConfig(), rc)
	if err != nil {
		return nil, err
	}

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.onClose(closeRepo)

	pub, consumerFor, err := openQueue(cfg)
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = pub.Close() })

	tokenURL, userJWKS, issuer, err := identityEndpoints(ctx, cfg, httpClient)
	if err != nil {
		return nil, err
	}
	if cfg.Gateway.JWKSURL == "" {
		return nil, errors.New("gateway.jwks_url is required")
	}
	userKeys, err := auth.LoadJWKS(ctx, userJWKS, httpClient)
	if err != nil {
		return nil, fmt.Errorf("identity keys: %w", err)
	}
	gatewayKeys, err := auth.LoadJWKS(ctx, cfg.Gateway.JWKSURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("gateway keys: %w", err)
	}

	cmToken := identity.NewTokenAuthority(c, identity.KeyIdentityProvider,
		identity.NewClientCredentials(tokenURL, cfg.Identity.ClientID, cfg.Identity.ClientSecret, httpClient), a.metrics)
	gatewayToken := identity.NewTokenAuthority(c, identity.KeyGateway,
		identity.NewGatewaySessions(cfg.Gateway.URL, cfg.Gateway.ClientID, cfg.Gateway.ClientSecret, httpClient), a.metrics)
	gateway := dataflow.NewGatewayClient(cfg.Gateway.URL, httpClient, gatewayToken)

	blacklist := auth.NewBlacklist(c)
	userOpts := []auth.VerifierOption{auth.WithBlacklist(blacklist), auth.WithMetrics(a.metrics)}
	if issuer != "" {
		userOpts = append(userOpts, auth.WithIssuer(issuer))
	}

	orchestrator := dataflow.New(dataflow.Deps{
		Artefacts:   consent.NewClient(cfg.Consent.URL, httpClient, cmToken).WithRetries(cfg.Consent.Retries, cfg.Consent.RetryDelay),
		Repository:  repo,
		Broadcaster: dataflow.NewBroadcaster(pub, a.metrics),
		Gateway:     gateway,
		Acks:        c,
		Metrics:     a.metrics,
		AckOptions:  []scheduler.Option{scheduler.WithBackoff(cfg.DataFlow.AckFloor, cfg.DataFlow.AckCeiling)},
	})

	a.server = api.New(api.Deps{
		Users:       auth.NewUserVerifier(userKeys, userOpts...),
		Gateway:     auth.NewServiceVerifier(gatewayKeys, auth.WithMetrics(a.metrics)),
		Replay:      replay.New(c, replay.WithWindow(cfg.Replay.Past, cfg.Replay.Future), replay.WithMetrics(a.metrics)),
		Blacklist:   blacklist,
		DataFlow:    orchestrator,
		Metrics:     a.metrics,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		ServiceName: cfg.Telemetry.ServiceName,
		AckTimeout:  cfg.DataFlow.AckTimeout,
	})

	if withListener {
		consumer, err := consumerFor(queue.TopicHIPDataFlowRequest)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = consumer.Close() })
		a.listener = dataflow.NewListener(consumer, pub, gateway, repo, a.metrics)
	}
	return a, nil
}

type consumerFactory func(topic string) (queue.Consumer, error)

// openQueue returns Kafka clients when brokers are configured and an
// in-process bus otherwise. The bus only reaches a listener in the same
// process.
func openQueue(cfg config.Config) (queue.Publisher, consumerFactory, error) {
	kc := cfg.KafkaConfig()
	if len(kc.Brokers) == 0 {
		log.Warn().Msg("no kafka brokers configured, using the in-process queue")
		bus := queue.NewMemoryBus(0, kc.Topics...)
		return bus, bus.Consumer, nil
	}
	pub, err := queue.NewKafkaPublisher(kc)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka publisher: %w", err)
	}
	return pub, func(topic string) (queue.Consumer, error) {
		return queue.NewKafkaConsumer(kc, topic)
	}, nil
}

// identityEndpoints resolves the token endpoint, the JWKS location and the
// expected issuer of the identity provider.
func identityEndpoints(ctx context.Context, cfg config.Config, client *http.Client) (tokenURL, jwksURL, issuer string, err error) {
	id := cfg.Identity
	if id.Discover {
		ep, err := identity.Discover(ctx, id.URL, client)
		if err != nil {
			return "", "", "", err
		}
		jwksURL = ep.JWKSURL
		if id.JWKSURL != "" {
			jwksURL = id.JWKSURL
		}
		issuer = ep.Issuer
		if id.Issuer != "" {
			issuer = id.Issuer
		}
		return ep.TokenURL, jwksURL, issuer, nil
	}
	jwksURL = id.JWKSURL
	if jwksURL == "" {
		jwksURL = strings.TrimRight(id.URL, "/") + "/protocol/openid-connect/certs"
	}
	return identity.TokenURL(id.URL), jwksURL, id.Issuer, nil
}
