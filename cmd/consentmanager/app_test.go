package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/spf13/viper"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/config"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/dataflow"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/queue"
)

type nopRepo struct{}

func (nopRepo) Insert(context.Context, dataflow.Record) error { return nil }

func (nopRepo) InsertNotification(context.Context, string, string, []byte) (bool, error) {
	return true, nil
}

func (nopRepo) Get(context.Context, string) (dataflow.Record, error) {
	return dataflow.Record{}, dataflow.ErrNotFound
}

func jwksServer(t *testing.T) *httptest.Server {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: &key.PublicKey, KeyID: "k1", Use: "sig", Algorithm: "RS256"}}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	c, err := config.Load(viper.New(), "")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	c.Identity.JWKSURL = jwksServer(t).URL
	c.Gateway.JWKSURL = jwksServer(t).URL
	c.HTTP.Addr = "127.0.0.1:0"
	return c
}

func stubRepository(t *testing.T) {
	t.Helper()
	orig := openRepository
	openRepository = func(context.Context, config.Config) (dataflow.Repository, func(), error) {
		return nopRepo{}, func() {}, nil
	}
	t.Cleanup(func() { openRepository = orig })
}

func TestNewAppWiresComponents(t *testing.T) {
	stubRepository(t)
	a, err := newApp(context.Background(), testConfig(t), true)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()
	if a.server == nil || a.listener == nil {
		t.Fatal("expected server and listener")
	}
	rr := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/health-information/request", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
}

func TestNewAppFailures(t *testing.T) {
	stubRepository(t)

	c := testConfig(t)
	c.Gateway.JWKSURL = ""
	if _, err := newApp(context.Background(), c, false); err == nil || !strings.Contains(err.Error(), "gateway.jwks_url") {
		t.Fatalf("expected missing gateway jwks error, got %v", err)
	}

	c = testConfig(t)
	c.Cache.Backend = "bogus"
	if _, err := newApp(context.Background(), c, false); err == nil {
		t.Fatal("expected unknown cache backend to fail")
	}

	closed := false
	openRepository = func(context.Context, config.Config) (dataflow.Repository, func(), error) {
		return nopRepo{}, func() { closed = true }, nil
	}
	c = testConfig(t)
	c.Identity.JWKSURL = "http://127.0.0.1:1/certs"
	if _, err := newApp(context.Background(), c, false); err == nil {
		t.Fatal("expected unreachable identity keys to fail")
	}
	if !closed {
		t.Fatal("expected already opened components to be released")
	}
}

func TestOpenQueueWithoutBrokersUsesMemoryBus(t *testing.T) {
	c := testConfig(t)
	c.Kafka.Brokers = nil
	pub, consumerFor, err := openQueue(c)
	if err != nil {
		t.Fatalf("openQueue: %v", err)
	}
	defer pub.Close()
	consumer, err := consumerFor(queue.TopicHIPDataFlowRequest)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	ctx := context.Background()
	if err := pub.Publish(ctx, queue.Message{Topic: queue.TopicHIPDataFlowRequest, Value: []byte("x")}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := consumer.Fetch(ctx)
	if err != nil || string(msg.Value) != "x" {
		t.Fatalf("unexpected fetch %+v %v", msg, err)
	}
}

func TestIdentityEndpoints(t *testing.T) {
	c := testConfig(t)
	c.Identity.URL = "http://idp/auth/realms/cm/"
	c.Identity.JWKSURL = ""
	tokenURL, jwks, _, err := identityEndpoints(context.Background(), c, nil)
	if err != nil {
		t.Fatal(err)
	}
	if tokenURL != "http://idp/auth/realms/cm/protocol/openid-connect/token" || jwks != "http://idp/auth/realms/cm/protocol/openid-connect/certs" {
		t.Fatalf("unexpected endpoints %s %s", tokenURL, jwks)
	}

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 srv.URL,
			"token_endpoint":         srv.URL + "/token",
			"jwks_uri":               srv.URL + "/certs",
			"authorization_endpoint": srv.URL + "/auth",
		})
	}))
	defer srv.Close()
	c.Identity.URL = srv.URL
	c.Identity.Discover = true
	tokenURL, jwks, issuer, err := identityEndpoints(context.Background(), c, srv.Client())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if tokenURL != srv.URL+"/token" || jwks != srv.URL+"/certs" || issuer != srv.URL {
		t.Fatalf("unexpected discovered endpoints %s %s %s", tokenURL, jwks, issuer)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	stubRepository(t)
	cfg = testConfig(t)
	t.Cleanup(func() { cfg = config.Config{} })

	addrs := make(chan string, 1)
	listen := func(addr string) (net.Listener, error) {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			addrs <- ln.Addr().String()
		}
		return ln, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, false, listen) }()

	var addr string
	select {
	case addr = <-addrs:
	case err := <-done:
		t.Fatalf("serve returned early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not start")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestListenRequiresBrokers(t *testing.T) {
	cfg = config.Config{}
	if err := listen(context.Background()); err == nil {
		t.Fatal("expected error without brokers")
	}
}
