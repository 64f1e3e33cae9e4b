package cache

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestLoadRedisTLSConfigOptions(t *testing.T) {
	cases := []struct {
		name    string
		cfg     RedisConfig
		wantErr bool
		check   func(t *testing.T, tc *tls.Config)
	}{
		{
			name: "plain connection",
			cfg:  RedisConfig{Addr: "replay-ledger:6379"},
			check: func(t *testing.T, tc *tls.Config) {
				if tc != nil {
					t.Fatalf("expected no tls config, got %+v", tc)
				}
			},
		},
		{
			name: "server name pinned",
			cfg:  RedisConfig{TLS: true, TLSServerName: "cache.consent-manager.internal"},
			check: func(t *testing.T, tc *tls.Config) {
				if tc.ServerName != "cache.consent-manager.internal" || tc.MinVersion != tls.VersionTLS12 {
					t.Fatalf("unexpected tls config %+v", tc)
				}
			},
		},
		{name: "insecure without opt-in", cfg: RedisConfig{TLS: true, TLSInsecure: true}, wantErr: true},
		{
			name: "insecure with opt-in",
			cfg:  RedisConfig{TLS: true, TLSInsecure: true, AllowInsecureTLS: true},
			check: func(t *testing.T, tc *tls.Config) {
				if !tc.InsecureSkipVerify {
					t.Fatal("expected verification to be skipped")
				}
			},
		},
		{name: "cert without key", cfg: RedisConfig{TLS: true, TLSCertFile: "/etc/cm/redis.pem"}, wantErr: true},
		{name: "missing ca file", cfg: RedisConfig{TLS: true, TLSCACertFile: filepath.Join(t.TempDir(), "absent.pem")}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := loadRedisTLSConfig(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tc.check(t, got)
		})
	}
}

func TestLoadRedisTLSConfigCAAndMTLS(t *testing.T) {
	tmp := t.TempDir()
	certPEM, keyPEM := mustCreateSelfSignedPEM(t)
	caPath := filepath.Join(tmp, "ca.pem")
	certPath := filepath.Join(tmp, "client.pem")
	keyPath := filepath.Join(tmp, "client-key.pem")
	for path, data := range map[string][]byte{caPath: certPEM, certPath: certPEM, keyPath: keyPEM} {
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	cfg, err := loadRedisTLSConfig(RedisConfig{
		TLS:           true,
		TLSCACertFile: caPath,
		TLSCertFile:   certPath,
		TLSKeyFile:    keyPath,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Fatal("expected RootCAs to be populated")
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected one certificate, got %d", len(cfg.Certificates))
	}
}

func TestNewRedisClientBacksReplayLedger(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	client, err := NewRedisClient(ctx, RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	c, err := New(ctx, Config{Backend: BackendRedis, TTL: time.Minute}, client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if stored, err := c.PutIfAbsent(ctx, "replay_req-1", "2020-01-15T10:00:00Z"); err != nil || !stored {
		t.Fatalf("first put: stored=%v err=%v", stored, err)
	}
	if stored, _ := c.PutIfAbsent(ctx, "replay_req-1", "2020-01-15T10:00:05Z"); stored {
		t.Fatal("second put must not overwrite the ledger entry")
	}
	if ttl := mr.TTL("replay_req-1"); ttl != time.Minute {
		t.Fatalf("expected ledger ttl of 1m, got %v", ttl)
	}

	if _, err := NewRedisClient(context.Background(), RedisConfig{Addr: mr.Addr(), RequireTLS: true}); err == nil {
		t.Fatal("expected require_tls without tls to fail")
	}
	if _, err := NewRedisClient(context.Background(), RedisConfig{Addr: "127.0.0.1:1", PingTimeout: 20 * time.Millisecond}); err == nil {
		t.Fatal("expected unreachable redis to fail")
	}
}

func mustCreateSelfSignedPEM(t *testing.T) ([]byte, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "redis-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	cert := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	priv := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return cert, priv
}
