package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	grpcserver "github.com/rty23111-ctrl/agent-identity/internal/grpc/server"
	"github.com/rty23111-ctrl/agent-identity/internal/keys"
	"github.com/rty23111-ctrl/agent-identity/internal/kv"
	"github.com/rty23111-ctrl/agent-identity/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.Reader = strings.NewReader(stdin)
	err := app.Run(append([]string{"identityctl"}, args...))
	return out.String(), err
}

func TestKeygen(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "priv.pem")
	pub := filepath.Join(dir, "pub.pem")

	out, err := run(t, "", "keygen", "--private-key-file", priv, "--public-key-file", pub)
	require.NoError(t, err)
	assert.Contains(t, out, priv)

	resolver, err := keys.NewResolver(keys.Config{PrivateKeyFile: priv, PublicKeyFile: pub})
	require.NoError(t, err)
	_, source, err := resolver.SigningKey("")
	require.NoError(t, err)
	assert.Equal(t, keys.SourceService, source)

	info, err := os.Stat(priv)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestHashAPIKey(t *testing.T) {
	out, err := run(t, "", "hash-api-key", "--key", "s3cret", "--cost", "4")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("s3cret")))
}

func TestSignWebhook_PrintsHeader(t *testing.T) {
	body := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`
	out, err := run(t, body, "sign-webhook", "--secret", "whsec_cli")
	require.NoError(t, err)

	prefix := webhook.SignatureHeader + ": "
	require.True(t, strings.HasPrefix(out, prefix), out)
	header := strings.TrimSpace(strings.TrimPrefix(out, prefix))
	assert.True(t, webhook.NewVerifier("whsec_cli", webhook.DefaultTolerance).Verify([]byte(body), header))
}

func TestSignWebhook_PostsEvent(t *testing.T) {
	body := []byte(`{"id":"evt_2","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1"}}}`)
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, body, 0600))

	verifier := webhook.NewVerifier("whsec_cli", webhook.DefaultTolerance)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ := io.ReadAll(r.Body)
		if !verifier.Verify(got, r.Header.Get(webhook.SignatureHeader)) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	defer srv.Close()

	out, err := run(t, "", "sign-webhook", "--secret", "whsec_cli", "--body-file", path, "--url", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "200 {\"received\":true}\n", out)

	_, err = run(t, "", "sign-webhook", "--secret", "wrong", "--body-file", path, "--url", srv.URL)
	assert.ErrorContains(t, err, "status 401")
}

func TestHealth(t *testing.T) {
	srv, err := grpcserver.NewServer(0, nil, kv.NewMemoryStore())
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()
	defer srv.StopWithTimeout(time.Second)

	require.Eventually(t, srv.Serving, 2*time.Second, 10*time.Millisecond)

	var out bytes.Buffer
	require.NoError(t, checkHealthInsecure(context.Background(), &out, lis.Addr().String()))
	assert.Equal(t, "SERVING\n", out.String())

	raw, err := run(t, "", "health", "--addr", lis.Addr().String(), "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"SERVING"}`, raw)
}

func checkHealthInsecure(ctx context.Context, out io.Writer, addr string) error {
	app := newApp()
	app.Writer = out
	return app.RunContext(ctx, []string{"identityctl", "health", "--addr", addr})
}

func TestGenTLS_MutualHealthCheck(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "", "gen-tls", "--out-dir", dir, "--host", "localhost", "--host", "127.0.0.1", "--client", "monitor", "--days", "1")
	require.NoError(t, err)
	for _, name := range []string{"ca.pem", "ca-key.pem", "server.pem", "server-key.pem", "client.pem", "client-key.pem"} {
		assert.Contains(t, out, filepath.Join(dir, name))
		assert.FileExists(t, filepath.Join(dir, name))
	}

	srv, err := grpcserver.NewServer(0, &grpcserver.TLSConfig{
		Enabled:    true,
		CertFile:   filepath.Join(dir, "server.pem"),
		KeyFile:    filepath.Join(dir, "server-key.pem"),
		CAFile:     filepath.Join(dir, "ca.pem"),
		ClientAuth: "require",
	}, kv.NewMemoryStore())
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()
	defer srv.StopWithTimeout(time.Second)
	require.Eventually(t, srv.Serving, 2*time.Second, 10*time.Millisecond)

	out, err = run(t, "", "health", "--addr", lis.Addr().String(), "--tls",
		"--ca-file", filepath.Join(dir, "ca.pem"),
		"--cert-file", filepath.Join(dir, "client.pem"),
		"--key-file", filepath.Join(dir, "client-key.pem"))
	require.NoError(t, err)
	assert.Equal(t, "SERVING\n", out)

	// without a client certificate the handshake is refused
	_, err = run(t, "", "health", "--addr", lis.Addr().String(), "--tls",
		"--ca-file", filepath.Join(dir, "ca.pem"))
	assert.ErrorContains(t, err, "health check failed")
}
