package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rty23111-ctrl/agent-identity/internal/apikey"
	"github.com/rty23111-ctrl/agent-identity/internal/clients"
	grpcserver "github.com/rty23111-ctrl/agent-identity/internal/grpc/server"
	grpctls "github.com/rty23111-ctrl/agent-identity/internal/grpc/tls"
	"github.com/rty23111-ctrl/agent-identity/internal/keys"
	"github.com/rty23111-ctrl/agent-identity/internal/kv"
	"github.com/rty23111-ctrl/agent-identity/internal/webhook"
	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

var flagPrivateKeyFile *cli.StringFlag = &cli.StringFlag{
	Name:  "private-key-file",
	Value: "private.pem",
	Usage: "Where to write the PKCS#8 private key",
}
var flagPublicKeyFile *cli.StringFlag = &cli.StringFlag{
	Name:  "public-key-file",
	Value: "public.pem",
	Usage: "Where to write the SPKI public key",
}
var flagKeyBits *cli.IntFlag = &cli.IntFlag{
	Name:  "bits",
	Value: keys.DefaultKeyBits,
	Usage: "RSA modulus size",
}

var flagWebhookSecret *cli.StringFlag = &cli.StringFlag{
	Name:     "secret",
	EnvVars:  []string{"STRIPE_WEBHOOK_SECRET", "PAID_STRIPE_WEBHOOK_SECRET"},
	Usage:    "Webhook signing secret",
	Required: true,
}
var flagBodyFile *cli.StringFlag = &cli.StringFlag{
	Name:  "body-file",
	Value: "-",
	Usage: "Event body to sign, - for stdin",
}
var flagTargetURL *cli.StringFlag = &cli.StringFlag{
	Name:  "url",
	Usage: "When set, POST the signed event to this webhook URL",
}

var flagStorageURL *cli.StringFlag = &cli.StringFlag{
	Name:     "storage-url",
	EnvVars:  []string{"STORAGE_URL", "DATABASE_URL"},
	Usage:    "KV store to migrate (postgres:// or redis://)",
	Required: true,
}
var flagStorageSchema *cli.StringFlag = &cli.StringFlag{
	Name:  "schema",
	Value: "public",
	Usage: "PostgreSQL schema of the KV table",
}

var flagGrpcAddr *cli.StringFlag = &cli.StringFlag{
	Name:  "addr",
	Value: "127.0.0.1:9090",
	Usage: "gRPC address of the server",
}
var flagTLS *cli.BoolFlag = &cli.BoolFlag{
	Name:  "tls",
	Usage: "Connect with TLS",
}
var flagCAFile *cli.StringFlag = &cli.StringFlag{Name: "ca-file", Usage: "CA bundle for the server certificate"}
var flagCertFile *cli.StringFlag = &cli.StringFlag{Name: "cert-file", Usage: "Client certificate for mutual TLS"}
var flagKeyFile *cli.StringFlag = &cli.StringFlag{Name: "key-file", Usage: "Client key for mutual TLS"}
var flagServerName *cli.StringFlag = &cli.StringFlag{Name: "server-name", Usage: "Override the TLS server name"}
var flagJSON *cli.BoolFlag = &cli.BoolFlag{Name: "json", Usage: "Print the raw health response as JSON"}

var flagOutDir *cli.StringFlag = &cli.StringFlag{
	Name:  "out-dir",
	Value: ".",
	Usage: "Directory for the generated PEM files",
}
var flagHosts *cli.StringSliceFlag = &cli.StringSliceFlag{
	Name:  "host",
	Value: cli.NewStringSlice("localhost", "127.0.0.1"),
	Usage: "DNS name or IP the server certificate is valid for",
}
var flagClientName *cli.StringFlag = &cli.StringFlag{
	Name:  "client",
	Usage: "Also issue a client certificate with this common name",
}
var flagValidDays *cli.IntFlag = &cli.IntFlag{
	Name:  "days",
	Value: 365,
	Usage: "Validity of the issued certificates",
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "identityctl",
		Usage: "Operator tooling for the agent identity service",
		Commands: []*cli.Command{
			{
				Name:  "keygen",
				Usage: "Generate an RSA signing key pair",
				Flags: []cli.Flag{flagPrivateKeyFile, flagPublicKeyFile, flagKeyBits},
				Action: func(cCtx *cli.Context) error {
					privatePEM, publicPEM, err := keys.GeneratePEMPair(cCtx.Int(flagKeyBits.Name))
					if err != nil {
						return err
					}
					if err := os.WriteFile(cCtx.String(flagPrivateKeyFile.Name), []byte(privatePEM), 0600); err != nil {
						return err
					}
					if err := os.WriteFile(cCtx.String(flagPublicKeyFile.Name), []byte(publicPEM), 0644); err != nil {
						return err
					}
					fmt.Fprintf(cCtx.App.Writer, "wrote %s and %s\n",
						cCtx.String(flagPrivateKeyFile.Name), cCtx.String(flagPublicKeyFile.Name))
					return nil
				},
			},
			{
				Name:  "hash-api-key",
				Usage: "Print the bcrypt hash of an admin API key for http.admin_api_key_hash",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Required: true},
					&cli.IntFlag{Name: "cost", Value: apikey.DefaultCost},
				},
				Action: func(cCtx *cli.Context) error {
					hash, err := apikey.Hash(cCtx.String("key"), cCtx.Int("cost"))
					if err != nil {
						return err
					}
					fmt.Fprintln(cCtx.App.Writer, hash)
					return nil
				},
			},
			{
				Name:  "sign-webhook",
				Usage: "Sign a payment event the way the provider does",
				Flags: []cli.Flag{flagWebhookSecret, flagBodyFile, flagTargetURL},
				Action: func(cCtx *cli.Context) error {
					body, err := readBody(cCtx.String(flagBodyFile.Name), cCtx.App.Reader)
					if err != nil {
						return err
					}
					header := webhook.SignatureHeaderValue(cCtx.String(flagWebhookSecret.Name), time.Now(), body)

					target := cCtx.String(flagTargetURL.Name)
					if target == "" {
						fmt.Fprintf(cCtx.App.Writer, "%s: %s\n", webhook.SignatureHeader, header)
						return nil
					}
					return postEvent(cCtx.Context, cCtx.App.Writer, target, header, body)
				},
			},
			{
				Name:  "migrate-legacy",
				Usage: "Move bare client keys to the client:<id> key scheme",
				Flags: []cli.Flag{flagStorageURL, flagStorageSchema},
				Action: func(cCtx *cli.Context) error {
					store, err := kv.Open(cCtx.Context, kv.Config{
						URL:    cCtx.String(flagStorageURL.Name),
						Schema: cCtx.String(flagStorageSchema.Name),
					})
					if err != nil {
						return err
					}
					defer store.Close()

					report, err := clients.NewService(store).MigrateLegacy(cCtx.Context)
					if err != nil {
						return err
					}
					out, _ := json.Marshal(report)
					fmt.Fprintln(cCtx.App.Writer, string(out))
					return nil
				},
			},
			{
				Name:  "gen-tls",
				Usage: "Generate a CA and certificates for the gRPC listener",
				Flags: []cli.Flag{flagOutDir, flagHosts, flagClientName, flagValidDays},
				Action: func(cCtx *cli.Context) error {
					validity := time.Duration(cCtx.Int(flagValidDays.Name)) * 24 * time.Hour
					written, err := generateTLS(cCtx.String(flagOutDir.Name), cCtx.StringSlice(flagHosts.Name),
						cCtx.String(flagClientName.Name), validity)
					if err != nil {
						return err
					}
					fmt.Fprintf(cCtx.App.Writer, "wrote %s\n", strings.Join(written, ", "))
					return nil
				},
			},
			{
				Name:  "health",
				Usage: "Query the gRPC health service",
				Flags: []cli.Flag{flagGrpcAddr, flagTLS, flagCAFile, flagCertFile, flagKeyFile, flagServerName, flagJSON},
				Action: func(cCtx *cli.Context) error {
					creds := insecure.NewCredentials()
					if cCtx.Bool(flagTLS.Name) {
						var err error
						creds, err = grpctls.LoadClientCredentials(
							cCtx.String(flagCertFile.Name),
							cCtx.String(flagKeyFile.Name),
							cCtx.String(flagCAFile.Name),
							cCtx.String(flagServerName.Name))
						if err != nil {
							return err
						}
					}
					return checkHealth(cCtx.Context, cCtx.App.Writer, cCtx.String(flagGrpcAddr.Name), creds, cCtx.Bool(flagJSON.Name))
				},
			},
		},
	}
}

type namedPair struct {
	name string
	kp   *grpctls.KeyPair
}

// generateTLS writes ca, server and optionally client PEM pairs into dir
// and returns the written paths.
func generateTLS(dir string, hosts []string, clientName string, validity time.Duration) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	ca, err := grpctls.GenerateCA(validity)
	if err != nil {
		return nil, err
	}
	server, err := ca.IssueServer(hosts, validity)
	if err != nil {
		return nil, err
	}
	pairs := []namedPair{{"ca", ca}, {"server", server}}

	if clientName != "" {
		client, err := ca.IssueClient(clientName, validity)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, namedPair{"client", client})
	}

	var written []string
	for _, p := range pairs {
		certPath := filepath.Join(dir, p.name+".pem")
		keyPath := filepath.Join(dir, p.name+"-key.pem")
		if err := p.kp.WriteFiles(certPath, keyPath); err != nil {
			return nil, err
		}
		written = append(written, certPath, keyPath)
	}
	return written, nil
}

func readBody(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func postEvent(ctx context.Context, out io.Writer, target, header string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.SignatureHeader, header)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	fmt.Fprintf(out, "%d %s\n", resp.StatusCode, strings.TrimSpace(string(respBody)))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected with status %d", resp.StatusCode)
	}
	return nil
}

func checkHealth(ctx context.Context, out io.Writer, addr string, creds credentials.TransportCredentials, asJSON bool) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return fmt.Errorf("failed to create gRPC client: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcserver.ServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if asJSON {
		raw, err := protojson.Marshal(resp)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(raw))
	} else {
		fmt.Fprintln(out, resp.GetStatus().String())
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return cli.Exit("", 1)
	}
	return nil
}
