package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"backoffice.dev/internal/probe"
	"backoffice.dev/internal/servicetrust"
)

func main() {
	var (
		baseURL  = flag.String("base-url", "http://localhost:8080", "API base URL")
		grpcAddr = flag.String("grpc-addr", "localhost:9090", "gRPC health address")
		email    = flag.String("email", os.Getenv("BACKOFFICE_ADMIN_EMAIL"), "Admin email")
		password = flag.String("password", os.Getenv("BACKOFFICE_ADMIN_PASSWORD"), "Admin password")
		secret   = flag.String("secret", os.Getenv("BACKOFFICE_SERVICE_SECRET"), "Shared service secret")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := run(ctx, *baseURL, *grpcAddr, *email, *password, *secret); err != nil {
		fmt.Fprintf(os.Stderr, "smoke test failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("backoffice smoke test passed")
}

func run(ctx context.Context, baseURL, grpcAddr, email, password, secret string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	signer, err := servicetrust.NewSigner(secret)
	if err != nil {
		return err
	}

	token, err := login(ctx, client, baseURL, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := expect(ctx, client, baseURL+"/api/logued", http.StatusOK, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}); err != nil {
		return fmt.Errorf("logued: %w", err)
	}
	if err := expect(ctx, client, baseURL+"/api/logued", http.StatusUnauthorized, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token+"x")
	}); err != nil {
		return fmt.Errorf("tampered token: %w", err)
	}

	checkEmail := baseURL + "/api/users/check-email/" + url.PathEscape(email)
	if err := expect(ctx, client, checkEmail, http.StatusOK, signer.Apply); err != nil {
		return fmt.Errorf("signed check-email: %w", err)
	}
	if err := expect(ctx, client, checkEmail, http.StatusUnauthorized, nil); err != nil {
		return fmt.Errorf("unsigned check-email: %w", err)
	}

	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial grpc: %w", err)
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: probe.ServiceName})
	if err != nil {
		return fmt.Errorf("grpc health: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpc health: %s", resp.GetStatus())
	}
	return nil
}

func login(ctx context.Context, client *http.Client, baseURL, email, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %s", resp.Status)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("empty token returned")
	}
	return out.Token, nil
}

func expect(ctx context.Context, client *http.Client, target string, want int, prepare func(*http.Request)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if prepare != nil {
		prepare(req)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != want {
		return fmt.Errorf("expected %d, got %d", want, resp.StatusCode)
	}
	return nil
}
