//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"bplog/internal/config"
	"bplog/internal/mqtt"
)

const repoRootRel = ".."   // relative to ./e2e
const mainPkgRel = "./cmd" // main.go lives in cmd/

const mqttPort = nat.Port("1883/tcp")

type health struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	MQTT   string `json:"mqtt"`
}

type reading struct {
	Sys   int    `json:"sys"`
	Dia   int    `json:"dia"`
	Pulse int    `json:"pulse"`
	Raw   string `json:"raw"`
}

func TestSmoke_SQLiteAndMQTT(t *testing.T) {
	repoRoot := repoRootPath(t)
	brokerHost, brokerPort := startBroker(t)

	bin := buildBinary(t, repoRoot)
	addr := pickFreeAddr(t)
	dataDir := t.TempDir()

	cmd := exec.Command(bin)
	cmd.Env = append(os.Environ(),
		"APP_ENV=dev",
		"LOG_LEVEL=info",
		"HTTP_ADDR="+addr,
		"STATIC_DIR="+filepath.Join(repoRoot, "static"),
		"STORE_BACKEND=sqlite",
		"SQLITE_PATH="+filepath.Join(dataDir, "bp.db"),
		"BP_INPUT_TZ=Asia/Shanghai",
		"MQTT_BROKER="+brokerHost,
		"MQTT_PORT="+brokerPort.Port(),
		"MQTT_TOPIC=bplog/e2e",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})

	client := &http.Client{Timeout: 2 * time.Second}
	base := "http://" + addr

	waitFor(t, 10*time.Second, "healthz with mqtt connected", func() bool {
		var h health
		return getJSON(client, base+"/healthz", &h) == nil && h.Status == "ok" && h.MQTT == "connected"
	})

	body := bytes.NewBufferString(`{"line":"130 85 70"}`)
	resp, err := client.Post(base+"/api/v1/readings", "application/json", body)
	if err != nil {
		t.Fatalf("POST /api/v1/readings: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status=%d want=%d", resp.StatusCode, http.StatusCreated)
	}

	publish(t, brokerHost, brokerPort, mqtt.Measurement{Systolic: 121, Diastolic: 79, Pulse: 64, Device: "e2e"})

	var got []reading
	waitFor(t, 10*time.Second, "two stored readings", func() bool {
		got = nil
		return getJSON(client, base+"/api/v1/readings", &got) == nil && len(got) == 2
	})
	if got[0].Sys != 130 || got[0].Raw != "130 85 70" {
		t.Errorf("first reading = %+v", got[0])
	}
	if got[1].Sys != 121 || got[1].Raw != "mqtt device=e2e" {
		t.Errorf("second reading = %+v", got[1])
	}

	resp, err = client.Get(base + "/chart/combined.png")
	if err != nil {
		t.Fatalf("GET chart: %v", err)
	}
	_ = resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); resp.StatusCode != http.StatusOK || ct != "image/png" {
		t.Errorf("chart status=%d content-type=%q", resp.StatusCode, ct)
	}

	stopServer(t, cmd)
}

func startBroker(t *testing.T) (string, nat.Port) {
	t.Helper()
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2",
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		ExposedPorts: []string{string(mqttPort)},
		WaitingFor:   wait.ForListeningPort(mqttPort).WithStartupTimeout(30 * time.Second),
	}

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mosquitto container: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(ctx)
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("broker host: %v", err)
	}
	port, err := c.MappedPort(ctx, mqttPort)
	if err != nil {
		t.Fatalf("broker port: %v", err)
	}
	return host, port
}

func publish(t *testing.T, host string, port nat.Port, m mqtt.Measurement) {
	t.Helper()

	cfg := config.Config{
		MQTTBroker: host,
		MQTTPort:   port.Int(),
		MQTTTopic:  "bplog/e2e",
	}
	pub, err := mqtt.NewPublisher(cfg, "bplog-e2e-"+strconv.Itoa(os.Getpid()))
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pub.Connect(ctx); err != nil {
		t.Fatalf("publisher connect: %v", err)
	}
	defer pub.Close()
	if err := pub.Publish(ctx, m); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func getJSON(client *http.Client, url string, v any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.New(resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func waitFor(t *testing.T, timeout time.Duration, what string, ok func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ok() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("timed out after %s waiting for %s", timeout, what)
}

func repoRootPath(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	repo := filepath.Clean(filepath.Join(wd, repoRootRel))
	if _, err := os.Stat(filepath.Join(repo, "go.mod")); err != nil {
		t.Fatalf("repo root %q does not contain go.mod: %v", repo, err)
	}

	return repo
}

func buildBinary(t *testing.T, repoRoot string) string {
	t.Helper()

	out := filepath.Join(t.TempDir(), "bplog")

	build := exec.Command("go", "build", "-o", out, mainPkgRel)
	build.Dir = repoRoot
	build.Env = os.Environ()

	b, err := build.CombinedOutput()
	if err != nil {
		t.Fatalf("go build failed: %v\n%s", err, string(b))
	}

	return out
}

func pickFreeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen :0: %v", err)
	}
	defer ln.Close()

	return ln.Addr().String()
}

func stopServer(t *testing.T, cmd *exec.Cmd) {
	t.Helper()

	_ = cmd.Process.Signal(syscall.SIGTERM)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		t.Fatalf("server did not exit in time")
	case err := <-done:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				t.Fatalf("server exited non-zero: %v", err)
			}
			t.Fatalf("server wait error: %v", err)
		}
	}
}
