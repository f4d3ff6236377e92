package bootstrap_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/artpar/choices"
	"github.com/artpar/choices/bootstrap"
	"github.com/artpar/choices/core/pipeline"
	"github.com/artpar/choices/core/route"
	"github.com/rs/zerolog"
)

type serverConfig struct {
	_       struct{} `choices:"rw_lock"`
	Port    uint16   `choices:"min=1024"`
	Name    string
	Verbose bool
}

type featureFlags struct {
	_    struct{} `choices:"path=features,rw_lock"`
	Beta bool
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "choices.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func newApp(t *testing.T, content string) *bootstrap.App {
	t.Helper()
	app, err := bootstrap.NewWithOutput(writeConfig(t, content), io.Discard)
	if err != nil {
		t.Fatalf("NewWithOutput error: %v", err)
	}
	t.Cleanup(func() {
		if app.Holder != nil {
			app.Holder.Stop()
		}
	})
	return app
}

func mount(t *testing.T, app *bootstrap.App, cfg *serverConfig) *choices.Choices[serverConfig] {
	t.Helper()
	c, err := choices.New(cfg, choices.WithLogger(app.Logger), choices.WithMetrics(app.Metrics))
	if err != nil {
		t.Fatalf("choices.New error: %v", err)
	}
	if err := app.Mount(context.Background(), c); err != nil {
		t.Fatalf("Mount error: %v", err)
	}
	return c
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code, rec.Body.String()
}

func TestMount_AppliesConfiguredValues(t *testing.T) {
	app := newApp(t, `
metrics:
  enabled: true
values:
  port: 9000
  name: "edge"
`)
	cfg := &serverConfig{Port: 8080}
	mount(t, app, cfg)

	if cfg.Port != 9000 || cfg.Name != "edge" {
		t.Errorf("cfg = %+v, want port 9000 name edge", *cfg)
	}

	code, body := get(t, app.HTTPServer.Handler, "/config/port")
	if code != http.StatusOK || body != "9000" {
		t.Errorf("GET port = %d %q", code, body)
	}

	code, body = get(t, app.HTTPServer.Handler, "/metrics")
	if code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", code)
	}
	for _, want := range []string{`choices_field_writes_total{field="port",source="reload"} 1`, "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestMount_MetricsDisabledByDefault(t *testing.T) {
	app := newApp(t, "")
	mount(t, app, &serverConfig{Port: 8080})

	if code, _ := get(t, app.HTTPServer.Handler, "/metrics"); code != http.StatusNotFound {
		t.Errorf("GET /metrics = %d, want 404", code)
	}
	if app.HTTPServer.Addr != "127.0.0.1:8080" {
		t.Errorf("Addr = %s", app.HTTPServer.Addr)
	}
}

func TestMount_RejectedValue(t *testing.T) {
	app := newApp(t, "values:\n  port: 80\n")
	c, err := choices.New(&serverConfig{Port: 8080})
	if err != nil {
		t.Fatal(err)
	}

	err = app.Mount(context.Background(), c)
	if !errors.Is(err, pipeline.ErrValidation) {
		t.Fatalf("Mount error = %v, want validation error", err)
	}
}

func TestMount_UnknownValue(t *testing.T) {
	app := newApp(t, "values:\n  colour: blue\n")
	c, err := choices.New(&serverConfig{Port: 8080})
	if err != nil {
		t.Fatal(err)
	}

	err = app.Mount(context.Background(), c)
	if !errors.Is(err, route.ErrUnknownField) {
		t.Fatalf("Mount error = %v, want unknown field", err)
	}
}

func TestMount_RoutesValuesToOwningTarget(t *testing.T) {
	app := newApp(t, "values:\n  port: 2000\n  beta: true\n")

	cfg := &serverConfig{Port: 8080}
	flags := &featureFlags{}
	c1, err := choices.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := choices.New(flags)
	if err != nil {
		t.Fatal(err)
	}
	if err := app.Mount(context.Background(), c1, c2); err != nil {
		t.Fatalf("Mount error: %v", err)
	}

	if cfg.Port != 2000 || !flags.Beta {
		t.Errorf("port = %d beta = %v", cfg.Port, flags.Beta)
	}
	if code, body := get(t, app.HTTPServer.Handler, "/features/beta"); code != http.StatusOK || body != "true" {
		t.Errorf("GET beta = %d %q", code, body)
	}
}

func TestReload_AppliesOnlyChangedValues(t *testing.T) {
	app := newApp(t, "values:\n  port: 9000\n  name: a\n")
	cfg := &serverConfig{}
	c := mount(t, app, cfg)

	// A runtime write to a value the file does not change must survive.
	if err := c.Set(context.Background(), "port", 9100); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	if err := os.WriteFile(app.Holder.Path(), []byte("values:\n  port: 9000\n  name: b\n  verbose: true\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := app.Holder.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	got, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Port != 9100 || got.Name != "b" || !got.Verbose {
		t.Errorf("after reload = %+v, want port 9100 name b verbose", got)
	}
}

func TestReload_RejectedValueKeepsOld(t *testing.T) {
	app := newApp(t, "values:\n  port: 9000\n")
	cfg := &serverConfig{}
	mount(t, app, cfg)

	if err := os.WriteFile(app.Holder.Path(), []byte("values:\n  port: 10\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := app.Holder.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("port = %d, want 9000 kept", cfg.Port)
	}
}

func TestReload_UnlockedTargetKeepsValue(t *testing.T) {
	type plain struct {
		Port uint16
	}
	app := newApp(t, "values:\n  port: 9000\n")
	cfg := &plain{}
	c, err := choices.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := app.Mount(context.Background(), c); err != nil {
		t.Fatalf("Mount error: %v", err)
	}
	if cfg.Port != 9000 {
		t.Fatalf("port = %d, want 9000 applied at startup", cfg.Port)
	}

	if err := os.WriteFile(app.Holder.Path(), []byte("values:\n  port: 9100\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := app.Holder.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("port = %d, unlocked value changed while serving", cfg.Port)
	}
}

func TestNew_FromEnv(t *testing.T) {
	t.Setenv("CHOICES_SERVER_PORT", "9393")

	app, err := bootstrap.NewWithOutput("", io.Discard)
	if err != nil {
		t.Fatalf("NewWithOutput error: %v", err)
	}
	if app.Holder != nil {
		t.Error("Holder set without a config file")
	}
	mount(t, app, &serverConfig{Port: 8080})
	if app.HTTPServer.Addr != "127.0.0.1:9393" {
		t.Errorf("Addr = %s", app.HTTPServer.Addr)
	}
}

func TestRun_BeforeMount(t *testing.T) {
	app := newApp(t, "")
	if err := app.Run(context.Background()); err == nil {
		t.Error("Run before Mount should fail")
	}
}

func TestServeListener_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	c, err := choices.New(&serverConfig{Port: 8080})
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: c.Handler()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- bootstrap.ServeListener(ctx, srv, ln, zerolog.Nop(), 5*time.Second)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/config/port")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "8080" {
		t.Errorf("body = %q, want 8080", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ServeListener error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNewLogger(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.DebugLevel)

	var buf bytes.Buffer
	logger := bootstrap.NewLogger("warn", "json", &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message logged at warn level")
	}
	if !strings.Contains(out, `"message":"shown"`) {
		t.Errorf("output = %q", out)
	}

	buf.Reset()
	logger = bootstrap.NewLogger("bogus", "console", &buf)
	logger.Info().Msg("console line")
	if strings.Contains(buf.String(), "{") || !strings.Contains(buf.String(), "console line") {
		t.Errorf("console output = %q", buf.String())
	}
}
