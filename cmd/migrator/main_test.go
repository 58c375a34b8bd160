package main

import (
	"net"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rflorenc/ipam-migrator/internal/metrics"
	"github.com/rflorenc/ipam-migrator/internal/models"
)

func TestRun_VersionAndUsage(t *testing.T) {
	if code := run([]string{"-version"}); code != exitOK {
		t.Errorf("-version exit = %d, want %d", code, exitOK)
	}
	if code := run([]string{"-no-such-flag"}); code != exitUsage {
		t.Errorf("bad flag exit = %d, want %d", code, exitUsage)
	}
}

func TestStatusServer_DisabledWithoutAddress(t *testing.T) {
	srv, err := statusServer("", models.NewRun(false), metrics.NewCollector())
	if err != nil || srv != nil {
		t.Errorf("statusServer(\"\") = %v, %v; want nil, nil", srv, err)
	}
}

func TestShutdown_LogsTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	})}
	go srv.Serve(ln)
	defer close(release)

	go http.Get("http://" + ln.Addr().String() + "/")
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the handler")
	}

	core, logs := observer.New(zap.WarnLevel)
	shutdown(srv, 10*time.Millisecond, zap.New(core))

	if logs.FilterMessage("Status server shutdown").Len() != 1 {
		t.Fatalf("shutdown error not logged; entries = %v", logs.All())
	}
}
