package driver_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/orrn/printapp/internal/attrs"
	"github.com/orrn/printapp/internal/core"
	"github.com/orrn/printapp/internal/driver"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newJob(t *testing.T, deviceURI string, copies int, content string) *core.Job {
	t.Helper()
	sys := core.NewSystem(core.WithLogger(quietLogger()))
	p, err := sys.CreatePrinter("label", deviceURI)
	if err != nil {
		t.Fatalf("failed to create printer: %v", err)
	}

	a := attrs.New()
	a.Set(attrs.TagOperation, "job-name", "test")
	a.Set(attrs.TagJob, "copies", copies)
	job, err := p.CreateJob(&core.Submission{Attrs: a})
	if err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	f, path, err := job.CreateFile(t.TempDir(), "")
	if err != nil {
		t.Fatalf("failed to create spool file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("failed to write spool file: %v", err)
	}
	f.Close()
	job.AddDocument(path, "application/octet-stream", nil)
	return job
}

func TestProcess_FileDevice(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.prn")
	job := newJob(t, "file://"+out, 2, "HELLO\n")

	d := driver.New(driver.WithLogger(quietLogger()))
	if err := d.Process(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if string(data) != "HELLO\nHELLO\n" {
		t.Errorf("expected two copies, got %q", data)
	}
	if job.CopiesCompleted() != 2 {
		t.Errorf("expected 2 copies completed, got %d", job.CopiesCompleted())
	}
	if job.Message() != "Printed 2 copies" {
		t.Errorf("unexpected message %q", job.Message())
	}
}

func TestProcess_SocketDevice(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			received <- ""
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- string(data)
	}()

	payload := strings.Repeat("x", 200*1024)
	job := newJob(t, "socket://"+ln.Addr().String(), 1, payload)

	d := driver.New(driver.WithLogger(quietLogger()), driver.WithTimeout(2*time.Second))
	if err := d.Process(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case got := <-received:
		if got != payload {
			t.Errorf("expected %d bytes, got %d", len(payload), len(got))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data")
	}
}

func TestProcess_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	job := newJob(t, "socket://"+addr, 1, "data")
	d := driver.New(driver.WithLogger(quietLogger()), driver.WithTimeout(time.Second))
	if err := d.Process(context.Background(), job); !errors.Is(err, driver.ErrConnectionFailed) {
		t.Errorf("expected ErrConnectionFailed, got %v", err)
	}
}

func TestProcess_UnsupportedURI(t *testing.T) {
	job := newJob(t, "usb://printer", 1, "data")
	d := driver.New(driver.WithLogger(quietLogger()))
	if err := d.Process(context.Background(), job); !errors.Is(err, driver.ErrUnsupportedURI) {
		t.Errorf("expected ErrUnsupportedURI, got %v", err)
	}
}

func TestProcess_Canceled(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.prn")
	job := newJob(t, "file://"+out, 1, "data")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := driver.New(driver.WithLogger(quietLogger()))
	if err := d.Process(ctx, job); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if job.CopiesCompleted() != 0 {
		t.Errorf("expected no copies completed, got %d", job.CopiesCompleted())
	}
}

func TestProcess_NoDocuments(t *testing.T) {
	sys := core.NewSystem(core.WithLogger(quietLogger()))
	p, _ := sys.CreatePrinter("label", "file:///dev/null")
	job, err := p.CreateJob(&core.Submission{Attrs: attrs.New()})
	if err != nil {
		t.Fatal(err)
	}

	d := driver.New(driver.WithLogger(quietLogger()))
	if err := d.Process(context.Background(), job); !errors.Is(err, driver.ErrNoDocuments) {
		t.Errorf("expected ErrNoDocuments, got %v", err)
	}
}
