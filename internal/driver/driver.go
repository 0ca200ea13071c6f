// Package driver sends spooled job documents to the printer's device.
//
// Two device URI schemes are supported: "socket://host[:port]" streams raw
// data over TCP (AppSocket, port 9100 by default) and "file:///path" appends
// it to a local file.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/orrn/printapp/internal/core"
)

var (
	ErrUnsupportedURI   = errors.New("driver: unsupported device uri")
	ErrConnectionFailed = errors.New("driver: connection failed")
	ErrNoDocuments      = errors.New("driver: job has no documents")
)

const (
	defaultTCPPort          = 9100
	defaultReadWriteTimeout = 10 * time.Second
	chunkSize               = 64 * 1024
)

// Driver is a core.Processor that copies each document of a job to the
// printer's device, once per requested copy.
type Driver struct {
	timeout time.Duration
	log     *slog.Logger
}

type Option func(*Driver)

// WithTimeout sets the connect and per-write timeout for socket devices.
func WithTimeout(d time.Duration) Option {
	return func(drv *Driver) {
		if d > 0 {
			drv.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(drv *Driver) { drv.log = l }
}

func New(opts ...Option) *Driver {
	d := &Driver{timeout: defaultReadWriteTimeout, log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// device is an open connection to the output.
type device interface {
	io.WriteCloser
	SetWriteDeadline(t time.Time) error
}

func (d *Driver) Process(ctx context.Context, job *core.Job) error {
	docs := job.Documents()
	if len(docs) == 0 {
		return ErrNoDocuments
	}

	uri := job.Printer().DeviceURI()
	dev, err := d.open(ctx, uri)
	if err != nil {
		return err
	}
	defer dev.Close()

	log := d.log.With("printer", job.Printer().Name(), "job_id", job.ID())

	copies := job.Copies()
	if copies < 1 {
		copies = 1
	}

	for c := 1; c <= copies; c++ {
		job.SetMessage("Printing copy %d of %d", c, copies)
		for _, doc := range docs {
			if err := d.send(ctx, job, dev, doc.Filename); err != nil {
				return err
			}
		}
		job.AddCopiesCompleted(1)
		if n := job.Impressions(); n > 0 {
			job.AddImpressionsCompleted(n)
		}
		log.Debug("copy sent", "copy", c, "copies", copies)
	}

	job.SetMessage("Printed %d %s", copies, plural(copies, "copy", "copies"))
	return nil
}

func (d *Driver) open(ctx context.Context, uri string) (device, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedURI, err)
	}

	switch u.Scheme {
	case "socket":
		address := u.Host
		if u.Port() == "" {
			address = net.JoinHostPort(u.Hostname(), fmt.Sprint(defaultTCPPort))
		}
		dialer := net.Dialer{Timeout: d.timeout}
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		return conn, nil
	case "file":
		f, err := os.OpenFile(u.Path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open device file: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedURI, uri)
	}
}

// send streams one spool file to dev, stopping between chunks when the job
// is canceled.
func (d *Driver) send(ctx context.Context, job *core.Job, dev device, filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("open spool file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if job.IsCanceled() {
			return context.Canceled
		}

		n, rerr := f.Read(buf)
		if n > 0 {
			_ = dev.SetWriteDeadline(time.Now().Add(d.timeout))
			if _, err := dev.Write(buf[:n]); err != nil {
				return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("read spool file: %w", rerr)
		}
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
