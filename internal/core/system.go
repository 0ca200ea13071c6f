package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultRetention          = 60 * time.Second
	DefaultCleanupInterval    = 10 * time.Second
	DefaultCancelPollInterval = 250 * time.Millisecond
)

// System owns the printers and the shared job machinery: worker launch,
// cleanup scheduling and event delivery.
type System struct {
	mu       sync.RWMutex
	printers []*Printer

	hostname string
	port     int

	retention       time.Duration
	cleanupInterval time.Duration
	cancelPoll      time.Duration

	cleanMu   sync.Mutex
	cleanTime time.Time

	now       func() time.Time
	log       *slog.Logger
	launcher  Launcher
	processor Processor
	notifiers []Notifier
	history   HistoryRecorder

	ctx      context.Context
	cancel   context.CancelFunc
	// workersMu orders workers.Add against the shutdown flag.
	workersMu sync.Mutex
	workers   sync.WaitGroup
	shutdown  atomic.Bool
}

type Option func(*System)

func WithLogger(l *slog.Logger) Option {
	return func(s *System) { s.log = l }
}

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *System) { s.now = now }
}

func WithRetention(d time.Duration) Option {
	return func(s *System) {
		if d > 0 {
			s.retention = d
		}
	}
}

func WithCleanupInterval(d time.Duration) Option {
	return func(s *System) {
		if d > 0 {
			s.cleanupInterval = d
		}
	}
}

func WithCancelPollInterval(d time.Duration) Option {
	return func(s *System) {
		if d > 0 {
			s.cancelPoll = d
		}
	}
}

func WithLauncher(l Launcher) Option {
	return func(s *System) { s.launcher = l }
}

// WithWorkerLimit caps the number of jobs processed at once across all
// printers. A job that cannot get a worker is aborted.
func WithWorkerLimit(n int) Option {
	return func(s *System) {
		g := &errgroup.Group{}
		if n > 0 {
			g.SetLimit(n)
		}
		s.launcher = g
	}
}

func WithProcessor(p Processor) Option {
	return func(s *System) { s.processor = p }
}

func WithNotifier(n Notifier) Option {
	return func(s *System) {
		if n != nil {
			s.notifiers = append(s.notifiers, n)
		}
	}
}

func WithHistory(h HistoryRecorder) Option {
	return func(s *System) { s.history = h }
}

// WithHost sets the host and port used to build job and printer URIs.
func WithHost(hostname string, port int) Option {
	return func(s *System) {
		s.hostname = hostname
		s.port = port
	}
}

func NewSystem(opts ...Option) *System {
	s := &System{
		hostname:        "localhost",
		port:            8631,
		retention:       DefaultRetention,
		cleanupInterval: DefaultCleanupInterval,
		cancelPoll:      DefaultCancelPollInterval,
		now:             time.Now,
		log:             slog.Default(),
		launcher:        &errgroup.Group{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

func (s *System) printerURI(resource string) string {
	u := url.URL{Scheme: "ipps", Host: s.hostname + ":" + strconv.Itoa(s.port), Path: resource}
	return u.String()
}

// CreatePrinter registers a new printer. Names are unique.
func (s *System) CreatePrinter(name, deviceURI string) (*Printer, error) {
	if name == "" {
		return nil, fmt.Errorf("create printer: empty name: %w", ErrInvalidSubmission)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findPrinterLocked(name) != nil {
		return nil, fmt.Errorf("create printer %q: %w", name, ErrPrinterAlreadyExists)
	}

	p := &Printer{
		system:    s,
		name:      name,
		deviceURI: deviceURI,
		resource:  "/ipp/print/" + url.PathEscape(name),
		startTime: s.now(),
		log:       s.log.With("printer", name),
		nextJobID: 1,
	}
	s.printers = append(s.printers, p)
	sort.Slice(s.printers, func(i, k int) bool { return s.printers[i].name < s.printers[k].name })

	p.log.Info("printer created", "device_uri", deviceURI)
	return p, nil
}

// Printer returns the named printer, or nil. Printers marked for deletion are
// not returned.
func (s *System) Printer(name string) *Printer {
	s.mu.RLock()
	p := s.findPrinterLocked(name)
	s.mu.RUnlock()
	if p == nil || p.IsDeleted() {
		return nil
	}
	return p
}

func (s *System) findPrinterLocked(name string) *Printer {
	i := sort.Search(len(s.printers), func(i int) bool { return s.printers[i].name >= name })
	if i < len(s.printers) && s.printers[i].name == name {
		return s.printers[i]
	}
	return nil
}

// Printers returns the live printers sorted by name.
func (s *System) Printers() []*Printer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Printer, 0, len(s.printers))
	for _, p := range s.printers {
		if !p.IsDeleted() {
			out = append(out, p)
		}
	}
	return out
}

// DeletePrinter marks the printer deleted and cancels its jobs. The printer
// is dropped by the next cleanup once its last job has finished.
func (s *System) DeletePrinter(name string) error {
	p := s.Printer(name)
	if p == nil {
		return fmt.Errorf("delete printer %q: %w", name, ErrPrinterNotFound)
	}

	p.mu.Lock()
	p.isDeleted = true
	p.mu.Unlock()

	p.CancelAllJobs()
	s.armCleanup()
	p.log.Info("printer deleted")
	return nil
}

// armCleanup schedules a cleanup pass one retention window from now, unless
// one is already scheduled.
func (s *System) armCleanup() {
	s.cleanMu.Lock()
	if s.cleanTime.IsZero() {
		s.cleanTime = s.now().Add(s.retention)
	}
	s.cleanMu.Unlock()
}

// cleanupDue reports whether the scheduled cleanup time has passed and, if
// so, clears it.
func (s *System) cleanupDue() bool {
	s.cleanMu.Lock()
	defer s.cleanMu.Unlock()
	if s.cleanTime.IsZero() || s.now().Before(s.cleanTime) {
		return false
	}
	s.cleanTime = time.Time{}
	return true
}

// CleanTime returns the scheduled cleanup time, or the zero time.
func (s *System) CleanTime() time.Time {
	s.cleanMu.Lock()
	defer s.cleanMu.Unlock()
	return s.cleanTime
}

// CleanJobs detaches every completed job older than the retention window from
// its printer and returns them. The caller frees them with DeleteJob.
func (s *System) CleanJobs() []*Job {
	cutoff := s.now().Add(-s.retention)

	var removed []*Job
	s.mu.RLock()
	for _, p := range s.printers {
		removed = append(removed, p.cleanJobs(cutoff)...)
	}
	s.mu.RUnlock()

	if len(removed) > 0 {
		s.log.Debug("cleaned jobs", "count", len(removed))
	}
	return removed
}

func (p *Printer) cleanJobs(cutoff time.Time) []*Job {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, j := range p.completed {
		done := j.TimeCompleted()
		if done.IsZero() || !done.Before(cutoff) {
			break
		}
		n++
	}
	if n == 0 {
		return nil
	}

	removed := cloneJobs(p.completed[:n])
	p.completed = cloneJobs(p.completed[n:])
	for _, j := range removed {
		p.removeFromAllLocked(j)
	}
	return removed
}

// DeleteJob frees a job that has been detached from its printer: the final
// record goes to the history recorder and the spool files are removed.
func (s *System) DeleteJob(j *Job) {
	if j == nil {
		return
	}

	j.mu.Lock()
	snap := j.snapshotLocked()
	docs := j.documents
	j.documents = nil
	j.attrs = nil
	j.data = nil
	j.mu.Unlock()

	log := s.log.With("printer", snap.Printer, "job_id", snap.ID)
	log.Debug("removing job from history")

	for _, d := range docs {
		if d.Filename == "" {
			continue
		}
		if err := os.Remove(d.Filename); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove spool file", "file", d.Filename, "error", err)
		}
	}

	if s.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.history.RecordJob(ctx, snap); err != nil {
			log.Error("failed to record job history", "error", err)
		}
		cancel()
	}

	s.notify(jobEvent(EventJobDeleted, snap))
}

// Sweep runs CleanJobs, detaches every finished job of a deleted printer
// regardless of age, deletes what it removed and drops deleted printers that
// have no jobs left. It returns the number of jobs deleted.
func (s *System) Sweep() int {
	removed := s.CleanJobs()
	removed = append(removed, s.purgeDeletedPrinters()...)
	for _, j := range removed {
		s.DeleteJob(j)
	}

	var dropped []*Printer
	s.mu.Lock()
	kept := s.printers[:0]
	for _, p := range s.printers {
		p.mu.RLock()
		gone := p.isDeleted && p.processingJob == nil && len(p.all) == 0
		p.mu.RUnlock()
		if gone {
			dropped = append(dropped, p)
			continue
		}
		kept = append(kept, p)
	}
	s.printers = kept
	s.mu.Unlock()

	for _, p := range dropped {
		p.log.Info("printer removed")
	}

	if s.hasCompletedJobs() {
		s.armCleanup()
	}
	return len(removed)
}

func (s *System) purgeDeletedPrinters() []*Job {
	var removed []*Job
	s.mu.RLock()
	for _, p := range s.printers {
		p.mu.Lock()
		if p.isDeleted && len(p.completed) > 0 {
			jobs := p.completed
			p.completed = nil
			for _, j := range jobs {
				p.removeFromAllLocked(j)
			}
			removed = append(removed, jobs...)
		}
		p.mu.Unlock()
	}
	s.mu.RUnlock()
	return removed
}

func (s *System) hasCompletedJobs() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.printers {
		p.mu.RLock()
		n := len(p.completed)
		p.mu.RUnlock()
		if n > 0 {
			return true
		}
	}
	return false
}

// Run is the janitor loop. It sweeps whenever the scheduled cleanup time has
// passed and returns when ctx is done.
func (s *System) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.cleanupDue() {
				s.Sweep()
			}
		}
	}
}

func (s *System) isShuttingDown() bool {
	return s.shutdown.Load()
}

// Shutdown stops dispatching new jobs and waits for running workers. If ctx
// expires first, running processors are cancelled and waited for.
func (s *System) Shutdown(ctx context.Context) error {
	s.workersMu.Lock()
	s.shutdown.Store(true)
	s.workersMu.Unlock()
	s.log.Info("shutting down job processing")

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

func (s *System) notify(events ...Event) {
	for _, ev := range events {
		for _, n := range s.notifiers {
			n.Notify(ev)
		}
	}
}
