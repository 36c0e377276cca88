// Package progress reports the throughput of long running jobs.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const minReportInterval = time.Second / 60

// Progress accumulates Stat reports and hands the running total to OnUpdate
// on every tick and, rate limited, on every report.
type Progress struct {
	OnStart  func()
	OnUpdate Func
	OnDone   Func
	funcMu   sync.Mutex

	mu         sync.Mutex
	current    Stat
	startTime  time.Time
	lastUpdate time.Time
	ticker     *time.Ticker
	cancel     chan struct{}
	once       sync.Once
	interval   time.Duration
	running    bool
}

// Stat is a snapshot of the work done so far.
type Stat struct {
	Bytes  uint64
	Errors uint64
	Phase  string
}

// Func receives the accumulated Stat. ticker is true for periodic calls.
type Func func(s Stat, elapsed time.Duration, ticker bool)

// New returns a Progress that ticks every d.
func New(d time.Duration) *Progress {
	return &Progress{interval: d}
}

// Start resets and runs the reporter.
func (p *Progress) Start() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.once = sync.Once{}
	p.cancel = make(chan struct{})
	p.running = true
	p.current = Stat{}
	p.startTime = time.Now()
	p.ticker = time.NewTicker(p.interval)
	p.mu.Unlock()

	if p.OnStart != nil {
		p.OnStart()
	}
	go p.reporter()
}

func (p *Progress) update(s Stat, ticker bool) {
	if p.OnUpdate == nil {
		return
	}
	p.funcMu.Lock()
	p.OnUpdate(s, time.Since(p.startTime), ticker)
	p.funcMu.Unlock()
}

func (p *Progress) reporter() {
	for {
		select {
		case <-p.ticker.C:
			p.update(p.Current(), true)
		case <-p.cancel:
			p.ticker.Stop()
			return
		}
	}
}

// Report adds s to the running total. A non-empty Phase replaces the current one.
func (p *Progress) Report(s Stat) {
	if p == nil {
		return
	}
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.current.Add(s)
	current := p.current
	needUpdate := false
	if time.Since(p.lastUpdate) > minReportInterval {
		p.lastUpdate = time.Now()
		needUpdate = true
	}
	p.mu.Unlock()

	if needUpdate {
		p.update(current, false)
	}
}

// Current returns the running total.
func (p *Progress) Current() Stat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Done stops the reporter and calls OnDone with the final total.
func (p *Progress) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cur := p.current
	p.mu.Unlock()

	p.once.Do(func() {
		close(p.cancel)
	})
	if p.OnDone != nil {
		p.funcMu.Lock()
		p.OnDone(cur, time.Since(p.startTime), false)
		p.funcMu.Unlock()
	}
}

// Add accumulates other into s.
func (s *Stat) Add(other Stat) {
	s.Bytes += other.Bytes
	s.Errors += other.Errors
	if other.Phase != "" {
		s.Phase = other.Phase
	}
}

func (s Stat) String() string {
	phase := s.Phase
	if phase == "" {
		phase = "idle"
	}
	return fmt.Sprintf("Stat(%s, %s, %d errors)", phase, humanize.IBytes(s.Bytes), s.Errors)
}

// Writer counts bytes written through it into a Progress.
type Writer struct {
	w io.Writer
	p *Progress
}

// NewWriter wraps w.
func NewWriter(w io.Writer, p *Progress) *Writer {
	return &Writer{w: w, p: p}
}

func (pw *Writer) Write(buf []byte) (int, error) {
	n, err := pw.w.Write(buf)
	if n > 0 {
		pw.p.Report(Stat{Bytes: uint64(n)})
	}
	return n, err
}

// Reader counts bytes read through it into a Progress.
type Reader struct {
	r io.Reader
	p *Progress
}

// NewReader wraps r.
func NewReader(r io.Reader, p *Progress) *Reader {
	return &Reader{r: r, p: p}
}

func (pr *Reader) Read(buf []byte) (int, error) {
	n, err := pr.r.Read(buf)
	if n > 0 {
		pr.p.Report(Stat{Bytes: uint64(n)})
	}
	return n, err
}
