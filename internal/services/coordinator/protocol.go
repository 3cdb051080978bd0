package coordinator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/metrics"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/messages"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/pkg/dedup"
)

const (
	activityPush   = "push"
	activityPoll   = "poll"
	activityReport = "report"
)

type Config struct {
	PushInterval time.Duration
	PollInterval time.Duration
	CallTimeout  time.Duration
	DedupTTL     time.Duration
	DedupMax     int
	ReportQueue  int
}

func DefaultConfig() Config {
	return Config{
		PushInterval: 5 * time.Minute,
		PollInterval: 10 * time.Second,
		CallTimeout:  5 * time.Second,
		DedupTTL:     10 * time.Minute,
		DedupMax:     1024,
		ReportQueue:  64,
	}
}

// Rejected is a polled command that could not be decoded. It is reported
// FAILED without reaching the scheduler.
type Rejected struct {
	ID     entities.CommandID
	Reason string
}

// Inbound is what the coordinator delivered since the previous Collect.
type Inbound struct {
	Commands []entities.Command
	Rejected []Rejected
	Schedule []messages.ScheduleEntry
}

func (in Inbound) Empty() bool {
	return len(in.Commands) == 0 && len(in.Rejected) == 0 && len(in.Schedule) == 0
}

type result struct {
	activity string
	at       time.Time
	latency  time.Duration
	err      error
	push     messages.PushResponse
	poll     messages.CommandPoll
}

type report struct {
	id   entities.CommandID
	body messages.CommandStatusReport
}

// Protocol runs push and poll off the control loop. Collect and Dispatch must be
// called from the same goroutine; at most one call per activity is in flight.
type Protocol struct {
	cfg  Config
	tr   Transport
	flag entities.FlagOwner
	seen *dedup.Deduper

	results chan result
	reports chan report
	wg      sync.WaitGroup

	reportMu      sync.Mutex
	reportsClosed bool

	nextPush, nextPoll time.Time
	pushBusy, pollBusy bool
	pushDown, pollDown bool
	lastPush, lastPoll time.Time
	started            bool
}

func New(cfg Config, tr Transport, flag entities.FlagOwner) *Protocol {
	def := DefaultConfig()
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = def.PushInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = def.DedupTTL
	}
	if cfg.DedupMax <= 0 {
		cfg.DedupMax = def.DedupMax
	}
	if cfg.ReportQueue <= 0 {
		cfg.ReportQueue = def.ReportQueue
	}
	return &Protocol{
		cfg:     cfg,
		tr:      tr,
		flag:    flag,
		seen:    dedup.New(cfg.DedupTTL, cfg.DedupMax),
		results: make(chan result, 2),
		reports: make(chan report, cfg.ReportQueue),
	}
}

// Start launches the status reporter. It stops when ctx is done.
func (p *Protocol) Start(ctx context.Context) {
	if p.started {
		return
	}
	p.started = true
	go p.reporter(ctx)
}

// Wait blocks until in-flight calls and queued reports are done.
func (p *Protocol) Wait() { p.wg.Wait() }

func (p *Protocol) LastPush() time.Time { return p.lastPush }
func (p *Protocol) LastPoll() time.Time { return p.lastPoll }

// Collect drains completed calls without blocking.
func (p *Protocol) Collect(now time.Time) Inbound {
	var in Inbound
	for {
		select {
		case r := <-p.results:
			p.handle(r, &in)
		default:
			p.flag.Update(entities.FlagTransport, p.pushDown || p.pollDown)
			return in
		}
	}
}

// Dispatch starts the activities that are due. body is only called when a push
// is actually launched, so it runs on the caller's goroutine.
func (p *Protocol) Dispatch(ctx context.Context, now time.Time, body func() messages.TelemetryPush) {
	if !now.Before(p.nextPush) {
		p.nextPush = now.Add(p.cfg.PushInterval)
		if p.pushBusy {
			log.Printf("coordinator: push still in flight, skipping slot")
			metrics.ObserveSync(activityPush, metrics.ResultSkipped, 0)
		} else {
			p.pushBusy = true
			msg := body()
			p.launch(ctx, activityPush, func(c context.Context, r *result) {
				r.push, r.err = p.tr.PushTelemetry(c, msg)
			})
		}
	}
	if !now.Before(p.nextPoll) {
		p.nextPoll = now.Add(p.cfg.PollInterval)
		if p.pollBusy {
			log.Printf("coordinator: poll still in flight, skipping slot")
			metrics.ObserveSync(activityPoll, metrics.ResultSkipped, 0)
		} else {
			p.pollBusy = true
			p.launch(ctx, activityPoll, func(c context.Context, r *result) {
				r.poll, r.err = p.tr.PollCommands(c)
			})
		}
	}
}

func (p *Protocol) launch(ctx context.Context, activity string, call func(context.Context, *result)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		c, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()
		start := time.Now()
		r := result{activity: activity}
		call(c, &r)
		r.at = time.Now()
		r.latency = r.at.Sub(start)
		// buffer 2, una chiamata per attività: non blocca mai
		p.results <- r
	}()
}

func (p *Protocol) handle(r result, in *Inbound) {
	down := r.err != nil && errors.Is(r.err, ErrTransport)
	switch r.activity {
	case activityPush:
		p.pushBusy, p.pushDown = false, down
	case activityPoll:
		p.pollBusy, p.pollDown = false, down
	}

	if r.err != nil {
		res := metrics.ResultError
		if errors.Is(r.err, context.DeadlineExceeded) {
			res = metrics.ResultTimeout
		}
		metrics.ObserveSync(r.activity, res, r.latency)
		log.Printf("coordinator: %s failed: %v", r.activity, r.err)
		return
	}
	metrics.ObserveSync(r.activity, metrics.ResultSuccess, r.latency)

	switch r.activity {
	case activityPush:
		p.lastPush = r.at
		in.Schedule = append(in.Schedule, r.push.Entries()...)
	case activityPoll:
		p.lastPoll = r.at
		for _, raw := range r.poll.Commands {
			cmd, err := DecodeCommand(raw)
			if err != nil {
				if cmd.ID == "" {
					log.Printf("coordinator: dropping command without id: %v", err)
					continue
				}
				if p.seen.ShouldProcess(string(cmd.ID)) {
					in.Rejected = append(in.Rejected, Rejected{ID: cmd.ID, Reason: err.Error()})
				}
				continue
			}
			if !p.seen.ShouldProcess(string(cmd.ID)) {
				log.Printf("coordinator: command %s already handled, skipping", cmd.ID)
				continue
			}
			in.Commands = append(in.Commands, cmd)
		}
	}
}

// Report queues a status report. Reports are sent at most once; a full queue
// or a failed call drops the report.
func (p *Protocol) Report(id entities.CommandID, status entities.CommandStatus, errMsg string) {
	p.reportMu.Lock()
	defer p.reportMu.Unlock()
	if p.reportsClosed {
		log.Printf("coordinator: reporter stopped, dropping %s %s", id, status.Wire())
		return
	}
	p.wg.Add(1)
	select {
	case p.reports <- report{id: id, body: messages.CommandStatusReport{Status: status.Wire(), ErrorMessage: errMsg}}:
	default:
		p.wg.Done()
		log.Printf("coordinator: report queue full, dropping %s %s", id, status.Wire())
		metrics.ObserveSync(activityReport, metrics.ResultSkipped, 0)
	}
}

func (p *Protocol) reporter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// svuota la coda senza inviare; i Report successivi vengono scartati
			p.reportMu.Lock()
			defer p.reportMu.Unlock()
			p.reportsClosed = true
			for {
				select {
				case <-p.reports:
					p.wg.Done()
				default:
					return
				}
			}
		case r := <-p.reports:
			c, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
			start := time.Now()
			err := p.tr.ReportStatus(c, r.id, r.body)
			cancel()
			if err != nil {
				metrics.ObserveSync(activityReport, metrics.ResultError, time.Since(start))
				log.Printf("coordinator: report %s %s failed: %v", r.id, r.body.Status, err)
			} else {
				metrics.ObserveSync(activityReport, metrics.ResultSuccess, time.Since(start))
			}
			p.wg.Done()
		}
	}
}
