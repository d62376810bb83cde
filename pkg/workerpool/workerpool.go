// Package workerpool implements function registration, per-function
// fan-out, and supervision. Lightweight tasks stand in for OS processes
// as long as the isolation contract holds, so fan-out here is
// goroutine-based: one goroutine per (worker instance, configured
// server) pair, a sync.WaitGroup the supervisor waits on, and no shared
// mutable state between instances beyond the registered, immutable
// function descriptor.
package workerpool

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nuulab/gjs/internal/codec"
	"github.com/nuulab/gjs/internal/gearmanproto"
	"github.com/nuulab/gjs/internal/gjserr"
	"github.com/nuulab/gjs/internal/identity"
	"github.com/nuulab/gjs/pkg/function"
	"github.com/nuulab/gjs/pkg/gjslog"
	"github.com/nuulab/gjs/pkg/jobrunner"
	"github.com/nuulab/gjs/pkg/progress"
	"github.com/nuulab/gjs/pkg/statuscache"
)

// DefaultCap is the pool-wide instance cap.
const DefaultCap = 48

// respawnBackoff bounds how quickly a failed server loop is retried: no
// cascading restart storm, no exponential backoff machinery either.
const respawnBackoff = time.Second

// Config configures a Pool.
type Config struct {
	Servers     []string
	DialTimeout time.Duration

	LogDir   string
	Notifier jobrunner.Options // reused wholesale: LogDir/Notifier/Host
	Cache    *statuscache.Cache

	// Cap bounds the total number of worker instances this pool will
	// run concurrently, across every registered function. Zero means
	// DefaultCap.
	Cap int

	// Logger receives the fatal, loop-terminating errors a server
	// connection loop hits (registration failure, protocol error while
	// dequeuing). Nil uses gjslog.NewConsoleLogger().
	Logger *zerolog.Logger
}

type registration struct {
	descriptor function.Descriptor
	instances  int
}

// Pool registers functions and fans them out across goroutine-based
// worker instances.
type Pool struct {
	cfg    Config
	logger zerolog.Logger

	mu            sync.Mutex
	registrations []registration
	used          int
}

// New creates an empty Pool.
func New(cfg Config) *Pool {
	if cfg.Cap == 0 {
		cfg.Cap = DefaultCap
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	logger := gjslog.NewConsoleLogger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Pool{cfg: cfg, logger: logger}
}

// Register adds a function to the pool with the given number of worker
// instances. It fails fast with PoolCapacityExceeded if admitting this
// many instances would exceed the pool's cap.
func (p *Pool) Register(desc function.Descriptor, instances int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.used+instances > p.cfg.Cap {
		return gjserr.Newf(gjserr.PoolCapacityExceeded,
			"workerpool: registering %d instance(s) of %q would exceed pool cap %d (currently %d in use)",
			instances, desc.Name, p.cfg.Cap, p.used)
	}
	p.registrations = append(p.registrations, registration{descriptor: desc, instances: instances})
	p.used += instances
	return nil
}

// Run spawns every registered function's worker instances and blocks
// until ctx is cancelled, then waits for every goroutine to exit before
// returning. The returned error slice holds one BackendRegistrationError
// per instance when no servers are configured; a server that cannot be
// reached or refuses CAN_DO is logged and retried by serverLoop and never
// appears in the slice. No failure stops sibling instances — there is no
// cascade on child termination.
func (p *Pool) Run(ctx context.Context) []error {
	p.mu.Lock()
	regs := make([]registration, len(p.registrations))
	copy(regs, p.registrations)
	p.mu.Unlock()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for _, reg := range regs {
		for i := 0; i < reg.instances; i++ {
			instanceErrs := p.runInstance(ctx, &wg, reg.descriptor, i)
			mu.Lock()
			errs = append(errs, instanceErrs...)
			mu.Unlock()
		}
	}

	wg.Wait()
	return errs
}

// runInstance spawns one goroutine per configured server for this
// worker instance, so it registers against every configured server. It
// returns immediately; per-server failures surface asynchronously via
// logging rather than this call's return value. Its only error is a
// BackendRegistrationError for an empty server list: an instance whose
// servers all refuse CAN_DO keeps retrying each of them and is not
// aborted.
func (p *Pool) runInstance(ctx context.Context, wg *sync.WaitGroup, desc function.Descriptor, instance int) []error {
	if len(p.cfg.Servers) == 0 {
		return []error{gjserr.Newf(gjserr.BackendRegistrationError, "workerpool: no servers configured for %q", desc.Name)}
	}

	for _, addr := range p.cfg.Servers {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			p.serverLoop(ctx, desc, addr)
		}(addr)
	}
	return nil
}

// serverLoop owns one connection to one server for one worker instance
// of desc. A registration failure or a protocol error while dequeuing is
// fatal to this loop; per the minimal respawn policy, it reconnects after
// a short, fixed backoff rather than giving up permanently or retrying
// immediately in a hot loop.
func (p *Pool) serverLoop(ctx context.Context, desc function.Descriptor, addr string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := p.runServerConnection(ctx, desc, addr); err != nil {
			p.logLoopError(desc.Name, addr, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(respawnBackoff):
		}
	}
}

func (p *Pool) runServerConnection(ctx context.Context, desc function.Descriptor, addr string) error {
	client, err := gearmanproto.Dial(addr, p.cfg.DialTimeout)
	if err != nil {
		return gjserr.New(gjserr.BackendRegistrationError, err).WithFunction(desc.Name)
	}
	defer client.Close()

	if err := client.CanDo(desc.Name); err != nil {
		return gjserr.New(gjserr.BackendRegistrationError, err).WithFunction(desc.Name)
	}

	for {
		select {
		case <-ctx.Done():
			_ = client.CantDo(desc.Name)
			return nil
		default:
		}

		job, err := client.GrabJob()
		if err != nil {
			return gjserr.New(gjserr.QueueError, err).WithFunction(desc.Name)
		}

		p.handleJob(ctx, client, desc, job)
	}
}

func (p *Pool) handleJob(ctx context.Context, client *gearmanproto.Client, desc function.Descriptor, job *gearmanproto.AssignedJob) {
	args, err := codec.Decode(job.Payload)
	if err != nil {
		_ = client.WorkFail(job.Handle)
		return
	}

	strippedHandle, err := identity.ParseHandle(job.Handle)
	if err != nil {
		strippedHandle = job.Handle
	}
	gjsID, err := identity.GJSID(strippedHandle, desc.Name, args)
	if err != nil {
		_ = client.WorkFail(job.Handle)
		return
	}

	var cacheReporter progress.CacheReporter
	if p.cfg.Cache != nil {
		cacheReporter = p.cfg.Cache
	}
	sink := progress.QueueSink{Handle: job.Handle, Backend: client, Cache: cacheReporter}

	result, err := jobrunner.Run(ctx, jobrunner.Request{
		Descriptor: desc,
		Args:       args,
		GJSID:      gjsID,
		Sink:       sink,
	}, p.runnerOpts())

	if err != nil {
		_ = client.WorkFail(job.Handle)
		if p.cfg.Cache != nil {
			_ = p.cfg.Cache.Finish(ctx, job.Handle, true)
		}
		return
	}

	resultBytes, err := codec.Encode(result)
	if err != nil {
		_ = client.WorkFail(job.Handle)
		return
	}
	_ = client.WorkComplete(job.Handle, resultBytes)
	if p.cfg.Cache != nil {
		_ = p.cfg.Cache.Finish(ctx, job.Handle, false)
	}
}

func (p *Pool) runnerOpts() jobrunner.Options {
	return p.cfg.Notifier
}

// logLoopError logs the protocol-level error that just terminated a
// connection loop as fatal to that loop; respawnBackoff, not this
// function, is what keeps a flaky server from spamming output.
func (p *Pool) logLoopError(funcName, addr string, err error) {
	p.logger.Error().
		Str("function", funcName).
		Str("server", addr).
		Err(err).
		Msg("worker loop terminated")
}
