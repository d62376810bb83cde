// Package queueclient implements the thin façade over the Gearman wire
// protocol: enqueue (foreground/background, three priorities), status,
// cancel, and the plaintext administrative commands. It fans submissions
// across the configured servers using a round-robin strategy.
package queueclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nuulab/gjs/internal/gearmanproto"
	"github.com/nuulab/gjs/internal/gjserr"
	"github.com/nuulab/gjs/internal/identity"
	"github.com/nuulab/gjs/pkg/statuscache"
)

// Priority mirrors the three submission priority classes.
type Priority int

// Priority values; each selects the matching Gearman submission verb.
// Uniqueness is carried separately by the uniqueKey submission argument.
const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityLow
)

func toProtoPriority(p Priority) gearmanproto.Priority {
	switch p {
	case PriorityHigh:
		return gearmanproto.High
	case PriorityLow:
		return gearmanproto.Low
	default:
		return gearmanproto.Normal
	}
}

// DefaultPort is used when a configured server omits one.
const DefaultPort = 4730

// Config configures a QueueClient. Servers entries are "host[:port]";
// DefaultPort is assumed when no port is given.
type Config struct {
	Servers []string
	// DialTimeout bounds connection setup to each server.
	DialTimeout time.Duration
	// StatusCache is an optional read-through status mirror (nil
	// disables it entirely; see pkg/statuscache).
	StatusCache *statuscache.Cache
}

// Status is the result of a status() query. NotFound is reported via the
// Found field rather than a distinct error type, so callers can keep
// using the zero Status value when convenient.
type Status struct {
	Found       bool
	Known       bool
	Running     bool
	Numerator   int64
	Denominator int64
}

// QueueClient is the submit/status/cancel/admin capability set exposed
// to callers.
type QueueClient struct {
	cfg     Config
	servers []string

	mu      sync.Mutex
	clients map[string]*gearmanproto.Client
	next    uint64
}

// New creates a QueueClient for the given configuration. Connections are
// established lazily, per server, on first use.
func New(cfg Config) (*QueueClient, error) {
	if len(cfg.Servers) == 0 {
		return nil, gjserr.Newf(gjserr.QueueError, "queueclient: at least one server required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	servers := make([]string, len(cfg.Servers))
	copy(servers, cfg.Servers)
	for i, s := range servers {
		servers[i] = withDefaultPort(s)
	}

	return &QueueClient{
		cfg:     cfg,
		servers: servers,
		clients: make(map[string]*gearmanproto.Client),
	}, nil
}

func withDefaultPort(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr
		}
		if addr[i] == ']' {
			break
		}
	}
	return fmt.Sprintf("%s:%d", addr, DefaultPort)
}

// Close closes every open server connection.
func (q *QueueClient) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var firstErr error
	for addr, c := range q.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(q.clients, addr)
	}
	return firstErr
}

func (q *QueueClient) clientFor(addr string) (*gearmanproto.Client, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if c, ok := q.clients[addr]; ok {
		return c, nil
	}
	c, err := gearmanproto.Dial(addr, q.cfg.DialTimeout)
	if err != nil {
		return nil, gjserr.New(gjserr.QueueError, err)
	}
	q.clients[addr] = c
	return c, nil
}

// pickServer round-robins across configured servers.
func (q *QueueClient) pickServer() string {
	n := atomic.AddUint64(&q.next, 1)
	return q.servers[(n-1)%uint64(len(q.servers))]
}

// SubmitForeground blocks until the queue reports completion or failure.
// uniqueKey is the canonical job key when the function is declared
// unique, or "" otherwise.
func (q *QueueClient) SubmitForeground(name string, payload []byte, p Priority, uniqueKey string) ([]byte, error) {
	addr := q.pickServer()
	client, err := q.clientFor(addr)
	if err != nil {
		return nil, err
	}

	result, err := client.SubmitForeground(name, uniqueKey, payload, toProtoPriority(p))
	if err != nil {
		return nil, gjserr.New(gjserr.QueueError, err).WithFunction(name)
	}
	return result, nil
}

// SubmitBackground returns immediately with the assigned handle.
func (q *QueueClient) SubmitBackground(name string, payload []byte, p Priority, uniqueKey string) (string, error) {
	addr := q.pickServer()
	client, err := q.clientFor(addr)
	if err != nil {
		return "", err
	}

	handle, err := client.SubmitBackground(name, uniqueKey, payload, toProtoPriority(p))
	if err != nil {
		return "", gjserr.New(gjserr.QueueError, err).WithFunction(name)
	}

	if q.cfg.StatusCache != nil {
		_ = q.cfg.StatusCache.Start(context.Background(), handle)
	}

	return handle, nil
}

// Status queries the status of handle, consulting the optional status
// cache before falling back to a GET_STATUS round trip.
func (q *QueueClient) Status(handle string) (Status, error) {
	if q.cfg.StatusCache != nil {
		if p, ok, err := q.cfg.StatusCache.Peek(context.Background(), handle); err == nil && ok {
			return Status{Found: true, Known: true, Running: !p.Done, Numerator: p.Numerator, Denominator: p.Denominator}, nil
		}
	}

	var lastErr error
	for _, addr := range q.servers {
		client, err := q.clientFor(addr)
		if err != nil {
			lastErr = err
			continue
		}
		st, err := client.GetStatus(handle)
		if err != nil {
			lastErr = err
			continue
		}
		if !st.Known {
			continue
		}
		return Status{Found: true, Known: st.Known, Running: st.Running, Numerator: st.Numerator, Denominator: st.Denominator}, nil
	}

	if lastErr != nil {
		return Status{}, gjserr.New(gjserr.QueueError, lastErr)
	}
	return Status{Found: false}, nil
}

// Cancel sends "cancel job <id>\r\n" to every configured server and
// accepts the operation as successful if any server replies exactly OK.
func (q *QueueClient) Cancel(handle string) (bool, error) {
	id, err := identity.ParseHandle(handle)
	if err != nil {
		return false, err
	}

	accepted := false
	var lastErr error
	for _, addr := range q.servers {
		client, err := q.clientFor(addr)
		if err != nil {
			lastErr = err
			continue
		}
		ok, err := client.Cancel(id)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			accepted = true
		}
	}

	if !accepted && lastErr != nil {
		return false, gjserr.New(gjserr.QueueError, lastErr)
	}
	return accepted, nil
}

// ---- Admin surface ----

// Admin groups the plaintext administrative commands, fanned out across
// every configured server.
type Admin struct{ q *QueueClient }

// Admin returns the administrative command surface for this client.
func (q *QueueClient) Admin() Admin { return Admin{q: q} }

// Version returns each server's reported version, keyed by address.
func (a Admin) Version() (map[string]string, error) {
	return a.q.singleLineAll("version")
}

// GetPID returns each server's process id, keyed by address.
func (a Admin) GetPID() (map[string]string, error) {
	return a.q.singleLineAll("getpid")
}

// CreateFunction registers name as an administratively known function on
// every server.
func (a Admin) CreateFunction(name string) error {
	_, err := a.q.singleLineAll("create function " + name)
	return err
}

// DropFunction removes name from every server.
func (a Admin) DropFunction(name string) error {
	_, err := a.q.singleLineAll("drop function " + name)
	return err
}

// Shutdown asks every server to shut down.
func (a Admin) Shutdown(graceful bool) error {
	cmd := "shutdown"
	if graceful {
		cmd += " graceful"
	}
	_, err := a.q.singleLineAll(cmd)
	return err
}

// ListJobs returns "show jobs" output per server, keyed by address.
func (a Admin) ListJobs() (map[string][]string, error) {
	return a.q.blockAll("show jobs")
}

// ListUniqueJobs returns "show unique jobs" output per server, keyed by
// address.
func (a Admin) ListUniqueJobs() (map[string][]string, error) {
	return a.q.blockAll("show unique jobs")
}

// ListWorkers returns "workers" output per server, keyed by address.
func (a Admin) ListWorkers() (map[string][]string, error) {
	return a.q.blockAll("workers")
}

// Status returns "status" output per server, keyed by address.
func (a Admin) Status() (map[string][]string, error) {
	return a.q.blockAll("status")
}

func (q *QueueClient) singleLineAll(cmd string) (map[string]string, error) {
	out := make(map[string]string, len(q.servers))
	var lastErr error
	for _, addr := range q.servers {
		client, err := q.clientFor(addr)
		if err != nil {
			lastErr = err
			continue
		}
		reply, err := client.AdminCall(cmd)
		if err != nil {
			lastErr = err
			continue
		}
		out[addr] = reply
	}
	if len(out) == 0 && lastErr != nil {
		return nil, gjserr.New(gjserr.QueueError, lastErr)
	}
	return out, nil
}

func (q *QueueClient) blockAll(cmd string) (map[string][]string, error) {
	out := make(map[string][]string, len(q.servers))
	var lastErr error
	for _, addr := range q.servers {
		client, err := q.clientFor(addr)
		if err != nil {
			lastErr = err
			continue
		}
		lines, err := client.AdminBlock(cmd)
		if err != nil {
			lastErr = err
			continue
		}
		out[addr] = lines
	}
	if len(out) == 0 && lastErr != nil {
		return nil, gjserr.New(gjserr.QueueError, lastErr)
	}
	return out, nil
}
