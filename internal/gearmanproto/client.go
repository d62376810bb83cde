package gearmanproto

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// Priority selects which SUBMIT_JOB* verb a submission uses.
type Priority int

// Priority values map 1:1 onto the three submission priority classes.
const (
	Normal Priority = iota
	High
	Low
)

// Client owns one connection to a single Gearman server and exposes both
// the binary submit/status protocol and the plaintext admin line
// protocol. It is safe for concurrent use: callers share one underlying
// net.Conn guarded by a mutex.
type Client struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to a Gearman server at addr ("host:port").
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("gearmanproto: dial %s: %w", addr, err)
	}
	return &Client{addr: addr, conn: conn, r: bufio.NewReader(conn)}, nil
}

// Addr returns the configured server address.
func (c *Client) Addr() string { return c.addr }

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

func submitType(bg bool, p Priority) PacketType {
	switch {
	case bg && p == High:
		return SubmitJobHighBG
	case bg && p == Low:
		return SubmitJobLowBG
	case bg:
		return SubmitJobBG
	case p == High:
		return SubmitJobHigh
	case p == Low:
		return SubmitJobLow
	default:
		return SubmitJob
	}
}

// SubmitBackground submits a job and returns immediately with the
// server-assigned handle from JOB_CREATED.
func (c *Client) SubmitBackground(funcName, uniqueID string, payload []byte, p Priority) (string, error) {
	return c.submit(funcName, uniqueID, payload, p, true)
}

// SubmitForeground submits a job and blocks on this connection until the
// server reports WORK_COMPLETE or WORK_FAIL for it. Gearman delivers the
// result over the same connection that submitted the job; the caller must
// not issue other requests on this Client concurrently with a foreground
// submission in flight.
func (c *Client) SubmitForeground(funcName, uniqueID string, payload []byte, p Priority) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	args := submitArgs(funcName, uniqueID, payload)
	if err := WritePacket(c.conn, submitType(false, p), args...); err != nil {
		return nil, err
	}

	handlePkt, err := ReadPacket(c.r)
	if err != nil {
		return nil, err
	}
	if handlePkt.Type != JobCreated {
		return nil, fmt.Errorf("gearmanproto: expected JOB_CREATED, got %d", handlePkt.Type)
	}

	for {
		pkt, err := ReadPacket(c.r)
		if err != nil {
			return nil, err
		}
		switch pkt.Type {
		case WorkComplete:
			if len(pkt.Args) < 2 {
				return []byte{}, nil
			}
			return pkt.Args[1], nil
		case WorkFail:
			return nil, fmt.Errorf("gearmanproto: job failed")
		case WorkException:
			if len(pkt.Args) >= 2 {
				return nil, fmt.Errorf("gearmanproto: job raised exception: %s", pkt.Args[1])
			}
			return nil, fmt.Errorf("gearmanproto: job raised exception")
		case WorkStatus:
			// Progress update while we wait for completion; ignored by
			// the blocking foreground path (pollers use GetStatus).
			continue
		default:
			continue
		}
	}
}

func (c *Client) submit(funcName, uniqueID string, payload []byte, p Priority, bg bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	args := submitArgs(funcName, uniqueID, payload)
	if err := WritePacket(c.conn, submitType(bg, p), args...); err != nil {
		return "", err
	}

	pkt, err := ReadPacket(c.r)
	if err != nil {
		return "", err
	}
	if pkt.Type != JobCreated || len(pkt.Args) < 1 {
		return "", fmt.Errorf("gearmanproto: expected JOB_CREATED, got %d", pkt.Type)
	}
	return string(pkt.Args[0]), nil
}

func submitArgs(funcName, uniqueID string, payload []byte) [][]byte {
	uid := uniqueID
	return [][]byte{[]byte(funcName), []byte(uid), payload}
}

// Status is the five-tuple GET_STATUS returns.
type Status struct {
	Known      bool
	Running    bool
	Numerator  int64
	Denominator int64
}

// GetStatus queries the status of a background job by handle.
func (c *Client) GetStatus(handle string) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := WritePacket(c.conn, GetStatus, []byte(handle)); err != nil {
		return Status{}, err
	}

	pkt, err := ReadPacket(c.r)
	if err != nil {
		return Status{}, err
	}
	if pkt.Type != StatusRes || len(pkt.Args) < 5 {
		return Status{}, fmt.Errorf("gearmanproto: expected STATUS_RES, got %d", pkt.Type)
	}

	known := string(pkt.Args[1]) == "1"
	running := string(pkt.Args[2]) == "1"
	num, _ := strconv.ParseInt(string(pkt.Args[3]), 10, 64)
	den, _ := strconv.ParseInt(string(pkt.Args[4]), 10, 64)

	return Status{Known: known, Running: running, Numerator: num, Denominator: den}, nil
}

// ---- Worker-side binary protocol ----

// CanDo registers this connection as able to perform funcName.
func (c *Client) CanDo(funcName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return WritePacket(c.conn, CanDo, []byte(funcName))
}

// CantDo unregisters funcName from this connection.
func (c *Client) CantDo(funcName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return WritePacket(c.conn, CantDo, []byte(funcName))
}

// AssignedJob is a job handed to a worker by JOB_ASSIGN.
type AssignedJob struct {
	Handle   string
	FuncName string
	Payload  []byte
}

// GrabJob blocks (via PRE_SLEEP/NOOP) until a job is assigned or an error
// occurs. It implements the minimal grab/sleep loop: send GRAB_JOB, and on
// NO_JOB send PRE_SLEEP then block reading for the server's NOOP wakeup.
func (c *Client) GrabJob() (*AssignedJob, error) {
	for {
		c.mu.Lock()
		if err := WritePacket(c.conn, GrabJob); err != nil {
			c.mu.Unlock()
			return nil, err
		}
		pkt, err := ReadPacket(c.r)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}

		switch pkt.Type {
		case JobAssign:
			c.mu.Unlock()
			if len(pkt.Args) < 3 {
				return nil, fmt.Errorf("gearmanproto: malformed JOB_ASSIGN")
			}
			return &AssignedJob{
				Handle:   string(pkt.Args[0]),
				FuncName: string(pkt.Args[1]),
				Payload:  pkt.Args[2],
			}, nil
		case NoJob:
			if err := WritePacket(c.conn, PreSleep); err != nil {
				c.mu.Unlock()
				return nil, err
			}
			c.mu.Unlock()

			if _, err := c.waitNoop(); err != nil {
				return nil, err
			}
			continue
		default:
			c.mu.Unlock()
			return nil, fmt.Errorf("gearmanproto: unexpected packet %d while grabbing job", pkt.Type)
		}
	}
}

func (c *Client) waitNoop() (*Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pkt, err := ReadPacket(c.r)
	if err != nil {
		return nil, err
	}
	if pkt.Type != Noop {
		return nil, fmt.Errorf("gearmanproto: expected NOOP, got %d", pkt.Type)
	}
	return pkt, nil
}

// WorkComplete reports successful completion of handle with the given
// result bytes.
func (c *Client) WorkComplete(handle string, result []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return WritePacket(c.conn, WorkComplete, []byte(handle), result)
}

// WorkFail reports terminal failure of handle.
func (c *Client) WorkFail(handle string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return WritePacket(c.conn, WorkFail, []byte(handle))
}

// ReportStatus reports progress on handle (the WORK_STATUS packet).
func (c *Client) ReportStatus(handle string, numerator, denominator int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return WritePacket(c.conn, WorkStatus, []byte(handle),
		[]byte(strconv.FormatInt(numerator, 10)), []byte(strconv.FormatInt(denominator, 10)))
}

// ---- Admin line protocol ----

// AdminCall sends a single-line admin command and returns the single-line
// reply with its trailing CRLF stripped (used for getpid, create
// function, drop function, shutdown, version, and the custom "cancel job
// <id>" command).
func (c *Client) AdminCall(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.conn.Write([]byte(cmd + "\r\n")); err != nil {
		return "", err
	}

	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return trimCRLF(line), nil
}

// AdminBlock sends a single-line admin command that replies with a
// multi-line block terminated by a lone "." line (status, workers, show
// jobs, show unique jobs).
func (c *Client) AdminBlock(cmd string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.conn.Write([]byte(cmd + "\r\n")); err != nil {
		return nil, err
	}

	var lines []string
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = trimCRLF(line)
		if line == "." {
			break
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Cancel sends the plaintext "cancel job <id>\r\n" command this protocol
// documents and reports whether the server accepted it: acceptance is an
// exact "OK" reply, anything else (including an error string) is a
// refusal.
func (c *Client) Cancel(id string) (bool, error) {
	reply, err := c.AdminCall("cancel job " + id)
	if err != nil {
		return false, err
	}
	return reply == "OK", nil
}

func trimCRLF(s string) string {
	return string(bytes.TrimRight([]byte(s), "\r\n"))
}
