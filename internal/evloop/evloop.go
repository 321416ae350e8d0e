// Package evloop implements the daemon's single event-loop goroutine (spec
// §4.3, §5). Spec §5 requires "single-threaded and cooperative... no locks
// are needed internally": Go's net package already folds socket readiness
// into the runtime's own poller, so this package does not hand-roll select/
// epoll. Instead one goroutine (Loop.Run) is the sole owner and mutator of
// every shared structure (session table, queue, pool) named in spec §3,
// fed by a single channel from per-connection reader goroutines and
// per-job goroutines in internal/upstream — the idiomatic-Go realization of
// the same "no internal locks" guarantee (see SPEC_FULL.md's CONCURRENCY
// MODEL section).
package evloop

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ianremillard/ccached/internal/config"
	"github.com/ianremillard/ccached/internal/log"
	"github.com/ianremillard/ccached/internal/metrics"
	"github.com/ianremillard/ccached/internal/queue"
	"github.com/ianremillard/ccached/internal/session"
	"github.com/ianremillard/ccached/internal/upstream"
	"github.com/ianremillard/ccached/internal/wire"
)

// idleTimeout is how long the daemon waits with no clients and no upstream
// work before exiting (spec §4.3 step 7, §5 "cancellation & timeouts").
const idleTimeout = 10 * time.Minute

// maxActiveClients is the soft cap at which the master socket is closed so
// a replacement daemon can take over (spec §4.3 step 3, §5).
const maxActiveClients = 900

// pendingLen is the buffer size of the Loop's event channel; generous
// enough that reader/job goroutines never block handing off an event to a
// busy loop iteration.
const pendingLen = 256

type eventKind int

const (
	evConnected eventKind = iota
	evFrame
	evConnClosed
	evJobComplete
	evDumpCounters
	evResetCounters
)

type event struct {
	kind eventKind

	sessionID uint64
	conn      net.Conn
	frame     clientFrameEvent
	result    upstream.Result
}

// Loop is the daemon's central event loop (spec §4.3, §3 "Per-daemon
// singletons").
type Loop struct {
	cfg     config.Config
	log     log.Logger
	metrics *metrics.Metrics

	listener   net.Listener
	socketPath string

	events chan event

	sessions      map[uint64]*clientConn
	nextSessionID uint64

	queue *queue.Queue
	pool  *upstream.Pool

	lastActivity time.Time
}

// clientConn bundles a live socket, its wire codec, and its session state
// (spec §3 "Per-client session"). Only the loop goroutine reads or writes
// sess; the reader goroutine only ever touches conn and rd; wr writes
// through cw, whose own goroutine is the only one that ever blocks on
// conn.Write, so a slow client never stalls the loop goroutine (spec §5).
type clientConn struct {
	conn net.Conn
	cw   *connWriter
	wr   *wire.Writer
	sess *session.Session
}

// New builds a Loop bound to listener at socketPath.
func New(cfg config.Config, logger log.Logger, m *metrics.Metrics, listener net.Listener, socketPath string) *Loop {
	if logger == nil {
		logger = log.Nop()
	}
	return &Loop{
		cfg:          cfg,
		log:          logger,
		metrics:      m,
		listener:     listener,
		socketPath:   socketPath,
		events:       make(chan event, pendingLen),
		sessions:     make(map[uint64]*clientConn),
		queue:        queue.New(),
		pool:         upstream.New(cfg.Connections, logger),
		lastActivity: time.Now(),
	}
}

// Run accepts connections and drives the event loop until idle shutdown or
// a termination signal. It returns the daemon's intended process exit code
// (spec §6 "Exit codes").
func (l *Loop) Run(ctx context.Context) int {
	l.metrics.PoolSize.Set(float64(l.pool.Size()))

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)
	// SIGPIPE needs no handler: Go never delivers it for socket writes,
	// a failed Write just returns EPIPE (spec §4.3 "SIGPIPE is ignored").

	acceptDone := make(chan struct{})
	go l.acceptLoop(acceptDone)
	go l.forwardResults()

	idleCheck := time.NewTicker(30 * time.Second)
	defer idleCheck.Stop()

	l.log.Infof("ccached daemon listening on %s", l.socketPath)

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return 0

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				l.log.Infof("received %s, shutting down", sig)
				l.shutdown()
				return 0
			case syscall.SIGUSR1:
				l.metrics.Dump(l.log)
			case syscall.SIGUSR2:
				l.metrics.Reset()
			}

		case ev := <-l.events:
			l.handleEvent(ev)
			l.dispatchPending()

		case <-idleCheck.C:
			if l.idle() {
				l.log.Infof("idle for %s, shutting down", idleTimeout)
				l.shutdown()
				return 0
			}
		}
	}
}

func (l *Loop) idle() bool {
	return len(l.sessions) == 0 &&
		l.queue.Len() == 0 &&
		l.pool.ActiveCount() == 0 &&
		time.Since(l.lastActivity) > idleTimeout
}

func (l *Loop) shutdown() {
	l.listener.Close()
	os.Remove(l.socketPath)
	for _, cc := range l.sessions {
		cc.cw.Close()
		cc.conn.Close()
	}
}

func (l *Loop) acceptLoop(done chan struct{}) {
	defer close(done)
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			return
		}
		l.events <- event{kind: evConnected, conn: conn}
	}
}

func (l *Loop) handleEvent(ev event) {
	l.lastActivity = time.Now()

	switch ev.kind {
	case evConnected:
		l.onConnected(ev.conn)
	case evFrame:
		l.onFrame(ev.sessionID, ev.frame)
	case evConnClosed:
		l.onConnClosed(ev.sessionID)
	case evJobComplete:
		l.onJobComplete(ev.result)
	}
}
