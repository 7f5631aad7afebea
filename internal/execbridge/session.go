// Package execbridge opens interactive command streams into workspace
// containers and relays them bidirectionally to a remote caller. Each
// session walks Connecting -> Established -> Closed, with an error exit from
// either active state; teardown is idempotent and safe to trigger from
// either direction.
package execbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/tools/remotecommand"

	"workspace-orchestrator-go/internal/audit"
	"workspace-orchestrator-go/internal/config"
	"workspace-orchestrator-go/internal/k8s"
)

// Session states.
type State int32

const (
	StateConnecting State = iota
	StateEstablished
	StateClosed
)

// Conn is the caller-side transport the session relays to: typically a
// websocket, but anything message-oriented works.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// resizeMessage is the structured control message carried in-band by the
// caller transport. It is consumed here and never forwarded to the terminal.
type resizeMessage struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// streamExecutor matches remotecommand.Executor; narrowed for test doubles.
type streamExecutor interface {
	StreamWithContext(ctx context.Context, options remotecommand.StreamOptions) error
}

// Bridge opens exec sessions into running workspace pods.
type Bridge struct {
	client *k8s.Client
	config *config.Config
	audit  audit.Recorder
	logger *zap.Logger
}

// NewBridge creates a new exec bridge.
func NewBridge(client *k8s.Client, cfg *config.Config, recorder audit.Recorder, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Bridge{
		client: client,
		config: cfg,
		audit:  recorder,
		logger: logger,
	}
}

// OpenSession resolves the target container (first container when
// unspecified) and prepares a TTY exec stream running an interactive shell.
// Failure to start is recorded as a distinct failed-session audit event.
func (b *Bridge) OpenSession(ctx context.Context, namespace, podName string, command []string) (*Session, error) {
	pod, err := b.client.Clientset().CoreV1().Pods(namespace).Get(ctx, podName, metav1.GetOptions{})
	if err != nil {
		err = fmt.Errorf("failed to resolve pod %s/%s: %w", namespace, podName, err)
		b.recordFailure(ctx, namespace, podName, err)
		return nil, err
	}
	if len(pod.Spec.Containers) == 0 {
		err = fmt.Errorf("pod %s/%s has no containers", namespace, podName)
		b.recordFailure(ctx, namespace, podName, err)
		return nil, err
	}
	container := pod.Spec.Containers[0].Name

	if len(command) == 0 {
		command = []string{b.config.ExecCommand}
	}

	executor, err := b.client.NewExecutor(ctx, namespace, podName, container, command)
	if err != nil {
		b.recordFailure(ctx, namespace, podName, err)
		return nil, err
	}

	session := newSession(executor, namespace, podName, b.config.ExecOpenTimeout, b.audit, b.logger)
	b.audit.Record(ctx, audit.Event{
		Kind:      audit.EventExecStarted,
		Namespace: namespace,
		Subject:   podName,
		Detail:    "container=" + container,
	})
	return session, nil
}

func (b *Bridge) recordFailure(ctx context.Context, namespace, podName string, err error) {
	b.logger.Error("failed to open exec session",
		zap.String("namespace", namespace),
		zap.String("pod", podName),
		zap.Error(err))
	b.audit.Record(ctx, audit.Event{
		Kind:      audit.EventExecFailed,
		Namespace: namespace,
		Subject:   podName,
		Error:     err.Error(),
	})
}

// Session is one live exec stream. In-memory only; it owns the underlying
// command stream and tears both sides down when either closes.
type Session struct {
	executor    streamExecutor
	namespace   string
	pod         string
	openTimeout time.Duration
	audit       audit.Recorder
	logger      *zap.Logger

	state    atomic.Int32
	stdinR   *io.PipeReader
	stdinW   *io.PipeWriter
	resizeCh chan remotecommand.TerminalSize
	done     chan struct{}
	once     sync.Once

	mu     sync.Mutex
	conn   Conn
	cancel context.CancelFunc
}

func newSession(executor streamExecutor, namespace, pod string, openTimeout time.Duration, recorder audit.Recorder, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}

	stdinR, stdinW := io.Pipe()
	return &Session{
		executor:    executor,
		namespace:   namespace,
		pod:         pod,
		openTimeout: openTimeout,
		audit:       recorder,
		logger:      logger,
		stdinR:      stdinR,
		stdinW:      stdinW,
		resizeCh:    make(chan remotecommand.TerminalSize, 4),
		done:        make(chan struct{}),
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Run bridges the exec stream to the caller connection until either side
// closes. Both directions proceed independently: a stalled direction never
// blocks the other.
func (s *Session) Run(ctx context.Context, conn Conn) error {
	select {
	case <-s.done:
		return nil
	default:
	}

	// Close must be able to abort the stream even when the remote command
	// ignores stdin closure (tail -f and friends), so the stream runs under
	// a per-session cancel.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	var streamErr error
	streamDone := make(chan struct{})

	go func() {
		defer close(streamDone)
		defer s.Close()

		// TTY mode merges stderr into stdout, so one output stream suffices.
		streamErr = s.executor.StreamWithContext(streamCtx, remotecommand.StreamOptions{
			Stdin:             s.stdinR,
			Stdout:            &connWriter{session: s},
			Tty:               true,
			TerminalSizeQueue: s,
		})
	}()

	// Some transports report success without an explicit open event; assume
	// the stream is established once the timeout passes without an error.
	establishTimer := time.AfterFunc(s.openTimeout, s.markEstablished)
	defer establishTimer.Stop()

	// Caller -> cluster direction.
	go func() {
		defer s.Close()
		for {
			data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.handleInbound(data)
		}
	}()

	<-streamDone
	<-s.done

	// Cancellation is how Close aborts the stream; it is a clean shutdown,
	// not a failure.
	if errors.Is(streamErr, context.Canceled) {
		streamErr = nil
	}

	if streamErr != nil && streamErr != io.EOF {
		s.logger.Warn("exec stream ended with error",
			zap.String("namespace", s.namespace),
			zap.String("pod", s.pod),
			zap.Error(streamErr))
		s.audit.Record(context.WithoutCancel(ctx), audit.Event{
			Kind:      audit.EventExecEnded,
			Namespace: s.namespace,
			Subject:   s.pod,
			Error:     streamErr.Error(),
		})
		return streamErr
	}

	s.audit.Record(context.WithoutCancel(ctx), audit.Event{
		Kind:      audit.EventExecEnded,
		Namespace: s.namespace,
		Subject:   s.pod,
	})
	return nil
}

// handleInbound routes one caller message: structured resize messages go to
// the stream's resize control, everything else is forwarded verbatim to the
// session's input.
func (s *Session) handleInbound(data []byte) {
	var msg resizeMessage
	if err := json.Unmarshal(data, &msg); err == nil && msg.Type == "resize" {
		select {
		case s.resizeCh <- remotecommand.TerminalSize{Width: msg.Cols, Height: msg.Rows}:
		default:
			// Resize control full; drop rather than stall the input path.
		}
		return
	}

	if _, err := s.stdinW.Write(data); err != nil {
		s.Close()
	}
}

// Next implements remotecommand.TerminalSizeQueue.
func (s *Session) Next() *remotecommand.TerminalSize {
	select {
	case size := <-s.resizeCh:
		return &size
	case <-s.done:
		return nil
	}
}

func (s *Session) markEstablished() {
	s.state.CompareAndSwap(int32(StateConnecting), int32(StateEstablished))
}

// Close tears down both sides. Idempotent; safe from either direction or an
// external timeout.
func (s *Session) Close() {
	s.once.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
		s.stdinW.Close()
		s.stdinR.Close()

		s.mu.Lock()
		conn := s.conn
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if conn != nil {
			conn.Close()
		}
	})
}

// connWriter forwards container output to the caller as it arrives. The
// first write doubles as the stream's open signal.
type connWriter struct {
	session *Session
}

func (w *connWriter) Write(p []byte) (int, error) {
	w.session.markEstablished()

	w.session.mu.Lock()
	conn := w.session.conn
	w.session.mu.Unlock()
	if conn == nil {
		return 0, io.ErrClosedPipe
	}

	if err := conn.WriteMessage(p); err != nil {
		w.session.Close()
		return 0, err
	}
	return len(p), nil
}
