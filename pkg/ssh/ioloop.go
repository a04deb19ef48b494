package ssh

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Slashx124/NeonShell/pkg/define"
	"github.com/Slashx124/NeonShell/pkg/event"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sys/unix"
)

// streamWriter forwards the merged remote stream into the scheduler's
// inbound queue in bounded chunks. Sends block when the queue is full, which
// stalls the transport's copy goroutine and lets SSH flow control push back
// on the remote instead of buffering without limit.
type streamWriter struct {
	ch   chan<- []byte
	done <-chan struct{}
}

func (w *streamWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := len(p)
		if n > define.ReadBufferBytes {
			n = define.ReadBufferBytes
		}
		buf := make([]byte, n)
		copy(buf, p[:n])
		select {
		case w.ch <- buf:
			written += n
			p = p[n:]
		case <-w.done:
			return written, io.ErrClosedPipe
		}
	}
	return written, nil
}

// ioScheduler owns the steady-state loop of one connected session. The
// transport and channel are touched only from this goroutine; all external
// mutation arrives as commands on the bounded queue.
type ioScheduler struct {
	handle   *Handle
	client   *ssh.Client
	sess     *ssh.Session
	stdin    io.WriteCloser
	commands chan command

	inbound   chan []byte
	loopDone  chan struct{}
	watchDone chan struct{}

	keepalive time.Duration

	mu         sync.Mutex
	exitStatus *int
	exitSignal string
	eofSeen    bool
}

// newIOScheduler prepares the queues for a session about to be opened. The
// channel and stdin pipe are attached after the opener has negotiated them,
// since the opener writes the remote stream into output().
func newIOScheduler(h *Handle, client *ssh.Client, commands chan command) *ioScheduler {
	return &ioScheduler{
		handle:    h,
		client:    client,
		commands:  commands,
		inbound:   make(chan []byte, define.InboundQueueDepth),
		loopDone:  make(chan struct{}),
		watchDone: make(chan struct{}),
		keepalive: h.Config().KeepaliveInterval,
	}
}

// attach binds the negotiated channel and its stdin pipe to the scheduler.
func (s *ioScheduler) attach(sess *ssh.Session, stdin io.WriteCloser) {
	s.sess = sess
	s.stdin = stdin
}

// output returns the writer the channel opener wires both remote streams to.
func (s *ioScheduler) output() io.Writer {
	return &streamWriter{ch: s.inbound, done: s.loopDone}
}

// watch waits for the remote side to finish, records exit diagnostics and
// closes the inbound stream. Runs on its own goroutine; by the time Wait
// returns, the transport has delivered all remote bytes into the stream.
func (s *ioScheduler) watch() {
	defer close(s.watchDone)

	err := s.sess.Wait()
	s.mu.Lock()
	s.eofSeen = true
	if err == nil {
		status := 0
		s.exitStatus = &status
	} else {
		var exitErr *ssh.ExitError
		var missing *ssh.ExitMissingError
		switch {
		case errors.As(err, &exitErr):
			status := exitErr.ExitStatus()
			s.exitStatus = &status
			s.exitSignal = exitErr.Signal()
		case errors.As(err, &missing):
		default:
			logrus.Debugf("session %s: wait ended: %v", s.handle.ID(), err)
		}
	}
	s.mu.Unlock()

	close(s.inbound)
}

// exitInfo returns the recorded exit status and signal, if any.
func (s *ioScheduler) exitInfo() (*int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitStatus, s.exitSignal
}

// run executes the scheduler loop until EOF, a close command, or the error
// threshold. Every iteration performs the same fixed order of work:
// keepalive pacing, command intake, inbound drain, outbound flush,
// termination checks, then a short pacing sleep when idle.
func (s *ioScheduler) run() {
	go s.watch()

	pending := make([]byte, 0, define.WriteChunkBytes)
	lastKeepalive := time.Now()
	consecutiveErrors := 0
	closing := false
	eof := false

	for {
		if s.keepalive > 0 && time.Since(lastKeepalive) >= s.keepalive {
			if _, _, err := s.client.SendRequest(define.KeepaliveRequest, true, nil); err != nil {
				logrus.Warnf("session %s: keepalive send failed: %v", s.handle.ID(), err)
			} else {
				logrus.Debugf("session %s: keepalive sent", s.handle.ID())
			}
			lastKeepalive = time.Now()
		}

		moved := false

	drain:
		for i := 0; i < define.CommandBatchPerTick; i++ {
			select {
			case cmd := <-s.commands:
				switch cmd.kind {
				case cmdWrite:
					if len(pending)+len(cmd.data) > define.MaxPendingBytes {
						logrus.Warnf("session %s: dropped %d bytes, pending buffer full", s.handle.ID(), len(cmd.data))
						s.handle.emitDebug(event.WriteDropped, map[string]any{
							"len":     len(cmd.data),
							"pending": len(pending),
						})
						continue
					}
					pending = append(pending, cmd.data...)
				case cmdResize:
					if err := s.sess.WindowChange(cmd.rows, cmd.cols); err != nil {
						logrus.Warnf("session %s: failed to resize PTY: %v", s.handle.ID(), err)
					}
				case cmdClose:
					logrus.Infof("session %s: close command received", s.handle.ID())
					closing = true
					break drain
				}
			default:
				break drain
			}
		}
		if closing {
			break
		}

		if consecutiveErrors >= define.MaxConsecutiveErrors {
			logrus.Errorf("session %s: too many consecutive errors, closing", s.handle.ID())
			s.handle.fail("Connection lost - too many errors")
			break
		}

	recv:
		for {
			select {
			case data, ok := <-s.inbound:
				if !ok {
					eof = true
					break recv
				}
				if len(data) == 0 {
					continue
				}
				consecutiveErrors = 0
				moved = true
				s.handle.sink.Publish(event.DataChunk{SessionID: s.handle.ID(), Data: data})
			default:
				break recv
			}
		}

		if len(pending) > 0 {
			var werr error
			pending, consecutiveErrors, werr = s.flush(pending, consecutiveErrors)
			if werr == nil {
				moved = true
			}
		}

		if eof {
			logrus.Infof("session %s: ssh channel closed", s.handle.ID())
			break
		}

		if !moved {
			time.Sleep(define.SchedulerTick)
		}
	}

	s.shutdown()
}

// flush writes the pending buffer in bounded chunks. Recoverable write
// errors back off briefly and retry; a non-recoverable error drops the
// buffer, reports it, and bumps the consecutive error counter.
func (s *ioScheduler) flush(pending []byte, consecutiveErrors int) ([]byte, int, error) {
	for len(pending) > 0 {
		chunk := len(pending)
		if chunk > define.WriteChunkBytes {
			chunk = define.WriteChunkBytes
		}

		n, err := s.stdin.Write(pending[:chunk])
		if n > 0 {
			pending = pending[n:]
			consecutiveErrors = 0
			s.handle.emitDebug(event.WriteProgress, map[string]any{
				"written": n,
				"pending": len(pending),
			})
		}
		if err != nil {
			if isRecoverableError(err) {
				time.Sleep(define.WriteRetryDelay)
				continue
			}
			logrus.Errorf("session %s: write error: %v", s.handle.ID(), err)
			s.handle.sink.Publish(event.SessionError{SessionID: s.handle.ID(), Message: "Write failed"})
			return pending[:0], consecutiveErrors + 1, err
		}
	}
	return pending, consecutiveErrors, nil
}

// shutdown tears the channel down and waits briefly for exit diagnostics.
func (s *ioScheduler) shutdown() {
	close(s.loopDone)
	_ = s.stdin.Close()
	_ = s.sess.Close()

	select {
	case <-s.watchDone:
	case <-time.After(define.WaitCloseTimeout):
		logrus.Debugf("session %s: remote close not observed in time", s.handle.ID())
	}

	status, signal := s.exitInfo()
	s.mu.Lock()
	eof := s.eofSeen
	s.mu.Unlock()

	exitStatus := 0
	if status != nil {
		exitStatus = *status
	}
	logrus.Infof("session %s: loop exit eof=%v exitStatus=%d exitSignal=%q", s.handle.ID(), eof, exitStatus, signal)
}

// isRecoverableError reports whether an I/O error means "try again later"
// rather than a dead channel.
func isRecoverableError(err error) bool {
	if err == nil {
		return false
	}

	for _, errno := range []unix.Errno{unix.EAGAIN, unix.EWOULDBLOCK, unix.EINTR, unix.ETIMEDOUT} {
		if errors.Is(err, errno) {
			return true
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "would block") ||
		strings.Contains(msg, "wouldblock") ||
		strings.Contains(msg, "eagain") ||
		strings.Contains(msg, "try again") ||
		strings.Contains(msg, "temporarily") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "interrupted")
}
