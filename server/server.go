package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var ErrServerClosed = errors.New("server: closed")

// Executor runs the statements of one connection.
type Executor interface {
	Execute(stmt string) (string, error)
	Close() error
}

type Server struct {
	NewExecutor func() Executor
	Logger      *log.Logger

	mutex      sync.Mutex
	listener   net.Listener
	activeConn map[net.Conn]struct{}
	connCount  int32
	shutdown   bool
	closed     bool
}

func (svr *Server) logger() *log.Logger {
	if svr.Logger == nil {
		return log.StandardLogger()
	}
	return svr.Logger
}

func (svr *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return svr.Serve(l)
}

// Serve accepts connections on l until the server is shutdown or closed; it always returns
// a non-nil error, ErrServerClosed after Shutdown or Close.
func (svr *Server) Serve(l net.Listener) error {
	svr.mutex.Lock()
	if svr.shutdown {
		svr.mutex.Unlock()
		l.Close()
		return ErrServerClosed
	}
	svr.listener = l
	if svr.activeConn == nil {
		svr.activeConn = map[net.Conn]struct{}{}
	}
	svr.mutex.Unlock()

	svr.logger().WithField("addr", l.Addr().String()).Info("server: listening")
	for {
		conn, err := l.Accept()
		if err != nil {
			svr.mutex.Lock()
			if svr.shutdown {
				err = ErrServerClosed
			}
			svr.mutex.Unlock()
			if err != ErrServerClosed {
				svr.logger().WithError(err).Error("server: accept")
			}
			return err
		}

		entry := svr.logger().WithFields(log.Fields{
			"addr":    conn.RemoteAddr().String(),
			"session": uuid.New().String(),
		})
		entry.Info("server: connected")
		go svr.handleConn(conn, entry)
	}
}

func (svr *Server) trackConn(conn net.Conn, add bool) bool {
	svr.mutex.Lock()
	defer svr.mutex.Unlock()

	if svr.closed || (add && svr.shutdown) {
		return false
	}
	if add {
		svr.activeConn[conn] = struct{}{}
	} else {
		delete(svr.activeConn, conn)
	}
	return true
}

func (svr *Server) handleConn(conn net.Conn, entry *log.Entry) {
	atomic.AddInt32(&svr.connCount, 1)
	defer atomic.AddInt32(&svr.connCount, -1)

	if svr.trackConn(conn, true) {
		svr.serveConn(conn, entry)
		svr.trackConn(conn, false)
	}
	conn.Close()
	entry.Info("server: disconnected")
}

func (svr *Server) serveConn(conn net.Conn, entry *log.Entry) {
	ex := svr.NewExecutor()
	defer func() {
		err := ex.Close()
		if err != nil {
			entry.WithError(err).Error("server: close executor")
		}
	}()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		stmt, err := ReadFrame(r)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				entry.WithError(err).Debug("server: read frame")
			}
			return
		}

		out, err := ex.Execute(string(stmt))
		if err != nil {
			entry.WithError(err).WithField("stmt", string(stmt)).Debug("server: execute")
			err = WriteError(w, err)
		} else {
			err = WriteData(w, []byte(out))
		}
		if err != nil {
			entry.WithError(err).Error("server: write frame")
			return
		}
	}
}

// Close immediately closes the listener and all active connections.
func (svr *Server) Close() error {
	svr.mutex.Lock()
	defer svr.mutex.Unlock()

	if svr.closed {
		return nil
	}
	svr.closed = true

	var err error
	if !svr.shutdown {
		svr.shutdown = true
		if svr.listener != nil {
			err = svr.listener.Close()
		}
	}

	for conn := range svr.activeConn {
		conn.Close()
		delete(svr.activeConn, conn)
	}
	return err
}

// Shutdown stops accepting connections, lets each active connection finish the statement it
// is executing, and then waits for the connections to close. If ctx is done first, the
// server is closed and the context's error returned.
func (svr *Server) Shutdown(ctx context.Context) error {
	var err error

	svr.mutex.Lock()
	if svr.closed {
		svr.mutex.Unlock()
		return nil
	}
	if !svr.shutdown {
		svr.shutdown = true
		if svr.listener != nil {
			err = svr.listener.Close()
		}
	}
	for conn := range svr.activeConn {
		conn.SetReadDeadline(time.Now())
	}
	svr.mutex.Unlock()

	last := int32(-1)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		cc := atomic.LoadInt32(&svr.connCount)
		if cc == 0 {
			break
		}
		if cc != last {
			svr.logger().WithField("connections", cc).Info("server: waiting for connections")
			last = cc
		}

		select {
		case <-ctx.Done():
			svr.Close()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return err
}
