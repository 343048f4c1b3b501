//go:build !tinygo

package sim

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"antboard/protocol"

	"github.com/sirupsen/logrus"
)

// Executor runs one command line and returns its response line.
type Executor func(line string) string

// Serve accepts connections on ln and answers each command line through
// exec, the way the firmware answers its USB port. Commands from all
// connections are executed one at a time. Serve returns when ctx is done or
// ln fails.
func Serve(ctx context.Context, ln net.Listener, exec Executor, log logrus.FieldLogger) error {
	var execMu sync.Mutex
	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		log.WithField("remote", conn.RemoteAddr().String()).Info("client connected")

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			stop := context.AfterFunc(ctx, func() { conn.Close() })
			defer stop()

			err := serveConn(conn, func(line string) string {
				execMu.Lock()
				defer execMu.Unlock()
				return exec(line)
			})
			entry := log.WithField("remote", conn.RemoteAddr().String())
			if err != nil && !errors.Is(err, io.EOF) && ctx.Err() == nil {
				entry.WithError(err).Warn("client dropped")
				return
			}
			entry.Info("client disconnected")
		}()
	}
}

func serveConn(conn io.ReadWriter, exec Executor) error {
	lines := protocol.NewLineReader(1024)
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			lines.Feed(buf[:n])
			for {
				line, ok := lines.Next()
				if !ok {
					break
				}
				resp := exec(line)
				if resp == "" {
					continue
				}
				if _, werr := conn.Write([]byte(resp + "\r\n")); werr != nil {
					return werr
				}
			}
		}
		if err != nil {
			return err
		}
	}
}
