package changewire

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tuannm99/novaview/internal/engine"
)

// sendBuffer bounds per-connection backlog. A consumer that falls this far
// behind is disconnected rather than allowed to stall commits.
const sendBuffer = 256

type ServerConfig struct {
	Addr string
}

// Run listens on sc.Addr and relays committed change batches to every
// connected client until SIGINT/SIGTERM.
func Run(eng *engine.Engine, sc ServerConfig, log *zap.SugaredLogger) error {
	ln, err := net.Listen("tcp", sc.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return Serve(ctx, ln, eng, log)
}

// Serve accepts subscriber connections on ln and streams one Message frame
// per RelationChangeEvent to each. It returns once ctx is done and all
// connection goroutines have wound down.
func Serve(ctx context.Context, ln net.Listener, eng *engine.Engine, log *zap.SugaredLogger) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	defer func() { _ = ln.Close() }()

	log.Infow("changewire server listening", "addr", ln.Addr().String())

	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			log.Warnw("accept failed", "err", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			handleConn(ctx, conn, eng, log)
		}()
	}
}

func handleConn(ctx context.Context, conn net.Conn, eng *engine.Engine, log *zap.SugaredLogger) {
	defer func() { _ = conn.Close() }()

	events := make(chan engine.RelationChangeEvent, sendBuffer)
	var dropped bool
	var mu sync.Mutex

	// The handler runs synchronously on committing goroutines, so it must
	// never block on the network: buffer, and mark the consumer slow when
	// the buffer is full.
	id := eng.Subscribe(func(ev engine.RelationChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		if dropped {
			return nil
		}
		select {
		case events <- ev:
		default:
			dropped = true
		}
		return nil
	})
	defer eng.Unsubscribe(id)

	log.Infow("subscriber connected", "remote", conn.RemoteAddr().String())

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			seq++
			_ = conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if err := WriteFrame(conn, Message{Seq: seq, Event: &ev}); err != nil {
				log.Warnw("subscriber write failed", "remote", conn.RemoteAddr().String(), "err", err)
				return
			}
		}

		mu.Lock()
		wasDropped := dropped
		mu.Unlock()
		if wasDropped && len(events) == 0 {
			seq++
			_ = WriteFrame(conn, Message{Seq: seq, Error: "subscriber too slow, disconnecting"})
			log.Warnw("dropping slow subscriber", "remote", conn.RemoteAddr().String())
			return
		}
	}
}
