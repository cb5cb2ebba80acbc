package agency

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/danmuck/lotteryd/internal/protocol"
	"github.com/danmuck/lotteryd/internal/protocol/frame"
	"github.com/danmuck/lotteryd/internal/testutil/testlog"
)

type scriptedSession struct {
	batches [][]protocol.Bet
	eot     bool
	queried bool
}

// runScriptedServer acks every message and answers the winners query with
// the given count, recording what the client sent.
func runScriptedServer(t *testing.T, ln net.Listener, winners int, done chan<- scriptedSession) {
	t.Helper()
	go func() {
		var sess scriptedSession
		defer func() { done <- sess }()

		conn, err := ln.Accept()
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		limits := frame.DefaultLimits()

		for {
			fr, err := frame.ReadFrame(reader, limits)
			if err != nil {
				return
			}
			ack := frame.Frame{Sender: 0, Type: uint8(protocol.MsgAck)}
			if err := frame.WriteFrame(conn, ack, limits); err != nil {
				t.Errorf("write ack: %v", err)
				return
			}
			switch protocol.MsgType(fr.Type) {
			case protocol.MsgBet:
				bets, err := protocol.ParseBets(fr.Sender, string(fr.Payload))
				if err != nil {
					t.Errorf("parse batch: %v", err)
					return
				}
				sess.batches = append(sess.batches, bets)
			case protocol.MsgEndOfTransmission:
				sess.eot = true
			case protocol.MsgWinnersQuery:
				sess.queried = true
				resp := frame.Frame{
					Sender:  0,
					Type:    uint8(protocol.MsgWinnersResponse),
					Payload: []byte(strconv.Itoa(winners)),
				}
				if err := frame.WriteFrame(conn, resp, limits); err != nil {
					t.Errorf("write response: %v", err)
				}
				return
			}
		}
	}()
}

func writeBetsCSV(t *testing.T, rows int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bets.csv")
	data := ""
	for i := 0; i < rows; i++ {
		data += fmt.Sprintf("juan,perez,%08d,1999-03-17,%d\n", i, i)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write bets: %v", err)
	}
	return path
}

func TestClientSessionBatchesAndQueries(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan scriptedSession, 1)
	runScriptedServer(t, ln, 3, done)

	client := New(Config{
		ID:            5,
		ServerAddress: ln.Addr().String(),
		BetsPath:      writeBetsCSV(t, 25),
		BatchSize:     10,
	})
	count, err := client.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if count != 3 {
		t.Fatalf("winners = %d, want 3", count)
	}

	var sess scriptedSession
	select {
	case sess = <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("server session never finished")
	}
	if len(sess.batches) != 3 {
		t.Fatalf("expected 3 batches (10+10+5), got %d", len(sess.batches))
	}
	if len(sess.batches[0]) != 10 || len(sess.batches[2]) != 5 {
		t.Fatalf("unexpected batch sizes: %d %d %d",
			len(sess.batches[0]), len(sess.batches[1]), len(sess.batches[2]))
	}
	if !sess.eot || !sess.queried {
		t.Fatalf("session incomplete: eot=%v queried=%v", sess.eot, sess.queried)
	}
	for _, b := range sess.batches[0] {
		if b.Agency != 5 {
			t.Fatalf("agency id must come from config, got %d", b.Agency)
		}
	}
}

func TestClientEmptyBetsFileSkipsBatches(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan scriptedSession, 1)
	runScriptedServer(t, ln, 0, done)

	client := New(Config{
		ID:            1,
		ServerAddress: ln.Addr().String(),
		BetsPath:      writeBetsCSV(t, 0),
	})
	count, err := client.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if count != 0 {
		t.Fatalf("winners = %d, want 0", count)
	}
	sess := <-done
	if len(sess.batches) != 0 {
		t.Fatalf("no BET frames expected for an empty file, got %d", len(sess.batches))
	}
	if !sess.eot || !sess.queried {
		t.Fatalf("session incomplete: eot=%v queried=%v", sess.eot, sess.queried)
	}
}

func TestClientCancelUnblocksDeferredWait(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	// Server acks everything but never answers the query.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		limits := frame.DefaultLimits()
		for {
			if _, err := frame.ReadFrame(reader, limits); err != nil {
				return
			}
			ack := frame.Frame{Type: uint8(protocol.MsgAck)}
			if err := frame.WriteFrame(conn, ack, limits); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		client := New(Config{
			ID:            1,
			ServerAddress: ln.Addr().String(),
			BetsPath:      writeBetsCSV(t, 1),
		})
		_, err := client.Run(ctx)
		result <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-result:
		if err == nil {
			t.Fatalf("expected cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("client did not unblock on cancel")
	}
}
