package server

import (
	"errors"
	"net"
	"reflect"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"hm-binrpc/codec"
	"hm-binrpc/message"
)

func newCodec(t *testing.T) *codec.BinaryCodec {
	t.Helper()
	bc, err := codec.NewBinaryCodec(codec.DefaultCharset)
	if err != nil {
		t.Fatal(err)
	}
	return bc
}

func startServer(t *testing.T, l EventListener, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithListenHost("127.0.0.1"), WithShutdownGrace(time.Second)}, opts...)
	svr := NewServer(l, newCodec(t), nil, opts...)
	if err := svr.Start(0); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(svr.Shutdown)
	return svr
}

func dial(t *testing.T, svr *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(svr.Port())))
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func eventCall(address, datapoint string, v message.Value) *message.RPCMessage {
	return message.NewCall("event",
		message.String("hmbridge-BidCos-RF"), message.String(address), message.String(datapoint), v)
}

func channelListener() (EventListener, chan *message.RPCMessage) {
	ch := make(chan *message.RPCMessage, 16)
	return EventListenerFunc(func(msg *message.RPCMessage) { ch <- msg }), ch
}

func waitEvent(t *testing.T, ch chan *message.RPCMessage) *message.RPCMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

// 写入一个事件帧后关闭连接，OnEvent 恰好被调用一次
func TestEventDeliveredOnce(t *testing.T) {
	l, ch := channelListener()
	svr := startServer(t, l)
	bc := newCodec(t)

	conn := dial(t, svr)
	sent := eventCall("ABC1234567:1", "STATE", message.Bool(true))
	if err := bc.WriteMessage(conn, sent); err != nil {
		t.Fatal(err)
	}
	conn.Close()

	got := waitEvent(t, ch)
	if !reflect.DeepEqual(got, sent) {
		t.Fatalf("expect %v, got %v", sent, got)
	}

	select {
	case extra := <-ch:
		t.Fatalf("expect exactly one event, got another: %v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCallbackReply(t *testing.T) {
	l, _ := channelListener()
	svr := startServer(t, l)
	bc := newCodec(t)

	multicall := message.NewCall("system.multicall", message.Array{
		message.Struct{"methodName": message.String("event"), "params": message.Array{
			message.String("x"), message.String("A:1"), message.String("STATE"), message.Bool(true)}},
		message.Struct{"methodName": message.String("event"), "params": message.Array{
			message.String("x"), message.String("A:1"), message.String("LEVEL"), message.Double(0.5)}},
	})

	cases := []struct {
		name string
		call *message.RPCMessage
		want func(message.Value) bool
	}{
		{"event", eventCall("A:1", "STATE", message.Bool(true)), func(v message.Value) bool {
			return v == message.String("")
		}},
		{"listDevices", message.NewCall("listDevices", message.String("x")), func(v message.Value) bool {
			a, ok := message.AsArray(v)
			return ok && len(a) == 0
		}},
		{"listMethods", message.NewCall("system.listMethods"), func(v message.Value) bool {
			a, ok := message.AsArray(v)
			if !ok {
				return false
			}
			for _, m := range a {
				if m == message.String("event") {
					return true
				}
			}
			return false
		}},
		{"multicall", multicall, func(v message.Value) bool {
			a, ok := message.AsArray(v)
			return ok && len(a) == 2 && a[0] == message.String("") && a[1] == message.String("")
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := dial(t, svr)
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(2 * time.Second))

			if err := bc.WriteMessage(conn, tc.call); err != nil {
				t.Fatal(err)
			}
			resp, err := bc.ReadMessage(conn)
			if err != nil {
				t.Fatal(err)
			}
			if resp.Kind != message.KindResponse || !tc.want(resp.Result) {
				t.Fatalf("unexpected reply %v", resp)
			}
		})
	}
}

func TestGarbageDoesNotStopServer(t *testing.T) {
	l, ch := channelListener()
	svr := startServer(t, l)
	bc := newCodec(t)

	junk := dial(t, svr)
	junk.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	junk.Close()

	truncated := dial(t, svr)
	truncated.Write([]byte{'B', 'i', 'n', 0x00, 0, 0, 0, 100, 0})
	truncated.Close()

	conn := dial(t, svr)
	if err := bc.WriteMessage(conn, eventCall("ABC1234567:1", "LEVEL", message.Double(1))); err != nil {
		t.Fatal(err)
	}
	conn.Close()

	got := waitEvent(t, ch)
	if got.Method != "event" {
		t.Fatalf("expect event, got %v", got)
	}
}

func TestListenerPanicIsolated(t *testing.T) {
	var calls atomic.Int32
	ch := make(chan struct{}, 4)
	l := EventListenerFunc(func(msg *message.RPCMessage) {
		if calls.Add(1) == 1 {
			panic("listener bug")
		}
		ch <- struct{}{}
	})
	svr := startServer(t, l)
	bc := newCodec(t)

	for i := 0; i < 2; i++ {
		conn := dial(t, svr)
		if err := bc.WriteMessage(conn, eventCall("ABC1234567:1", "STATE", message.Bool(true))); err != nil {
			t.Fatal(err)
		}
		bc.ReadMessage(conn) // wait for the reply so the events stay ordered
		conn.Close()
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("second event not delivered after listener panic")
	}
}

func TestShutdownIdempotent(t *testing.T) {
	l, _ := channelListener()
	svr := startServer(t, l)
	port := svr.Port()

	svr.Shutdown()
	svr.Shutdown()

	if _, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 200*time.Millisecond); err == nil {
		t.Fatal("expect connection refused after shutdown")
	}
	if err := svr.Start(0); !errors.Is(err, ErrServerClosed) {
		t.Fatalf("expect ErrServerClosed, got %v", err)
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	l, _ := channelListener()
	svr := NewServer(l, newCodec(t), nil)
	svr.Shutdown()
	if svr.Addr() != nil {
		t.Fatal("expect nil address")
	}
}

func TestStartTwice(t *testing.T) {
	l, _ := channelListener()
	svr := startServer(t, l)
	if err := svr.Start(0); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expect ErrAlreadyStarted, got %v", err)
	}
}

func TestStartPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	l, _ := channelListener()
	svr := NewServer(l, newCodec(t), nil, WithListenHost("127.0.0.1"))
	if err := svr.Start(port); err == nil {
		t.Fatal("expect bind error")
	}
	svr.Shutdown() // safe after a failed start
}

func TestShutdownClosesIdleConnections(t *testing.T) {
	l, ch := channelListener()
	svr := startServer(t, l, WithReadTimeout(time.Minute))

	conn := dial(t, svr)
	defer conn.Close()
	time.Sleep(50 * time.Millisecond) // let the server accept it

	start := time.Now()
	svr.Shutdown()
	if d := time.Since(start); d > 500*time.Millisecond {
		t.Fatalf("expect shutdown to force-close idle connections, took %s", d)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("expect the connection to be closed")
	}
	select {
	case msg := <-ch:
		t.Fatalf("unexpected event %v", msg)
	default:
	}
}

func TestParseEvents(t *testing.T) {
	single := eventCall("ABC1234567:1", "STATE", message.Bool(true))
	got := ParseEvents(single)
	want := []Event{{InterfaceID: "hmbridge-BidCos-RF", Address: "ABC1234567:1", Datapoint: "STATE", Value: message.Bool(true)}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expect %v, got %v", want, got)
	}

	multi := message.NewCall("system.multicall", message.Array{
		message.Struct{"methodName": message.String("event"), "params": message.Array{
			message.String("i"), message.String("A:1"), message.String("LEVEL"), message.Double(0.25)}},
		message.Struct{"methodName": message.String("newDevices"), "params": message.Array{}},
		message.Struct{"methodName": message.String("event"), "params": message.Array{
			message.String("i"), message.String("A:2"), message.String("STATE")}}, // too short
		message.Int(3),
	})
	got = ParseEvents(multi)
	want = []Event{{InterfaceID: "i", Address: "A:1", Datapoint: "LEVEL", Value: message.Double(0.25)}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expect %v, got %v", want, got)
	}

	if evs := ParseEvents(message.NewCall("newDevices", message.String("i"), message.Array{})); len(evs) != 0 {
		t.Fatalf("expect no events, got %v", evs)
	}
	if evs := ParseEvents(message.NewResponse(message.String(""))); len(evs) != 0 {
		t.Fatalf("expect no events for a response, got %v", evs)
	}
}
