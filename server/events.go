package server

import (
	"hm-binrpc/message"
)

// EventListener receives every call the gateway pushes to the callback
// listener. OnEvent runs on the connection's goroutine and may be called
// concurrently.
type EventListener interface {
	OnEvent(msg *message.RPCMessage)
}

// EventListenerFunc adapts a function to EventListener.
type EventListenerFunc func(msg *message.RPCMessage)

func (f EventListenerFunc) OnEvent(msg *message.RPCMessage) {
	f(msg)
}

// SupportedMethods is the answer to system.listMethods.
var SupportedMethods = []string{
	"event",
	"listDevices",
	"newDevices",
	"deleteDevices",
	"updateDevice",
	"readdedDevice",
	"replaceDevice",
	"system.listMethods",
	"system.multicall",
}

// Reply builds the response the gateway expects for a callback call.
func Reply(call *message.RPCMessage) message.Value {
	switch call.Method {
	case "system.listMethods":
		names := make(message.Array, len(SupportedMethods))
		for i, m := range SupportedMethods {
			names[i] = message.String(m)
		}
		return names
	case "listDevices":
		// the bridge keeps no device list; the gateway then announces all devices
		return message.Array{}
	case "system.multicall":
		calls, _ := firstArray(call.Args)
		results := make(message.Array, len(calls))
		for i := range calls {
			results[i] = message.String("")
		}
		return results
	}
	return message.String("")
}

// Event is a single datapoint change pushed by the gateway.
type Event struct {
	InterfaceID string
	Address     string
	Datapoint   string
	Value       message.Value
}

// ParseEvents flattens an "event" call, or the "event" calls inside a
// system.multicall, into datapoint events. Other calls and malformed
// arguments yield nothing.
func ParseEvents(msg *message.RPCMessage) []Event {
	if msg == nil || msg.Kind != message.KindCall {
		return nil
	}
	switch msg.Method {
	case "event":
		if ev, ok := eventFromArgs(msg.Args); ok {
			return []Event{ev}
		}
	case "system.multicall":
		calls, _ := firstArray(msg.Args)
		var events []Event
		for _, c := range calls {
			st, ok := message.AsStruct(c)
			if !ok {
				continue
			}
			if name, _ := message.AsString(st["methodName"]); name != "event" {
				continue
			}
			params, _ := message.AsArray(st["params"])
			if ev, ok := eventFromArgs(params); ok {
				events = append(events, ev)
			}
		}
		return events
	}
	return nil
}

func eventFromArgs(args []message.Value) (Event, bool) {
	if len(args) != 4 {
		return Event{}, false
	}
	iface, ok1 := message.AsString(args[0])
	addr, ok2 := message.AsString(args[1])
	dp, ok3 := message.AsString(args[2])
	if !ok1 || !ok2 || !ok3 {
		return Event{}, false
	}
	return Event{InterfaceID: iface, Address: addr, Datapoint: dp, Value: args[3]}, true
}

func firstArray(args []message.Value) (message.Array, bool) {
	if len(args) == 0 {
		return nil, false
	}
	return message.AsArray(args[0])
}
