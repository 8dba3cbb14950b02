package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"hm-binrpc/message"
)

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, payload, qos, retained})
	return f.err
}

func TestPublishEvent(t *testing.T) {
	fp := &fakePublisher{}
	p := NewEventPublisher(fp, Topics{Prefix: "home/hm"}, 1, nil)

	p.OnEvent(message.NewCall("event",
		message.String("hmbridge-BidCos-RF"), message.String("ABC1234567:1"),
		message.String("LEVEL"), message.Double(0.75)))

	if len(fp.msgs) != 1 {
		t.Fatalf("expect 1 publish, got %d", len(fp.msgs))
	}
	m := fp.msgs[0]
	if m.topic != "home/hm/event/ABC1234567:1/LEVEL" {
		t.Fatalf("unexpected topic %s", m.topic)
	}
	if m.qos != 1 || !m.retained {
		t.Fatalf("expect retained qos 1, got qos %d retained %v", m.qos, m.retained)
	}

	var got eventPayload
	if err := json.Unmarshal(m.payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.InterfaceID != "hmbridge-BidCos-RF" || got.Datapoint != "LEVEL" || got.Value != 0.75 {
		t.Fatalf("unexpected payload %s", m.payload)
	}
}

func TestPublishMulticall(t *testing.T) {
	fp := &fakePublisher{}
	p := NewEventPublisher(fp, Topics{}, 0, nil)

	p.OnEvent(message.NewCall("system.multicall", message.Array{
		message.Struct{"methodName": message.String("event"), "params": message.Array{
			message.String("i"), message.String("A:1"), message.String("STATE"), message.Bool(true)}},
		message.Struct{"methodName": message.String("event"), "params": message.Array{
			message.String("i"), message.String("A:2"), message.String("STATE"), message.Bool(false)}},
	}))

	if len(fp.msgs) != 2 {
		t.Fatalf("expect 2 publishes, got %d", len(fp.msgs))
	}
	if fp.msgs[1].topic != "hmbridge/event/A:2/STATE" {
		t.Fatalf("unexpected topic %s", fp.msgs[1].topic)
	}
}

func TestPublishOtherCallback(t *testing.T) {
	fp := &fakePublisher{}
	p := NewEventPublisher(fp, Topics{Prefix: "hm/"}, 0, nil)

	p.OnEvent(message.NewCall("newDevices", message.String("i"), message.Array{
		message.Struct{"ADDRESS": message.String("ABC1234567")},
	}))

	if len(fp.msgs) != 1 {
		t.Fatalf("expect 1 publish, got %d", len(fp.msgs))
	}
	m := fp.msgs[0]
	if m.topic != "hm/callback/newDevices" || m.retained {
		t.Fatalf("unexpected publish %s retained=%v", m.topic, m.retained)
	}
	var env struct {
		Method string `json:"method"`
		Params []any  `json:"params"`
	}
	if err := json.Unmarshal(m.payload, &env); err != nil {
		t.Fatal(err)
	}
	if env.Method != "newDevices" || len(env.Params) != 2 {
		t.Fatalf("unexpected payload %s", m.payload)
	}
}

func TestPublishErrorDoesNotPanic(t *testing.T) {
	fp := &fakePublisher{err: errors.New("broker down")}
	p := NewEventPublisher(fp, Topics{}, 0, nil)
	p.OnEvent(message.NewCall("event",
		message.String("i"), message.String("A:1"), message.String("STATE"), message.Bool(true)))
	if len(fp.msgs) != 1 {
		t.Fatalf("expect 1 publish attempt, got %d", len(fp.msgs))
	}
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "hm"}
	cases := []struct{ got, want string }{
		{topics.Status(), "hm/status"},
		{topics.Event("*GRP:1", "LEVEL"), "hm/event/*GRP:1/LEVEL"},
		{topics.Event("a/b", "x#"), "hm/event/a_b/x_"},
		{topics.Callback("system.listMethods"), "hm/callback/system.listMethods"},
		{Topics{}.Status(), "hmbridge/status"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("expect %s, got %s", tc.want, tc.got)
		}
	}
}
