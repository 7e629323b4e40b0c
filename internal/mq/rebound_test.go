package mq

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/sailor/internal/domain"
)

func TestReboundExpiration(t *testing.T) {
	initial := 15 * time.Second
	want := []time.Duration{15 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second, 240 * time.Second}

	for i, w := range want {
		if got := ReboundExpiration(initial, i+1); got != w {
			t.Errorf("iteration %d: expected %v, got %v", i+1, w, got)
		}
	}
}

func TestReboundExpiration_Saturates(t *testing.T) {
	initial := 15 * time.Second

	// 15s * 2^18 ещё помещается в 32 бита миллисекунд, 15s * 2^19 уже нет.
	if got := ReboundExpiration(initial, 19); got != initial<<18 {
		t.Errorf("iteration 19: expected %v, got %v", initial<<18, got)
	}

	for _, iteration := range []int{20, 31, 32, 65, 1000} {
		got := ReboundExpiration(initial, iteration)
		if got != MaxReboundExpiration {
			t.Errorf("iteration %d: expected cap %v, got %v", iteration, MaxReboundExpiration, got)
		}
		if got.Milliseconds() <= 0 {
			t.Errorf("iteration %d: non-positive expiration %d ms", iteration, got.Milliseconds())
		}
	}

	if got := ReboundExpiration(0, 40); got != 0 {
		t.Errorf("zero initial: expected 0, got %v", got)
	}
}

func TestSendRebound_HighIterationExpirationStaysPositive(t *testing.T) {
	env := newTestEnv(t)
	env.conn.opts.ReboundLimit = 100
	original := NewDelivery(amqp.Delivery{
		DeliveryTag: 1,
		Headers:     amqp.Table{HeaderReboundIteration: int32(30)},
		Body:        []byte("encrypted-original"),
	}, nil)

	if err := env.conn.SendRebound(context.Background(), domain.NormalizeError("later"), original, amqp.Table{}); err != nil {
		t.Fatalf("send rebound: %v", err)
	}

	published := env.pub.Published()
	if len(published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(published))
	}
	want := strconv.FormatInt(MaxReboundExpiration.Milliseconds(), 10)
	if published[0].Msg.Expiration != want {
		t.Errorf("expected expiration %s, got %s", want, published[0].Msg.Expiration)
	}
}

func TestReboundIteration(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"absent", amqp.Table{}, 0},
		{"int32", amqp.Table{HeaderReboundIteration: int32(2)}, 2},
		{"int64", amqp.Table{HeaderReboundIteration: int64(4)}, 4},
		{"float", amqp.Table{HeaderReboundIteration: float64(3)}, 3},
		{"string", amqp.Table{HeaderReboundIteration: "7"}, 7},
		{"garbage", amqp.Table{HeaderReboundIteration: "x"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReboundIteration(tt.headers); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestSendRebound_NextIteration(t *testing.T) {
	env := newTestEnv(t)
	original := NewDelivery(amqp.Delivery{
		DeliveryTag: 1,
		Headers:     amqp.Table{HeaderReboundIteration: int32(2)},
		ContentType: "application/json",
		MessageId:   "m-1",
		Body:        []byte("encrypted-original"),
	}, nil)

	reason := domain.NormalizeError("try later")
	if err := env.conn.SendRebound(context.Background(), reason, original, amqp.Table{"taskId": "task1"}); err != nil {
		t.Fatalf("send rebound: %v", err)
	}

	published := env.pub.Published()
	if len(published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(published))
	}
	p := published[0]
	if p.RoutingKey != testTopology.ReboundRoutingKey {
		t.Errorf("expected rebound routing key, got %s", p.RoutingKey)
	}
	if p.Msg.Headers[HeaderReboundIteration] != 3 {
		t.Errorf("expected iteration 3, got %v", p.Msg.Headers[HeaderReboundIteration])
	}
	if p.Msg.Expiration != "60000" {
		t.Errorf("expected expiration 60000, got %s", p.Msg.Expiration)
	}
	if string(p.Msg.Body) != "encrypted-original" {
		t.Error("rebound must republish the original content unchanged")
	}
	if p.Msg.MessageId != "m-1" {
		t.Error("original properties must be preserved")
	}
	if p.Msg.Headers["taskId"] != "task1" {
		t.Error("outbound headers must be propagated")
	}
}

func TestSendRebound_FirstIteration(t *testing.T) {
	env := newTestEnv(t)
	original := NewDelivery(amqp.Delivery{DeliveryTag: 1, Body: []byte("x")}, nil)

	if err := env.conn.SendRebound(context.Background(), domain.NormalizeError("later"), original, amqp.Table{}); err != nil {
		t.Fatalf("send rebound: %v", err)
	}

	p := env.pub.Published()[0]
	if p.Msg.Headers[HeaderReboundIteration] != 1 {
		t.Errorf("expected iteration 1, got %v", p.Msg.Headers[HeaderReboundIteration])
	}
	if p.Msg.Expiration != strconv.Itoa(15000) {
		t.Errorf("expected initial expiration, got %s", p.Msg.Expiration)
	}
}

func TestSendRebound_LimitExceeded(t *testing.T) {
	env := newTestEnv(t)
	original := NewDelivery(amqp.Delivery{
		DeliveryTag: 1,
		Headers:     amqp.Table{HeaderReboundIteration: int32(5)},
		Body:        []byte("encrypted-original"),
	}, nil)

	if err := env.conn.SendRebound(context.Background(), domain.NormalizeError("later"), original, amqp.Table{}); err != nil {
		t.Fatalf("send rebound: %v", err)
	}

	published := env.pub.Published()
	if len(published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(published))
	}
	p := published[0]
	if p.RoutingKey != testTopology.ErrorRoutingKey {
		t.Fatalf("expected error routing key, got %s", p.RoutingKey)
	}

	var payload struct {
		Error      string `json:"error"`
		ErrorInput string `json:"errorInput"`
	}
	if err := json.Unmarshal(p.Msg.Body, &payload); err != nil {
		t.Fatalf("error payload is not JSON: %v", err)
	}

	var info domain.ErrorInfo
	env.decryptJSON(t, []byte(payload.Error), &info)
	if info.Message != ReboundLimitMessage {
		t.Errorf("expected %q, got %q", ReboundLimitMessage, info.Message)
	}

	input, err := env.cipher.Decrypt(payload.ErrorInput)
	if err != nil {
		t.Fatalf("decrypt errorInput: %v", err)
	}
	if input != "encrypted-original" {
		t.Errorf("errorInput must be the original content, got %q", input)
	}
}

func TestConnection_ReboundExhausted(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		headers amqp.Table
		want    bool
	}{
		{amqp.Table{}, false},
		{amqp.Table{HeaderReboundIteration: int32(4)}, false},
		{amqp.Table{HeaderReboundIteration: int32(5)}, true},
		{amqp.Table{HeaderReboundIteration: "9"}, true},
	}

	for _, tt := range tests {
		d := NewDelivery(amqp.Delivery{Headers: tt.headers}, nil)
		if got := env.conn.ReboundExhausted(d); got != tt.want {
			t.Errorf("headers %v: expected %v, got %v", tt.headers, tt.want, got)
		}
	}
}
