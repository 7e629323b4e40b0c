package mq

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/sailor/internal/crypto"
	"github.com/shaiso/sailor/internal/mq/mqtest"
)

const (
	testPassword = "testCryptoPassword"
	testIV       = "iv=any16_symbols"
)

var testTopology = Topology{
	Exchange:           "exchange:publish",
	DataRoutingKey:     "routing:data",
	ErrorRoutingKey:    "routing:error",
	ReboundRoutingKey:  "routing:rebound",
	SnapshotRoutingKey: "routing:snapshot",
}

type testEnv struct {
	conn   *Connection
	sub    *mqtest.Channel
	pub    *mqtest.Channel
	cipher *crypto.Cipher
	fatal  chan error
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		sub:    mqtest.NewChannel(),
		pub:    mqtest.NewChannel(),
		cipher: crypto.New(testPassword, testIV),
		fatal:  make(chan error, 4),
	}
	env.conn = NewWithChannels(env.sub, env.pub, discardLogger(), env.cipher, Options{
		Topology:                 testTopology,
		Prefetch:                 1,
		ReboundLimit:             5,
		ReboundInitialExpiration: 15 * time.Second,
		OnFatal:                  func(err error) { env.fatal <- err },
	})
	t.Cleanup(func() { env.conn.Disconnect() })
	return env
}

// encryptedDelivery собирает доставку с зашифрованным JSON payload.
func (e *testEnv) encryptedDelivery(t *testing.T, tag uint64, payload any, headers amqp.Table) amqp.Delivery {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	enc, err := e.cipher.Encrypt(string(raw))
	if err != nil {
		t.Fatalf("encrypt payload: %v", err)
	}

	return amqp.Delivery{
		DeliveryTag:     tag,
		ContentType:     "application/json",
		ContentEncoding: "utf8",
		Headers:         headers,
		Body:            []byte(enc),
	}
}

// decryptJSON расшифровывает тело публикации в v.
func (e *testEnv) decryptJSON(t *testing.T, body []byte, v any) {
	t.Helper()

	plain, err := e.cipher.Decrypt(string(body))
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if err := json.Unmarshal([]byte(plain), v); err != nil {
		t.Fatalf("unmarshal %q: %v", plain, err)
	}
}
