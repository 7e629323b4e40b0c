package sailor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/sailor/internal/apiclient"
	"github.com/shaiso/sailor/internal/component"
	"github.com/shaiso/sailor/internal/config"
	"github.com/shaiso/sailor/internal/crypto"
	"github.com/shaiso/sailor/internal/domain"
	"github.com/shaiso/sailor/internal/execution"
	"github.com/shaiso/sailor/internal/mq"
	"github.com/shaiso/sailor/internal/mq/mqtest"
)

const (
	testFlowID   = "flow1"
	testStepID   = "step_1"
	testFunction = "test_function"
	testPassword = "testCryptoPassword"
	testIV       = "iv=any16_symbols"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAPI — control-plane API и хранилище startup данных в памяти.
type fakeAPI struct {
	mu sync.Mutex

	stepData *domain.StepData
	fetchErr error

	keysErr  error
	accounts []string
	keys     []any

	startup map[string]any
	deleted []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		stepData: &domain.StepData{Config: map[string]any{}, Snapshot: map[string]any{}},
		startup:  make(map[string]any),
	}
}

func (f *fakeAPI) FetchStepData(_ context.Context, _, _ string) (*domain.StepData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.stepData, nil
}

func (f *fakeAPI) UpdateAccountKeys(_ context.Context, accountID string, keys any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keysErr != nil {
		return f.keysErr
	}
	f.accounts = append(f.accounts, accountID)
	f.keys = append(f.keys, keys)
	return nil
}

func (f *fakeAPI) CreateStartupData(_ context.Context, flowID string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startup[flowID] = data
	return nil
}

func (f *fakeAPI) GetStartupData(_ context.Context, flowID string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.startup[flowID]
	if !ok {
		return nil, &apiclient.StatusError{Method: "GET", Path: "/startup", StatusCode: 404}
	}
	return data, nil
}

func (f *fakeAPI) DeleteStartupData(_ context.Context, flowID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, flowID)
	delete(f.startup, flowID)
	return nil
}

type testEnv struct {
	sailor   *Sailor
	conn     *mq.Connection
	sub      *mqtest.Channel
	pub      *mqtest.Channel
	cipher   *crypto.Cipher
	api      *fakeAPI
	registry *component.Registry
}

func testSettings() config.Settings {
	return config.Settings{
		ListenMessagesOn:         "queue:listen",
		PublishMessageTo:         "exchange:publish",
		DataRoutingKey:           "routing:data",
		ErrorRoutingKey:          "routing:error",
		ReboundRoutingKey:        "routing:rebound",
		SnapshotRoutingKey:       "routing:snapshot",
		FlowID:                   testFlowID,
		StepID:                   testStepID,
		ExecID:                   "exec1",
		UserID:                   "user1",
		CompID:                   "comp1",
		Function:                 testFunction,
		Prefetch:                 1,
		ReboundLimit:             5,
		ReboundInitialExpiration: 15 * time.Second,
		Timeout:                  2 * time.Second,
		CryptoPassword:           testPassword,
		CryptoIV:                 testIV,
	}
}

// newTestEnv собирает Sailor поверх фейковых каналов.
// fn регистрируется под именем testFunction, если не nil.
func newTestEnv(t *testing.T, fn any, mutate func(*config.Settings)) *testEnv {
	t.Helper()

	settings := testSettings()
	if mutate != nil {
		mutate(&settings)
	}

	env := &testEnv{
		sub:      mqtest.NewChannel(),
		pub:      mqtest.NewChannel(),
		cipher:   crypto.New(settings.CryptoPassword, settings.CryptoIV),
		api:      newFakeAPI(),
		registry: component.NewRegistry(),
	}
	if fn != nil {
		env.registry.Register(testFunction, fn)
	}

	env.conn = mq.NewWithChannels(env.sub, env.pub, discardLogger(), env.cipher, mq.Options{
		Topology: mq.Topology{
			Exchange:           settings.PublishMessageTo,
			DataRoutingKey:     settings.DataRoutingKey,
			ErrorRoutingKey:    settings.ErrorRoutingKey,
			ReboundRoutingKey:  settings.ReboundRoutingKey,
			SnapshotRoutingKey: settings.SnapshotRoutingKey,
		},
		Prefetch:                 settings.Prefetch,
		ReboundLimit:             settings.ReboundLimit,
		ReboundInitialExpiration: settings.ReboundInitialExpiration,
		OnFatal:                  func(error) {},
	})

	env.sailor = New(Config{
		Settings: settings,
		Conn:     env.conn,
		API:      env.api,
		Loader:   component.NewLoader(env.registry, nil),
		Logger:   discardLogger(),
	})

	t.Cleanup(func() { env.conn.Disconnect() })
	return env
}

func validHeaders() amqp.Table {
	return amqp.Table{
		"execId": "exec1",
		"taskId": testFlowID,
		"userId": "user1",
	}
}

// delivery собирает доставку с зашифрованным содержимым, как её отдаёт consumer.
func (e *testEnv) delivery(t *testing.T, tag uint64, msg *domain.Message, headers amqp.Table) *mq.Delivery {
	t.Helper()

	msg.EnsureHeaders()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	enc, err := e.cipher.Encrypt(string(raw))
	if err != nil {
		t.Fatalf("encrypt message: %v", err)
	}

	return mq.NewDelivery(amqp.Delivery{
		DeliveryTag:     tag,
		ContentType:     "application/json",
		ContentEncoding: "utf8",
		Headers:         headers,
		Body:            []byte(enc),
	}, msg)
}

// process обрабатывает сообщение и ждёт всех публикаций.
func (e *testEnv) process(t *testing.T, d *mq.Delivery) error {
	t.Helper()

	err := e.sailor.ProcessMessage(context.Background(), d)
	waitSailor(t, e.sailor)
	return err
}

func waitSailor(t *testing.T, s *Sailor) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("sailor did not finish background work")
	}
}

// decrypt расшифровывает тело публикации в v.
func (e *testEnv) decrypt(t *testing.T, body []byte, v any) {
	t.Helper()

	plain, err := e.cipher.Decrypt(string(body))
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if err := json.Unmarshal([]byte(plain), v); err != nil {
		t.Fatalf("unmarshal %q: %v", plain, err)
	}
}

// byKey возвращает публикации с routing key key.
func byKey(published []mqtest.Publish, key string) []mqtest.Publish {
	var out []mqtest.Publish
	for _, p := range published {
		if p.RoutingKey == key {
			out = append(out, p)
		}
	}
	return out
}

// hookedFunction — функция компонента со всеми hooks.
type hookedFunction struct {
	mu sync.Mutex

	initCalls    int
	initCfg      map[string]any
	startupCalls int
	startupData  any
	shutdownData any
	hookErr      error
}

func (h *hookedFunction) Process(_ context.Context, _ execution.Emitter, _ *domain.Message, _, _ map[string]any) (any, error) {
	return nil, nil
}

func (h *hookedFunction) Init(_ context.Context, cfg map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initCalls++
	h.initCfg = cfg
	return h.hookErr
}

func (h *hookedFunction) Startup(_ context.Context, _ map[string]any) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.startupCalls++
	if h.hookErr != nil {
		return nil, h.hookErr
	}
	return h.startupData, nil
}

func (h *hookedFunction) Shutdown(_ context.Context, _ map[string]any, data any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdownData = data
	return h.hookErr
}

var errBoom = errors.New("boom")
