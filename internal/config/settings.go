// Package config загружает настройки sailor из переменных окружения.
//
// Settings резолвятся один раз при старте и дальше только читаются.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ErrMissingEnv — не заданы обязательные переменные окружения.
var ErrMissingEnv = errors.New("required environment variables are missing")

// Settings — неизменяемая конфигурация процесса.
type Settings struct {
	// AMQP
	AMQPURI          string
	ListenMessagesOn string
	PublishMessageTo string

	// Routing keys
	DataRoutingKey     string
	ErrorRoutingKey    string
	ReboundRoutingKey  string
	SnapshotRoutingKey string

	// Идентификаторы шага
	FlowID      string
	StepID      string
	ExecID      string
	UserID      string
	CompID      string
	Function    string
	WorkspaceID string
	ContainerID string

	// Control-plane API
	APIURI           string
	APIUsername      string
	APIKey           string
	APIRetryAttempts int
	APIRetryDelay    time.Duration

	// Выполнение
	Prefetch                 int
	ReboundLimit             int
	ReboundInitialExpiration time.Duration
	Timeout                  time.Duration
	StartupRequired          bool

	// Шифрование
	CryptoPassword string
	CryptoIV       string

	// Прочее
	ComponentPath     string
	StartupStateDBURL string
	HTTPPort          string
}

// environment — раскладка переменных окружения для envconfig.
type environment struct {
	AMQPURI          string `envconfig:"ELASTICIO_AMQP_URI" required:"true"`
	ListenMessagesOn string `envconfig:"ELASTICIO_LISTEN_MESSAGES_ON" required:"true"`
	PublishMessageTo string `envconfig:"ELASTICIO_PUBLISH_MESSAGES_TO" required:"true"`

	DataRoutingKey     string `envconfig:"ELASTICIO_DATA_ROUTING_KEY" required:"true"`
	ErrorRoutingKey    string `envconfig:"ELASTICIO_ERROR_ROUTING_KEY" required:"true"`
	ReboundRoutingKey  string `envconfig:"ELASTICIO_REBOUND_ROUTING_KEY" required:"true"`
	SnapshotRoutingKey string `envconfig:"ELASTICIO_SNAPSHOT_ROUTING_KEY" required:"true"`

	FlowID      string `envconfig:"ELASTICIO_FLOW_ID" required:"true"`
	StepID      string `envconfig:"ELASTICIO_STEP_ID" required:"true"`
	ExecID      string `envconfig:"ELASTICIO_EXEC_ID" required:"true"`
	UserID      string `envconfig:"ELASTICIO_USER_ID" required:"true"`
	CompID      string `envconfig:"ELASTICIO_COMP_ID" required:"true"`
	Function    string `envconfig:"ELASTICIO_FUNCTION" required:"true"`
	WorkspaceID string `envconfig:"ELASTICIO_WORKSPACE_ID"`
	ContainerID string `envconfig:"ELASTICIO_CONTAINER_ID"`

	APIURI           string `envconfig:"ELASTICIO_API_URI" required:"true"`
	APIUsername      string `envconfig:"ELASTICIO_API_USERNAME" required:"true"`
	APIKey           string `envconfig:"ELASTICIO_API_KEY" required:"true"`
	APIRetryAttempts int    `envconfig:"ELASTICIO_API_REQUEST_RETRY_ATTEMPTS" default:"3"`
	APIRetryDelay    Millis `envconfig:"ELASTICIO_API_REQUEST_RETRY_DELAY" default:"100"`

	Prefetch                 int    `envconfig:"ELASTICIO_RABBITMQ_PREFETCH_SAILOR" default:"1"`
	ReboundLimit             int    `envconfig:"ELASTICIO_REBOUND_LIMIT" default:"20"`
	ReboundInitialExpiration Millis `envconfig:"ELASTICIO_REBOUND_INITIAL_EXPIRATION" default:"15000"`
	Timeout                  Millis `envconfig:"ELASTICIO_TIMEOUT" default:"1200000"`
	StartupRequired          Flag   `envconfig:"ELASTICIO_STARTUP_REQUIRED"`

	CryptoPassword string `envconfig:"ELASTICIO_MESSAGE_CRYPTO_PASSWORD"`
	CryptoIV       string `envconfig:"ELASTICIO_MESSAGE_CRYPTO_IV"`

	ComponentPath     string `envconfig:"ELASTICIO_COMPONENT_PATH"`
	StartupStateDBURL string `envconfig:"SAILOR_STARTUP_STATE_DB_URL"`
	HTTPPort          string `envconfig:"SAILOR_HTTP_PORT" default:"8090"`
}

// Millis — длительность, заданная целым числом миллисекунд.
type Millis time.Duration

// Decode реализует envconfig.Decoder.
func (m *Millis) Decode(value string) error {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("negative duration %d", n)
	}
	*m = Millis(time.Duration(n) * time.Millisecond)
	return nil
}

// Flag — булев флаг платформы: "1", "true" или "yes".
type Flag bool

// Decode реализует envconfig.Decoder.
func (f *Flag) Decode(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		*f = true
	default:
		*f = false
	}
	return nil
}

// FromEnv читает Settings из окружения процесса.
// Все отсутствующие обязательные переменные перечисляются в одной ошибке.
func FromEnv() (Settings, error) {
	var env environment

	if missing := missingRequired(&env); len(missing) > 0 {
		return Settings{}, fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}

	if err := envconfig.Process("", &env); err != nil {
		return Settings{}, fmt.Errorf("config load failed: %w", err)
	}

	if env.Prefetch <= 0 {
		return Settings{}, fmt.Errorf("ELASTICIO_RABBITMQ_PREFETCH_SAILOR must be positive, got %d", env.Prefetch)
	}

	return env.settings(), nil
}

// requiredNames возвращает имена обязательных переменных из тегов spec.
func requiredNames(spec any) []string {
	var names []string
	t := reflect.TypeOf(spec).Elem()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Tag.Get("required") == "true" {
			names = append(names, field.Tag.Get("envconfig"))
		}
	}
	return names
}

// missingRequired возвращает отсортированные имена обязательных переменных,
// которые не заданы или пусты. envconfig останавливается на первой.
func missingRequired(spec any) []string {
	var missing []string
	for _, name := range requiredNames(spec) {
		if v, ok := os.LookupEnv(name); !ok || v == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

func (e environment) settings() Settings {
	return Settings{
		AMQPURI:          e.AMQPURI,
		ListenMessagesOn: e.ListenMessagesOn,
		PublishMessageTo: e.PublishMessageTo,

		DataRoutingKey:     e.DataRoutingKey,
		ErrorRoutingKey:    e.ErrorRoutingKey,
		ReboundRoutingKey:  e.ReboundRoutingKey,
		SnapshotRoutingKey: e.SnapshotRoutingKey,

		FlowID:      e.FlowID,
		StepID:      e.StepID,
		ExecID:      e.ExecID,
		UserID:      e.UserID,
		CompID:      e.CompID,
		Function:    e.Function,
		WorkspaceID: e.WorkspaceID,
		ContainerID: e.ContainerID,

		APIURI:           e.APIURI,
		APIUsername:      e.APIUsername,
		APIKey:           e.APIKey,
		APIRetryAttempts: e.APIRetryAttempts,
		APIRetryDelay:    time.Duration(e.APIRetryDelay),

		Prefetch:                 e.Prefetch,
		ReboundLimit:             e.ReboundLimit,
		ReboundInitialExpiration: time.Duration(e.ReboundInitialExpiration),
		Timeout:                  time.Duration(e.Timeout),
		StartupRequired:          bool(e.StartupRequired),

		CryptoPassword: e.CryptoPassword,
		CryptoIV:       e.CryptoIV,

		ComponentPath:     e.ComponentPath,
		StartupStateDBURL: e.StartupStateDBURL,
		HTTPPort:          e.HTTPPort,
	}
}
