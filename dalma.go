package dalma

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/dalma/internal/config"
	"github.com/petrijr/dalma/internal/engine"
	"github.com/petrijr/dalma/internal/persistence"
	"github.com/petrijr/dalma/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine            = api.Engine
	Conversation      = api.Conversation
	Fiber             = api.Fiber
	Routine           = api.Routine
	Condition         = api.Condition
	Base              = api.Base
	OrCondition       = api.OrCondition
	Manual            = api.Manual
	Generator         = api.Generator
	EndPoint          = api.EndPoint
	EndPointRef       = api.EndPointRef
	ConversationRef   = api.ConversationRef
	EngineRef         = api.EngineRef
	Executor          = api.Executor
	FiberState        = api.FiberState
	ConversationState = api.ConversationState
	ConversationError = api.ConversationError
	PanicError        = api.PanicError

	Sequence          = api.Sequence
	Scope             = api.Scope
	StepFunc          = api.StepFunc
	StepDefinition    = api.StepDefinition
	ProgramDefinition = api.ProgramDefinition
	RetryPolicy       = api.RetryPolicy

	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	Store        = persistence.Store
	EngineConfig = engine.Config
	Config       = config.Config
)

var (
	Or                   = api.Or
	NewManual            = api.NewManual
	Run                  = api.Run
	RefTo                = api.RefTo
	RefToConversation    = api.RefToConversation
	RefToEngine          = api.RefToEngine
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

const (
	FiberRunnable = api.FiberRunnable
	FiberRunning  = api.FiberRunning
	FiberWaiting  = api.FiberWaiting
	FiberEnded    = api.FiberEnded

	ConversationRunning   = api.ConversationRunning
	ConversationRunnable  = api.ConversationRunnable
	ConversationSuspended = api.ConversationSuspended
	ConversationEnded     = api.ConversationEnded
)

var (
	ErrAlreadyActive     = api.ErrAlreadyActive
	ErrNoConditions      = api.ErrNoConditions
	ErrEngineStopped     = api.ErrEngineStopped
	ErrConversationEnded = api.ErrConversationEnded
	ErrUnknownProgram    = api.ErrUnknownProgram
	ErrUnresolvedMoniker = api.ErrUnresolvedMoniker
	ErrJoinFromFiber     = api.ErrJoinFromFiber
)

// NewEngine creates an engine over cfg.Store and loads the conversations
// stored in it. Most programs use Open instead.
func NewEngine(ctx context.Context, cfg EngineConfig) (Engine, error) {
	return engine.New(ctx, cfg)
}

// Store constructors.
// These wrap the internal/persistence package so external callers
// never need to import internal packages.

// NewFileStore returns the default store: one directory per conversation
// under root.
func NewFileStore(root string) (Store, error) {
	s, err := persistence.NewFileStore(root)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewInMemoryStore returns a store that lives as long as the process.
func NewInMemoryStore() Store {
	return persistence.NewInMemoryStore()
}

// NewSQLiteStore returns a store in a SQLite database.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (Store, error) {
	s, err := persistence.NewSQLiteStore(ctx, db)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewPostgresStore returns a store in a PostgreSQL database.
func NewPostgresStore(ctx context.Context, db *sql.DB) (Store, error) {
	s, err := persistence.NewPostgresStore(ctx, db)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewRedisStore returns a store whose keys start with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) Store {
	return persistence.NewRedisStore(client, prefix)
}

// NewMongoStore returns a store in the given MongoDB collection.
func NewMongoStore(client *mongo.Client, database, collection string) Store {
	return persistence.NewMongoStore(client, database, collection)
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads a YAML configuration file, applies DALMA_*
// environment overrides and validates the result.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}
