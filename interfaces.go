package agenttrace

import (
	"github.com/itsneelabh/agenttrace/callbacks"
	"github.com/itsneelabh/agenttrace/core"
)

// Re-exported engine types
type (
	Handler       = callbacks.Handler
	HandlerOption = callbacks.HandlerOption
	Registry      = callbacks.Registry
	Kind          = callbacks.Kind
	LinkStore     = callbacks.LinkStore

	Event               = callbacks.Event
	Run                 = callbacks.Run
	Serialized          = callbacks.Serialized
	Message             = callbacks.Message
	Generation          = callbacks.Generation
	LLMResult           = callbacks.LLMResult
	LLMStartEvent       = callbacks.LLMStartEvent
	ChatModelStartEvent = callbacks.ChatModelStartEvent
	ChainStartEvent     = callbacks.ChainStartEvent
	ToolStartEvent      = callbacks.ToolStartEvent
	LLMEndEvent         = callbacks.LLMEndEvent
	ChainEndEvent       = callbacks.ChainEndEvent
	ToolEndEvent        = callbacks.ToolEndEvent
	ErrorEvent          = callbacks.ErrorEvent
	AgentActionEvent    = callbacks.AgentActionEvent
	AgentFinishEvent    = callbacks.AgentFinishEvent

	// Configuration types
	Config          = core.Config
	Option          = core.Option
	TelemetryConfig = core.TelemetryConfig
	CaptureConfig   = core.CaptureConfig
	LoggingConfig   = core.LoggingConfig
	IngestConfig    = core.IngestConfig
	LinkStoreConfig = core.LinkStoreConfig

	Logger = core.Logger
)

// Re-export constants
const (
	KindUnknown   = callbacks.KindUnknown
	KindLLM       = callbacks.KindLLM
	KindChatModel = callbacks.KindChatModel
	KindChain     = callbacks.KindChain
	KindTool      = callbacks.KindTool

	ExporterOTLP   = core.ExporterOTLP
	ExporterStdout = core.ExporterStdout
	ExporterNone   = core.ExporterNone
)

// Re-export core functions
var (
	NewHandler    = callbacks.NewHandler
	NewConfig     = core.NewConfig
	DefaultConfig = core.DefaultConfig

	WithServiceName    = core.WithServiceName
	WithExporter       = core.WithExporter
	WithMetrics        = core.WithMetrics
	WithContentCapture = core.WithContentCapture
	WithLogLevel       = core.WithLogLevel
	WithLogFormat      = core.WithLogFormat
	WithIngestAddress  = core.WithIngestAddress
	WithRedisLinkStore = core.WithRedisLinkStore
	WithConfigFile     = core.WithConfigFile
)
