package kolog

import (
	"sync"
	"time"
)

// processorBuilder constructs one processor variant from its params block.
type processorBuilder func(params map[string]any) (Processor, error)

// rendererBuilder constructs one renderer variant from its params block.
type rendererBuilder func(params map[string]any) (Renderer, error)

// handlerBuilder constructs one handler variant from its params block plus
// the already-built renderer and processor chain.
type handlerBuilder func(params map[string]any, renderer Renderer, processors []Processor) (Handler, error)

// The variant registries. The discriminator is checked exactly once, here,
// when a config block is turned into a concrete value.
var (
	processorBuilders = map[string]processorBuilder{
		ProcessorTypeAddCallsiteParams:  buildCallsiteParams,
		ProcessorTypeAddContextDefaults: buildContextDefaults,
		ProcessorTypeDictTracebacks:     buildDictTracebacks,
		ProcessorTypeFilterByLevel:      buildFilterByLevel,
		ProcessorTypeFilterKeys:         buildFilterKeys,
		ProcessorTypeFilterMarkup:       buildFilterMarkup,
	}

	rendererBuilders = map[string]rendererBuilder{
		RendererTypeFilePlain:     buildPlainRenderer,
		RendererTypeFileJSON:      buildJSONRenderer,
		RendererTypeStreamPlain:   buildPlainRenderer,
		RendererTypeStreamColored: buildColoredRenderer,
		RendererTypeStreamJSON:    buildJSONRenderer,
	}

	handlerBuilders = map[string]handlerBuilder{
		HandlerTypeNull:         buildNullHandler,
		HandlerTypeStream:       buildStreamHandler,
		HandlerTypeFile:         buildFileHandler,
		HandlerTypeRotatingFile: buildRotatingFileHandler,
	}
)

// Factory assembles bound loggers and their handlers from configuration and
// wires the handlers into the Manager's registry. Loggers are cached by name:
// asking twice returns the same instance. All loggers built by one Factory
// share one Manager.
type Factory struct {
	config  *Config
	manager *Manager

	mu      sync.Mutex
	loggers map[string]*Logger

	diag *diagLog
}

// NewFactory builds a factory over a parsed configuration and a Manager.
// Factory assembly steps are traced to the diagnostic log at diagPath; an
// empty diagPath disables the trace.
func NewFactory(config *Config, manager *Manager, diagPath string) (*Factory, error) {
	var diag *diagLog
	if diagPath != "" {
		var err error
		if diag, err = newDiagLog(diagPath); err != nil {
			return nil, err
		}
	}
	f := &Factory{
		config:  config,
		manager: manager,
		loggers: make(map[string]*Logger),
		diag:    diag,
	}
	f.diag.Debug("successfully initialized logger factory", nil)
	return f, nil
}

// GetLogger returns the cached logger for a name, building it from its
// configuration block on first use. A name absent from the configuration is
// a configuration error.
func (f *Factory) GetLogger(name string) (*Logger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if logger, ok := f.loggers[name]; ok {
		return logger, nil
	}

	cfg, ok := f.config.LoggerNamed(name)
	if !ok {
		return nil, NewConfigurationError(
			"logger `"+name+"` not found in configuration", "Factory", nil)
	}
	f.diag.Debug("found logger config", Fields{"name": cfg.Name})

	logger, err := f.buildLogger(cfg)
	if err != nil {
		return nil, err
	}
	f.loggers[name] = logger
	return logger, nil
}

// LoggerFromConfig builds an uncached logger from an explicit configuration
// block, bypassing the factory's config lookup.
func (f *Factory) LoggerFromConfig(cfg LoggerConfig) (*Logger, error) {
	return f.buildLogger(cfg)
}

// Close releases the diagnostic log. The Manager and its handlers are owned
// by the caller and stay untouched.
func (f *Factory) Close() error {
	return f.diag.Close()
}

// buildLogger creates the handlers, registers them with the Manager under
// the logger's name, builds the logger-level processor chain and binds the
// configured initial context.
func (f *Factory) buildLogger(cfg LoggerConfig) (*Logger, error) {
	for _, hc := range cfg.Handlers {
		handler, err := f.buildHandler(hc)
		if err != nil {
			return nil, NewFactoryError(
				"failed to create logger `"+cfg.Name+"`", "Factory", err)
		}
		f.manager.RegisterHandler(cfg.Name, handler)
	}

	processors := make([]Processor, 0, len(cfg.Processors)+1)
	if cfg.Level > LevelNotset {
		processors = append(processors, FilterByLevel(cfg.Level))
	}
	for _, pc := range cfg.Processors {
		proc, err := f.buildProcessor(pc)
		if err != nil {
			return nil, NewFactoryError(
				"failed to create logger `"+cfg.Name+"`", "Factory", err)
		}
		processors = append(processors, proc)
	}

	logger := NewLogger(NewQueueLogger(cfg.Name, f.manager), processors, nil)
	f.diag.Debug("created logger", Fields{"name": cfg.Name})

	if len(cfg.Context) > 0 {
		initial := make(Fields, len(cfg.Context))
		for k, v := range cfg.Context {
			initial[k] = v
		}
		logger = logger.Bind(initial)
		f.diag.Debug("bound initial context to logger",
			Fields{"name": cfg.Name, "context": cfg.Context})
	}
	return logger, nil
}

func (f *Factory) buildProcessor(cfg ProcessorConfig) (Processor, error) {
	builder, ok := processorBuilders[cfg.Type]
	if !ok {
		return nil, NewProcessorError(
			"unknown processor type `"+cfg.Type+"`", "Factory", nil).
			WithCategory(CategoryConfiguration)
	}
	proc, err := builder(cfg.Params)
	if err != nil {
		return nil, err
	}
	f.diag.Debug("created processor", Fields{"type": cfg.Type})
	return proc, nil
}

func (f *Factory) buildRenderer(cfg RendererConfig) (Renderer, error) {
	builder, ok := rendererBuilders[cfg.Type]
	if !ok {
		return nil, NewProcessorError(
			"unknown renderer type `"+cfg.Type+"`", "Factory", nil).
			WithCategory(CategoryConfiguration)
	}
	renderer, err := builder(cfg.Params)
	if err != nil {
		return nil, err
	}
	f.diag.Debug("created renderer", Fields{"type": cfg.Type})
	return renderer, nil
}

func (f *Factory) buildHandler(cfg HandlerConfig) (Handler, error) {
	processors := make([]Processor, 0, len(cfg.Processors))
	for _, pc := range cfg.Processors {
		proc, err := f.buildProcessor(pc)
		if err != nil {
			return nil, NewHandlerError(
				"failed to create handler of type `"+cfg.Type+"`", "Factory", err).
				WithCategory(CategoryConfiguration)
		}
		processors = append(processors, proc)
	}

	renderer, err := f.buildRenderer(cfg.Renderer)
	if err != nil {
		return nil, NewHandlerError(
			"failed to create handler of type `"+cfg.Type+"`", "Factory", err).
			WithCategory(CategoryConfiguration)
	}

	builder, ok := handlerBuilders[cfg.Type]
	if !ok {
		return nil, NewHandlerError(
			"unknown handler type `"+cfg.Type+"`", "Factory", nil).
			WithCategory(CategoryConfiguration)
	}
	handler, err := builder(cfg.Params, renderer, processors)
	if err != nil {
		return nil, err
	}
	f.diag.Debug("created handler", Fields{"type": cfg.Type})
	return handler, nil
}

// ---------------------------------------------------------------------------
// Variant builders
// ---------------------------------------------------------------------------

func buildCallsiteParams(params map[string]any) (Processor, error) {
	keep, err := paramStringSlice(params, "parameters")
	if err != nil {
		return nil, err
	}
	return CallsiteParams(keep), nil
}

func buildContextDefaults(params map[string]any) (Processor, error) {
	raw, err := paramStringMap(params, "defaults")
	if err != nil {
		return nil, err
	}
	defaults := make(map[string]any, len(raw))
	for k, v := range raw {
		defaults[k] = v
	}
	return ContextDefaults(defaults), nil
}

func buildDictTracebacks(map[string]any) (Processor, error) {
	return ErrorDetails(), nil
}

func buildFilterByLevel(params map[string]any) (Processor, error) {
	min, err := paramLevel(params, "min_level", LevelInfo)
	if err != nil {
		return nil, err
	}
	return FilterByLevel(min), nil
}

func buildFilterKeys(params map[string]any) (Processor, error) {
	remove, err := paramStringSlice(params, "keys_to_remove")
	if err != nil {
		return nil, err
	}
	return FilterKeys(remove), nil
}

func buildFilterMarkup(map[string]any) (Processor, error) {
	return FilterMarkup(), nil
}

// rendererCommon pulls the layout options every renderer variant shares.
func rendererCommon(params map[string]any) (layout, datefmt string, min Level, err error) {
	if layout, err = paramString(params, "fmt", DefaultLayout); err != nil {
		return "", "", LevelNotset, err
	}
	if datefmt, err = paramString(params, "datefmt", DefaultDateFmt); err != nil {
		return "", "", LevelNotset, err
	}
	if min, err = paramLevel(params, "level", LevelNotset); err != nil {
		return "", "", LevelNotset, err
	}
	return layout, datefmt, min, nil
}

func buildPlainRenderer(params map[string]any) (Renderer, error) {
	layout, datefmt, min, err := rendererCommon(params)
	if err != nil {
		return nil, err
	}
	return PlainRenderer(layout, datefmt, min), nil
}

func buildJSONRenderer(params map[string]any) (Renderer, error) {
	layout, datefmt, min, err := rendererCommon(params)
	if err != nil {
		return nil, err
	}
	indent, err := paramInt(params, "indentation", 2)
	if err != nil {
		return nil, err
	}
	sortKeys, err := paramBool(params, "sort_keys", false)
	if err != nil {
		return nil, err
	}
	return JSONRenderer(layout, datefmt, min, int(indent), sortKeys), nil
}

func buildColoredRenderer(params map[string]any) (Renderer, error) {
	layout, datefmt, min, err := rendererCommon(params)
	if err != nil {
		return nil, err
	}
	noColor, err := paramBool(params, "no_color", false)
	if err != nil {
		return nil, err
	}
	return ColoredRenderer(layout, datefmt, min, noColor), nil
}

func buildNullHandler(_ map[string]any, renderer Renderer, processors []Processor) (Handler, error) {
	return NewNullHandler(renderer, processors), nil
}

func buildStreamHandler(params map[string]any, renderer Renderer, processors []Processor) (Handler, error) {
	useStderr, err := paramBool(params, "use_stderr", false)
	if err != nil {
		return nil, err
	}
	return NewStreamHandler(renderer, processors, useStderr), nil
}

func buildFileHandler(params map[string]any, renderer Renderer, processors []Processor) (Handler, error) {
	filename, err := paramString(params, "filename", "")
	if err != nil {
		return nil, err
	}
	if filename == "" {
		return nil, NewConfigurationError(
			"file handler requires a filename", "Factory", nil)
	}
	mode, err := paramString(params, "mode", string(ModeTruncate))
	if err != nil {
		return nil, err
	}
	override, err := paramBool(params, "override_existing", true)
	if err != nil {
		return nil, err
	}
	return NewFileHandler(renderer, processors, filename, FileMode(mode), override)
}

func buildRotatingFileHandler(params map[string]any, renderer Renderer, processors []Processor) (Handler, error) {
	filename, err := paramString(params, "filename", "")
	if err != nil {
		return nil, err
	}
	if filename == "" {
		return nil, NewConfigurationError(
			"rotating file handler requires a filename", "Factory", nil)
	}
	mode, err := paramString(params, "mode", string(ModeAppend))
	if err != nil {
		return nil, err
	}
	maxBytes, err := paramInt(params, "max_bytes", 0)
	if err != nil {
		return nil, err
	}
	backupCount, err := paramInt(params, "backup_count", 0)
	if err != nil {
		return nil, err
	}
	intervalSec, err := paramInt(params, "rotation_interval", 0)
	if err != nil {
		return nil, err
	}
	return NewRotatingFileHandler(renderer, processors, filename, FileMode(mode),
		maxBytes, int(backupCount), time.Duration(intervalSec)*time.Second)
}
