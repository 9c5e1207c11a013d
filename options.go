package rotor

// Option configures an Engine with optional dependencies.
type Option func(*engineOptions)

// engineOptions holds optional Engine configuration.
type engineOptions struct {
	hooks   *Hooks
	metrics MetricsCollector
	logger  Logger
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewEngine
//
// Example:
//
//	hooks := &rotor.Hooks{
//	    OnAssigned: func(ctx context.Context, itemID, workerID string, source rotor.AssignmentSource) error {
//	        return notifyDashboard(itemID, workerID)
//	    },
//	}
//	eng, err := rotor.NewEngine(&cfg, conn, docs, rotor.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *engineOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Example:
//
//	collector := metrics.NewPrometheus("shop")
//	eng, err := rotor.NewEngine(&cfg, conn, docs, rotor.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *engineOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Example:
//
//	logger := logging.NewSlog(slog.Default())
//	eng, err := rotor.NewEngine(&cfg, conn, docs, rotor.WithLogger(logger))
func WithLogger(logger Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}
