package order

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"investpay/pkg/logger"
)

// Sweeper runs SweepExpired on a cron schedule such as "@every 1m".
type Sweeper struct {
	cron    *cron.Cron
	service *Service
	logger  logger.Logger
	timeout time.Duration
}

func NewSweeper(service *Service, schedule string, log logger.Logger) (*Sweeper, error) {
	cl := cronLogger{log: log}
	s := &Sweeper{
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		service: service,
		logger:  log,
		timeout: 30 * time.Second,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("Order expiry sweeper started", nil)
}

// Stop halts scheduling and returns a context done when running sweeps end.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.service.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("Order expiry sweep failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if n > 0 {
		s.logger.Info("Expired stale orders", map[string]interface{}{"count": n})
	}
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, fields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	f := fields(keysAndValues)
	f["error"] = err.Error()
	l.log.Error(msg, f)
}

func fields(kv []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			out[key] = kv[i+1]
		}
	}
	return out
}
