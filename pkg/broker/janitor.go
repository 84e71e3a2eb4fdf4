package broker

import (
	"context"
	"time"

	"github.com/grapeassist/assist/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Janitor runs periodic housekeeping jobs: connection liveness
// checks and session expiry.
type Janitor struct {
	cron *cron.Cron
	log  *logger.Logger
}

func NewJanitor(log *logger.Logger) *Janitor {
	cl := cronLogger{log}
	return &Janitor{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log: log,
	}
}

// Every schedules the job with a fixed delay between runs.
// The delays shorter than a second are rounded up to a second.
func (j *Janitor) Every(interval time.Duration, name string, job func()) {
	id := j.cron.Schedule(cron.Every(interval), cron.FuncJob(job))
	j.log.Debug().Str("job", name).Int("id", int(id)).Dur("every", interval).Msg("scheduled")
}

// Liveness schedules ping sweeps over the gateway connections.
func (j *Janitor) Liveness(g *Gateway, interval time.Duration) {
	j.Every(interval, "liveness", func() {
		if n := g.sweepLiveness(); n > 0 {
			j.log.Info().Int("dropped", n).Msg("liveness sweep")
		}
	})
}

// Reaper schedules removal of the sessions that outlived ttl.
func (j *Janitor) Reaper(r *Registry, interval, ttl time.Duration) {
	j.Every(interval, "reaper", func() {
		if n := r.Sweep(ttl); n > 0 {
			j.log.Info().Int("expired", n).Msg("session sweep")
		}
	})
}

func (j *Janitor) Run() { j.cron.Start() }

func (j *Janitor) Shutdown(ctx context.Context) error {
	select {
	case <-j.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Janitor) String() string { return "janitor" }

// cronLogger routes cron messages into zerolog.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
