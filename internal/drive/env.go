package drive

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ez-Support/swd-ros-controllers/internal/metrics"
	"github.com/ez-Support/swd-ros-controllers/internal/motor"
)

// AuditLogger records controller actions.
type AuditLogger interface {
	LogAction(ctx context.Context, action, wheel, result string, latency time.Duration)
}

// SystemActor is reported for actions the loop takes on its own.
const SystemActor = "system"

type actorKey struct{}

// WithActor tags ctx with the principal that submits a command.
func WithActor(ctx context.Context, actor string) context.Context {
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the principal tagged on ctx, or SystemActor.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}

// Env carries what the loop components share besides the channels.
type Env struct {
	CallTimeout time.Duration
	Logger      *zap.SugaredLogger
	Metrics     *metrics.Metrics
	Publisher   Publisher
	Audit       AuditLogger
	Now         func() time.Time
}

func (e *Env) withDefaults() {
	if e.CallTimeout <= 0 {
		e.CallTimeout = 100 * time.Millisecond
	}
	if e.Logger == nil {
		e.Logger = zap.NewNop().Sugar()
	}
	if e.Publisher == nil {
		e.Publisher = nopPublisher{}
	}
	if e.Now == nil {
		e.Now = time.Now
	}
}

// callCtx bounds a single motor call.
func (e *Env) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.CallTimeout)
}

// fault logs a failed motor call, counts it and publishes a fault event.
func (e *Env) fault(ch motor.Channel, op string, err error, message string) {
	code := motor.Code(err)
	e.Logger.Warnw(message, "wheel", ch.Name(), "op", op, "code", code, "error", err)
	e.Metrics.MotorError(ch.Name(), op, code)

	ev := Event{
		Type:      EventFault,
		Timestamp: e.Now(),
		Wheel:     ch.Name(),
		Code:      code,
		Message:   message,
		Data:      map[string]interface{}{"op": op, "error": err.Error()},
	}
	if perr := e.Publisher.PublishEvent(ev); perr != nil {
		// a failed fault event is not reported as another fault
		e.Logger.Debugw("failed to publish fault event", "error", perr)
	}
}

func (e *Env) audit(ctx context.Context, action, wheel, result string, latency time.Duration) {
	if e.Audit != nil {
		e.Audit.LogAction(ctx, action, wheel, result, latency)
	}
}

func (e *Env) event(ev Event) {
	ev.Timestamp = e.Now()
	if err := e.Publisher.PublishEvent(ev); err != nil {
		e.Logger.Warnw("failed to publish event", "type", ev.Type, "error", err)
	}
}
