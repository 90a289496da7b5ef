package orchestrate

import (
	"context"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
)

// ClientOptions configures the Temporal connection.
type ClientOptions struct {
	HostPort  string
	Namespace string
}

// Dial connects to the Temporal frontend, logging through zap.
func Dial(opts ClientOptions) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  opts.HostPort,
		Namespace: opts.Namespace,
		Logger:    NewLogger(zap.L().With(zap.String("component", "temporal"))),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrate: dial temporal at %s", opts.HostPort)
	}
	return c, nil
}

// NewWorker registers IngestWorkflow and acts on taskQueue.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(IngestWorkflow)
	w.RegisterActivity(acts)
	return w
}

// StartIngest starts IngestWorkflow for params on taskQueue.
func StartIngest(ctx context.Context, c client.Client, taskQueue string, params IngestParams) (client.WorkflowRun, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(params.Year, params.Quarter),
		TaskQueue: taskQueue,
	}, IngestWorkflow, params)
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrate: start ingest %d Q%d", params.Year, params.Quarter)
	}
	return run, nil
}

// Logger adapts zap to the Temporal SDK's key/value logger.
type Logger struct {
	s *zap.SugaredLogger
}

// NewLogger wraps l.
func NewLogger(l *zap.Logger) *Logger {
	return &Logger{s: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...interface{}) { l.s.Infow(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...interface{}) { l.s.Warnw(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }
