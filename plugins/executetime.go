package plugins

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kulezi/clusterdriver/plugin"
)

// ExecuteTimePlugin is execute's counterpart to ConnectTimePlugin: a
// telemetry-only plugin timing every query/exec call through the pipeline.
type ExecuteTimePlugin struct {
	plugin.NopPlugin
	log *zap.Logger
}

func NewExecuteTimePlugin(log *zap.Logger) *ExecuteTimePlugin {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExecuteTimePlugin{log: log}
}

func (p *ExecuteTimePlugin) Code() string { return "executeTime" }

func (p *ExecuteTimePlugin) GetSubscribedMethods() map[string]struct{} {
	return plugin.Subscribes(plugin.MethodExecute)
}

func (p *ExecuteTimePlugin) Execute(ctx context.Context, args plugin.ExecuteArgs, next plugin.ExecuteFunc) (plugin.ExecuteResult, error) {
	start := time.Now()
	result, err := next(ctx, args)
	p.log.Debug("executeTime", zap.String("sql", args.Query.SQL), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
	return result, err
}
