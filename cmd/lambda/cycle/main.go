// cycle Lambda runs one monitoring cycle over every enabled target.
// Invoked by an EventBridge schedule, normally once a day.
package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	awslambda "github.com/aws/aws-lambda-go/lambda"

	"github.com/dwsmith1983/runwarden/internal/app"
	intlambda "github.com/dwsmith1983/runwarden/internal/lambda"
)

var (
	deps     *app.App
	depsOnce sync.Once
	depsErr  error
)

func getDeps() (*app.App, error) {
	depsOnce.Do(func() {
		deps, depsErr = intlambda.Init(context.Background())
	})
	return deps, depsErr
}

func handler(ctx context.Context, event events.EventBridgeEvent) (intlambda.CycleResult, error) {
	d, err := getDeps()
	if err != nil {
		return intlambda.CycleResult{}, err
	}
	d.Logger.Info("cycle triggered", "source", event.Source, "id", event.ID)
	return intlambda.HandleCycle(ctx, d.Supervisor, d.Logger)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	awslambda.Start(handler)
}
