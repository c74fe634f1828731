// inbox Lambda receives Telegram webhook updates through a Function URL and
// applies operator commands.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
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

func handler(ctx context.Context, req events.LambdaFunctionURLRequest) (events.LambdaFunctionURLResponse, error) {
	d, err := getDeps()
	if err != nil {
		return events.LambdaFunctionURLResponse{StatusCode: http.StatusInternalServerError}, err
	}
	if d.Inbox == nil {
		return events.LambdaFunctionURLResponse{StatusCode: http.StatusServiceUnavailable}, errors.New("messaging.telegram is not configured")
	}
	return intlambda.HandleWebhook(ctx, d.Inbox, os.Getenv("TELEGRAM_WEBHOOK_SECRET"), req, d.Logger), nil
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	awslambda.Start(handler)
}
