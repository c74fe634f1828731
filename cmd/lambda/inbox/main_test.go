package main

import (
	"testing"
)

func TestGetDeps_RequiresEnv(t *testing.T) {
	t.Setenv("TABLE_NAME", "")
	t.Setenv("AWS_REGION", "")

	// Webhook handling is tested in internal/lambda.
	_ = handler
}
