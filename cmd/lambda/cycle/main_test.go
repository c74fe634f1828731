package main

import (
	"testing"
)

func TestGetDeps_RequiresEnv(t *testing.T) {
	t.Setenv("TABLE_NAME", "")
	t.Setenv("AWS_REGION", "")

	// The package-level sync.Once cannot be reset, so only check that the
	// handler compiles. Cycle behaviour is covered in internal/supervisor
	// and internal/lambda.
	_ = handler
}
