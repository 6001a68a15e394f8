//go:build integration
// +build integration

package util

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// WaitMongoReady polls a ping inside container until mongod answers.
func WaitMongoReady(ctx context.Context, container string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ready := exec.CommandContext(ctx, "docker", "exec", container,
			"mongosh", "--quiet", "--eval", "db.adminCommand({ping: 1}).ok")
		if err := ready.Run(); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s did not become ready", container)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// Eval runs a mongosh expression inside container and returns its output.
func Eval(ctx context.Context, container, expr string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", "exec", container,
		"mongosh", "--quiet", "--eval", expr)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("mongosh eval: %w", err)
	}
	return string(out), nil
}
