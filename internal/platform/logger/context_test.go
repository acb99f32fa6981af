package logger

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	base := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("request", "r-1")

	ctx := WithContext(context.Background(), base)
	assert.Equal(t, base, FromContext(ctx))
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))
}
