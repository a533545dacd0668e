package process

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

func testProcess(out *bytes.Buffer) (*Process, *int) {
	code := -1
	return &Process{
		Kind:   "worker",
		Config: &config.Config{App: config.AppConfig{Env: "test"}},
		Logger: logger.New(logger.Options{ServiceName: "worker", Output: out}),
		exit:   func(c int) { code = c },
	}, &code
}

func TestCloseRunsInReverseOrder(t *testing.T) {
	var out bytes.Buffer
	p, _ := testProcess(&out)
	var order []string
	p.OnClose("database", func() error { order = append(order, "database"); return nil })
	p.OnClose("redis", func() error { order = append(order, "redis"); return errors.New("already closed") })

	p.Close()
	p.Close()

	assert.Equal(t, []string{"redis", "database"}, order, "closers run once, newest first")
	assert.Contains(t, out.String(), `"resource":"redis"`)
}

func TestMustExitsAfterClosing(t *testing.T) {
	var out bytes.Buffer
	p, code := testProcess(&out)
	closed := false
	p.OnClose("database", func() error { closed = true; return nil })

	p.Must("redis", nil)
	assert.Equal(t, -1, *code)

	p.Must("redis", errors.New("connection refused"))
	assert.Equal(t, 1, *code)
	assert.True(t, closed)
	assert.Contains(t, out.String(), "failed to start redis")
}

func TestFinishTreatsCancellationAsClean(t *testing.T) {
	var out bytes.Buffer
	p, code := testProcess(&out)

	p.Finish(context.Background(), context.Canceled)
	assert.Equal(t, -1, *code)
	assert.Contains(t, out.String(), "worker shutting down gracefully")

	p.Finish(context.Background(), errors.New("subscription deleted"))
	assert.Equal(t, 1, *code)
}

func TestContextCarriesProcessFields(t *testing.T) {
	t.Setenv("STOREFRONT_INSTANCE_ID", "worker-3")
	var out bytes.Buffer
	p, _ := testProcess(&out)

	ctx, stop := p.Context()
	defer stop()
	p.Logger.Info(ctx, "ready")

	require.Contains(t, out.String(), `"instanceId":"worker-3"`)
	assert.Contains(t, out.String(), `"env":"test"`)
	assert.Contains(t, out.String(), `"serviceKind":"worker"`)
}
