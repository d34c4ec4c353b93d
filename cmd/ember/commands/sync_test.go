package commands

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/emberchain/ember/config"
	"github.com/emberchain/ember/libs/log"
)

func TestRunSyncStopsOnContextCancel(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	conf := config.TestConfig()
	conf.SetRoot(t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- runSync(ctx, conf, log.NewTestingLogger(t))
	}()

	// with no transport the engine idles at the local head; it must still
	// wind down cleanly when the command context goes away
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sync did not stop after context cancellation")
	}
}
