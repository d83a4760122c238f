package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remedyrun/remedy/pkg/filestore"
	"github.com/remedyrun/remedy/pkg/remediation"
)

func TestServer_StartServeShutdown(t *testing.T) {
	store := filestore.New(t.TempDir())
	srv := New(ServerConfig{ListenAddr: "127.0.0.1:0", MaxACUPerSess: 5}, store, remediation.DefaultServiceWeights(),
		func(string, remediation.DataSource, int) (int, error) { return 1, nil }, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, time.Second, 10*time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://%s/runs", srv.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, <-errCh)
	require.NoError(t, srv.Shutdown(context.Background()))
}
