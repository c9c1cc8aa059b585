package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type flakyService struct {
	runs    atomic.Int32
	failFor int32
}

func (f *flakyService) Serve(ctx context.Context) error {
	if f.runs.Add(1) <= f.failFor {
		return errors.New("boom")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *flakyService) String() string {
	return "flaky"
}

func TestTree_RestartsFailedService(t *testing.T) {
	tree := NewTree(TreeConfig{FailureBackoff: 10 * time.Millisecond, ShutdownTimeout: time.Second})
	svc := &flakyService{failFor: 2}
	tree.AddStorageService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool { return svc.runs.Load() >= 3 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}
}

type fakeHTTPServer struct {
	stop chan struct{}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	close(f.stop)
	return nil
}

func TestHTTPService_ShutsDownOnCancel(t *testing.T) {
	svc := NewHTTPService(&fakeHTTPServer{stop: make(chan struct{})}, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("http service did not stop")
	}
	assert.Equal(t, "http-server", svc.String())
}

func TestGRPCService_ServesUntilCancel(t *testing.T) {
	svc := NewGRPCService(grpc.NewServer(), "127.0.0.1:0", time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("grpc service did not stop")
	}
}

func TestGRPCService_ListenFailure(t *testing.T) {
	svc := NewGRPCService(grpc.NewServer(), "256.0.0.1:bad", time.Second)
	err := svc.Serve(context.Background())
	require.Error(t, err)
}
