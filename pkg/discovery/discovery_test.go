package discovery

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/example/storefront/pkg/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistry_RegisterAndDeregister(t *testing.T) {
	endpoints := os.Getenv("STOREFRONT_TEST_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("STOREFRONT_TEST_ETCD_ENDPOINTS not set")
	}
	cfg := &config.EtcdConfig{
		Endpoints:     strings.Split(endpoints, ","),
		DialTimeout:   5 * time.Second,
		ServicePrefix: "/storefront-test/" + uuid.NewString() + "/",
		LeaseTTL:      10,
	}
	r, err := NewRegistry(cfg, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inst := Instance{Name: "storefront", Address: "10.0.0.7:8080"}
	require.NoError(t, r.Register(ctx, inst))

	got, err := r.Instances(ctx, "storefront")
	require.NoError(t, err)
	assert.Equal(t, []Instance{inst}, got)

	require.NoError(t, r.Deregister(ctx, inst))
	got, err = r.Instances(ctx, "storefront")
	require.NoError(t, err)
	assert.Empty(t, got)
}
