package exporters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/config"
)

func TestParseHeaders(t *testing.T) {
	t.Run("should split key value pairs", func(t *testing.T) {
		headers, err := ParseHeaders([]string{"x-api-key=secret", " tenant = donors ", ""})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"x-api-key": "secret", "tenant": "donors"}, headers)
	})

	t.Run("should keep equals signs in the value", func(t *testing.T) {
		headers, err := ParseHeaders([]string{"authorization=Basic YWxhZGRpbjpvcGVu=="})
		require.NoError(t, err)
		assert.Equal(t, "Basic YWxhZGRpbjpvcGVu==", headers["authorization"])
	})

	t.Run("should reject a pair without a key", func(t *testing.T) {
		_, err := ParseHeaders([]string{"=value"})
		assert.Error(t, err)

		_, err = ParseHeaders([]string{"novalue"})
		assert.Error(t, err)
	})
}

func TestNewOTLPExporter(t *testing.T) {
	ctx := context.Background()
	cfg := func(protocol string) *config.Config {
		return &config.Config{
			OTLPEndpoint: "localhost:4318",
			OTLPProtocol: protocol,
			OTLPInsecure: true,
			OTLPHeaders:  []string{"tenant=donors"},
			OTLPTimeout:  time.Second,
		}
	}

	t.Run("should build an exporter for each protocol", func(t *testing.T) {
		for _, protocol := range []string{ProtocolGRPC, ProtocolHTTP, "HTTP"} {
			exporter, err := NewOTLPExporter(ctx, cfg(protocol))
			require.NoError(t, err, protocol)
			assert.NoError(t, exporter.Shutdown(ctx))
		}
	})

	t.Run("should reject an unknown protocol", func(t *testing.T) {
		_, err := NewOTLPExporter(ctx, cfg("thrift"))
		assert.ErrorContains(t, err, "thrift")
	})

	t.Run("should reject malformed headers", func(t *testing.T) {
		c := cfg(ProtocolHTTP)
		c.OTLPHeaders = []string{"broken"}
		_, err := NewOTLPExporter(ctx, c)
		assert.Error(t, err)
	})
}
