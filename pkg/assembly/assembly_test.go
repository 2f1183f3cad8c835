package assembly

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpcore/agentrt/pkg/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		Port: 0,
		Models: config.ModelsConfig{
			Providers: map[string]config.ProviderConfig{
				"local": {
					AdapterType: "custom",
					Endpoint:    "http://localhost:9999",
					Models:      []config.AdvertisedModel{{Type: "llm", Name: "fake-llm"}},
				},
			},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func TestNew_WiresAllRequiredCapabilities(t *testing.T) {
	rt, err := New(testConfig(), WithPrometheusRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NotNil(t, rt)

	for _, id := range requiredIDs() {
		assert.NotEmpty(t, id)
	}
	assert.NoError(t, verify(rt.Bus, requiredIDs()))
}

func TestNew_RejectsUnknownAdapterType(t *testing.T) {
	cfg := testConfig()
	p := cfg.Models.Providers["local"]
	p.AdapterType = "does-not-exist"
	cfg.Models.Providers["local"] = p

	_, err := New(cfg, WithPrometheusRegisterer(prometheus.NewRegistry()))
	assert.Error(t, err)
}

func TestVerify_ReportsMissingCapability(t *testing.T) {
	rt, err := New(testConfig(), WithPrometheusRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	err = verify(rt.Bus, append(requiredIDs(), "no:such:capability"))
	assert.Error(t, err)
}

func TestNew_ToleratesUnreadableCustomCACertificate(t *testing.T) {
	cfg := testConfig()
	p := cfg.Models.Providers["local"]
	p.CACertificate = "/does/not/exist.pem"
	cfg.Models.Providers["local"] = p

	_, err := New(cfg, WithPrometheusRegisterer(prometheus.NewRegistry()))
	assert.NoError(t, err, "WithTLSConfig logs a warning and falls back rather than failing adapter construction")
}
