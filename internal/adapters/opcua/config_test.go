package opcua

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Endpoint: "opc.tcp://localhost:4840"}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "None", cfg.SecurityMode)
	assert.Equal(t, "None", cfg.SecurityPolicy)
	assert.Equal(t, "uabridge", cfg.ApplicationName)
	require.NotNil(t, cfg.AutoReconnect)
	assert.True(t, *cfg.AutoReconnect)
	assert.Equal(t, 10*time.Second, cfg.DialTimeout)
	assert.False(t, cfg.EndpointMustExist)
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]Config{
		"missing endpoint":   {},
		"wrong scheme":       {Endpoint: "http://localhost:4840"},
		"secure without pki": {Endpoint: "opc.tcp://localhost:4840", SecurityMode: "SignAndEncrypt"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			cfg.ApplyDefaults()
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNormalizeSecurityMode(t *testing.T) {
	assert.Equal(t, "Sign", normalizeSecurityMode("sign"))
	assert.Equal(t, "SignAndEncrypt", normalizeSecurityMode("sign+encrypt"))
	assert.Equal(t, "None", normalizeSecurityMode("whatever"))
}

func TestNewDialerAssignsApplicationURI(t *testing.T) {
	d, err := NewDialer(Config{Endpoint: "opc.tcp://localhost:4840"}, nil)
	require.NoError(t, err)
	assert.Contains(t, d.cfg.ApplicationURI, "urn:uabridge:")
	assert.NotEmpty(t, d.buildClientOptions())
}
