package opcua

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint          string        `yaml:"endpoint"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	SecurityMode      string        `yaml:"security_mode"`
	SecurityPolicy    string        `yaml:"security_policy"`
	CertificateFile   string        `yaml:"certificate_file"`
	PrivateKeyFile    string        `yaml:"private_key_file"`
	ApplicationName   string        `yaml:"application_name"`
	ApplicationURI    string        `yaml:"application_uri"`
	EndpointMustExist bool          `yaml:"endpoint_must_exist"`
	AutoReconnect     *bool         `yaml:"auto_reconnect"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	SessionTimeout    time.Duration `yaml:"session_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "uabridge"
	}
	if c.AutoReconnect == nil {
		on := true
		c.AutoReconnect = &on
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 20 * time.Minute
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if !strings.HasPrefix(strings.ToLower(c.Endpoint), "opc.tcp://") {
		return fmt.Errorf("endpoint %q must use the opc.tcp scheme", c.Endpoint)
	}
	if normalizeSecurityMode(c.SecurityMode) != "None" && (c.CertificateFile == "" || c.PrivateKeyFile == "") {
		return fmt.Errorf("security mode %s requires certificate_file and private_key_file", c.SecurityMode)
	}
	return nil
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}
