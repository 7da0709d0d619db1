package cryptoutils

import (
	"crypto/x509"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomCert(t *testing.T) {
	cert, err := RandomCert("127.0.0.1", "registry.local")
	require.NoError(t, err)
	require.Len(t, cert.Certificate, 1)

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)

	assert.Equal(t, "esim-registry", parsed.Subject.CommonName)
	assert.Equal(t, []string{"registry.local"}, parsed.DNSNames)
	require.Len(t, parsed.IPAddresses, 1)
	assert.True(t, parsed.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")))
	assert.NoError(t, parsed.VerifyHostname("registry.local"))
	assert.True(t, parsed.NotAfter.After(parsed.NotBefore))
}
