package pkg

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadUserIP(t *testing.T) {
	// X-Real-Ip
	req, err := http.NewRequest("GET", "/", nil)
	require.NoError(t, err)
	req.Header.Add("X-Real-Ip", "10.0.0.10")
	userIp, err := ReadUserIP(req)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.10", userIp)

	// X-Forwarded-For, first hop
	req, err = http.NewRequest("GET", "/", nil)
	require.NoError(t, err)
	req.Header.Set("X-Forwarded-For", "10.0.0.11, 10.0.0.1")
	userIp, err = ReadUserIP(req)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.11", userIp)

	// remote addr with port
	req, err = http.NewRequest("GET", "/", nil)
	require.NoError(t, err)
	req.RemoteAddr = "192.168.1.5:53211"
	userIp, err = ReadUserIP(req)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.5", userIp)

	// headers empty
	req, err = http.NewRequest("GET", "/", nil)
	require.NoError(t, err)
	_, err = ReadUserIP(req)
	require.EqualError(t, err, "ip addr  is invalid")
}
