package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindDeviceWithoutPoPWorksOutsideProduction(t *testing.T) {
	t.Setenv("SPACEPANDA_ENV", "development")
	authority, master := newTestAuthority(t)

	device, err := NewDeviceKey()
	require.NoError(t, err)

	cert, err := authority.BindDeviceWithoutPoP(device.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, device.ID(), cert.DeviceID)
	require.NoError(t, cert.Verify(master.PublicKey()))
}

func TestBindDeviceWithoutPoPRefusesInProduction(t *testing.T) {
	t.Setenv("SPACEPANDA_ENV", "production")
	authority, _ := newTestAuthority(t)

	device, err := NewDeviceKey()
	require.NoError(t, err)

	_, err = authority.BindDeviceWithoutPoP(device.PublicKey())
	assert.Error(t, err)
}
