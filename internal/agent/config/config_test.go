package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealUnsealRoundTrip(t *testing.T) {
	sealed, err := Seal("super-secret-token")
	require.NoError(t, err)
	require.True(t, IsSealed(sealed))
	require.NotContains(t, sealed, "super-secret")

	plain, err := Unseal(sealed)
	require.NoError(t, err)
	require.Equal(t, "super-secret-token", plain)
}

func TestUnsealPassthroughPlaintext(t *testing.T) {
	plain, err := Unseal("not-sealed")
	require.NoError(t, err)
	require.Equal(t, "not-sealed", plain)
}

func TestUnsealRejectsGarbage(t *testing.T) {
	_, err := Unseal("enc:!!!not-base64!!!")
	require.Error(t, err)
	_, err = Unseal("enc:AAAA")
	require.Error(t, err)
}

func TestSaveLoadSealsSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := &Config{
		Token:            "bearer-token",
		Relay:            "ws://relay.example:4810",
		Name:             "First Church",
		SwitcherIP:       "10.0.0.20",
		StreamerPassword: "hunter2",
		Watchdog:         true,
		VideoRouters:     []RouterConfig{{Host: "10.0.0.30", Port: 9990}},
		Mixer:            &MixerConfig{Type: "behringer", Host: "10.0.0.40"},
	}
	require.NoError(t, cfg.Save(path))

	// On disk the secrets are envelopes, not plaintext.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "bearer-token")
	require.NotContains(t, string(raw), "hunter2")
	require.Contains(t, string(raw), `"enc:`)
	require.Contains(t, string(raw), "10.0.0.20") // non-sensitive stays plain

	loaded, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, "bearer-token", loaded.Token)
	require.Equal(t, "hunter2", loaded.StreamerPassword)
	require.Equal(t, "behringer", loaded.Mixer.Type)
	require.Len(t, loaded.VideoRouters, 1)
	require.Equal(t, 5000, loaded.PreviewIntervalMS, "default applied")
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"), nil)
	require.NoError(t, err)
	require.Empty(t, cfg.Token)
	require.Error(t, cfg.Validate())
}

func TestOverridesWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := &Config{Token: "tok", Relay: "ws://a", Name: "Old Name"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path, map[string]any{"name": "New Name", "switcherIp": "10.0.0.99"})
	require.NoError(t, err)
	require.Equal(t, "New Name", loaded.Name)
	require.Equal(t, "10.0.0.99", loaded.SwitcherIP)
	require.Equal(t, "ws://a", loaded.Relay)
	require.NoError(t, loaded.Validate())
}
