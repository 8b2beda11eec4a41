package exchanges

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/goexec/internal/venue"
	"github.com/betbot/goexec/pkg/config"
	"github.com/betbot/goexec/pkg/secretstore"
)

func TestNewBuildsEachKind(t *testing.T) {
	creds := config.Credentials{APIKey: "k", SecretKey: "s", Passphrase: "p"}
	venues := []config.VenueConfig{
		{Name: "okx", Credentials: creds},
		{Name: "binance-spot", Kind: config.KindBinance, Credentials: creds},
		{Name: "gate", Credentials: creds},
		{Name: "sim", Kind: config.KindPaper},
	}

	reg, err := venue.NewRegistry()
	require.NoError(t, err)
	for _, v := range venues {
		a, err := New(v)
		require.NoError(t, err, v.Name)
		assert.Equal(t, v.Name, a.Name())
		require.NoError(t, reg.Register(a))
	}
	assert.Equal(t, []string{"binance-spot", "gate", "okx", "sim"}, reg.Names())
}

func TestNewRejectsUnsupportedKinds(t *testing.T) {
	for _, kind := range []string{config.KindDydx, config.KindHyperliquid, config.KindSerum} {
		_, err := New(config.VenueConfig{Name: kind})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not supported")
	}

	_, err := New(config.VenueConfig{Name: "x", Kind: "kraken"})
	require.Error(t, err)
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(config.VenueConfig{Name: "okx"})
	require.Error(t, err)
	assert.True(t, NeedsCredentials(config.KindGate))
	assert.False(t, NeedsCredentials(config.KindPaper))
}

type memStore map[string]config.Credentials

func (m memStore) GetJSON(key string, out any) (bool, error) {
	c, ok := m[key]
	if !ok {
		return false, nil
	}
	b, _ := json.Marshal(c)
	return true, json.Unmarshal(b, out)
}

type brokenStore struct{}

func (brokenStore) GetJSON(string, any) (bool, error) { return false, errors.New("disk gone") }

func TestBuildMergesStoredCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.VenueTimeout = time.Second
	cfg.Venues = []config.VenueConfig{
		{Name: "okx", Credentials: config.Credentials{APIKey: "from-yaml"}},
		{Name: "paper", Kind: config.KindPaper},
	}

	_, err := Build(cfg, nil)
	require.Error(t, err, "okx has no secret without the store")

	store := memStore{
		secretstore.CredentialsKey("okx"): {APIKey: "from-store", SecretKey: "s", Passphrase: "p"},
	}
	reg, err := Build(cfg, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"okx", "paper"}, reg.Names())

	a, ok := reg.Get("paper")
	require.True(t, ok)
	assert.Equal(t, "paper", a.Name())

	_, err = Build(cfg, brokenStore{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestBuildRejectsUnsupportedVenue(t *testing.T) {
	cfg := config.Default()
	cfg.Venues = []config.VenueConfig{{Name: "hyperliquid"}}
	_, err := Build(cfg, nil)
	require.Error(t, err)
}
