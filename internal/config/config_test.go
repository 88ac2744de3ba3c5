package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fredcast.yaml")
	yml := `
database:
  driver: postgres
  dsn: postgres://localhost/fred?sslmode=disable
logging:
  level: debug
pipeline:
  series_ids: [A, B, C]
  classification:
    A: step
    B: smooth
  groups:
    - name: g1
      series_ids: [A, B]
      start: "2020-01-01"
      steps: 10
  max_lags: 5
  seasons: 4
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	t.Setenv("FREDCAST_LOGGING_LEVEL", "warn")
	t.Setenv("FREDCAST_FRED_TIMEOUT", "5s")
	t.Setenv("FREDCAST_FRED_API_KEY", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.Fred.Timeout)
	assert.Equal(t, "secret", cfg.Fred.APIKey)
	assert.Equal(t, 8080, cfg.Server.Port, "untouched default survives")
	assert.Equal(t, 5, cfg.Pipeline.MaxLags)
	require.Len(t, cfg.Pipeline.Groups, 1)
	assert.Equal(t, "g1", cfg.Pipeline.Groups[0].Name)

	assert.Equal(t, Step, cfg.Pipeline.StrategyFor("A"))
	assert.Equal(t, Untransformed, cfg.Pipeline.StrategyFor("C"))
}

func TestLoad_FallbackAPIKey(t *testing.T) {
	t.Setenv("FREDCAST_FRED_API_KEY", "")
	t.Setenv("FRED_API_KEY", "from-original-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-original-env", cfg.Fred.APIKey)
	assert.NoError(t, cfg.RequireAPIKey())
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"bad driver":         func(c *Config) { c.Database.Driver = "mysql" },
		"bad strategy":       func(c *Config) { c.Pipeline.Classification["SP500"] = "linear" },
		"zero steps":         func(c *Config) { c.Pipeline.Groups[0].Steps = 0 },
		"uncollected series": func(c *Config) { c.Pipeline.Groups[0].SeriesIDs = []string{"NOPE"} },
		"duplicate group":    func(c *Config) { c.Pipeline.Groups[1].Name = c.Pipeline.Groups[0].Name },
		"inverted range": func(c *Config) {
			c.Pipeline.Groups[0].Start = "2024-01-01"
			c.Pipeline.Groups[0].End = "2023-01-01"
		},
		"bad date": func(c *Config) { c.Pipeline.Groups[0].Start = "01/01/2024" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSeriesByStrategy(t *testing.T) {
	p := DefaultPipeline()
	by := p.SeriesByStrategy()

	assert.Equal(t, []string{"USREC"}, by[Step])
	assert.Equal(t, []string{"INFECTDISEMVTRACKD"}, by[Untransformed])
	assert.Len(t, by[Smooth], 15)
	assert.Empty(t, by[Accumulating])
}
