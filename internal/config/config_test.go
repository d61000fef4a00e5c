package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDev() Config {
	cfg := Defaults()
	cfg.Program.ID = solana.NewWallet().PublicKey().String()
	return cfg
}

func TestDefaultsWithProgramIDValidate(t *testing.T) {
	cfg := validDev()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.RunsServer())
	assert.False(t, cfg.RunsSettler())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Ledger.Storage = "sqlite"
	cfg.Clock.Source = "sundial"
	cfg.Notify.TelegramToken = "t"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "loud"`,
		"program: id",
		`storage must be postgres or memory, got "sqlite"`,
		`clock: source must be local or solana`,
		"telegram_token and telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateModeRequirements(t *testing.T) {
	cfg := validDev()
	cfg.Mode = "full"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keys:")
	assert.Contains(t, err.Error(), "storage memory cannot be archived")

	cfg.Keys.SettlerKey = solana.NewWallet().PrivateKey.String()
	cfg.Ledger.Storage = "postgres"
	require.NoError(t, cfg.Validate())

	cfg.Mode = "settler"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locks local are unsafe")

	cfg.Redis.Enabled = true
	cfg.Ledger.Locks = "redis"
	require.NoError(t, cfg.Validate())

	cfg.Oracle.Source = "solana"
	cfg.Oracle.Publish = true
	assert.ErrorContains(t, cfg.Validate(), "publish is only supported for source redis")
}

func TestLoadAppliesFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "predict.toml")
	programID := solana.NewWallet().PublicKey().String()
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"

[program]
id = "`+programID+`"

[settler]
interval = "750ms"

[server]
port = 9100
`), 0o600))

	t.Chdir(dir)
	t.Setenv("PREDICT_SERVER_PORT", "9200")
	t.Setenv("PREDICT_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("PREDICT_LEDGER_MAX_TX_AGE", "7")
	t.Setenv("PREDICT_REDIS_ENABLED", "not-a-bool")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, programID, cfg.Program.ID)
	assert.Equal(t, 750*time.Millisecond, cfg.Settler.Interval.Duration)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, uint64(7), cfg.Ledger.MaxTxAge)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 4, cfg.Settler.Concurrency)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validDev()
	cfg.Postgres.Password = "pw"
	cfg.Keys.SettlerKey = "secret"
	cfg.Server.APIKey = "key"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Keys.SettlerKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.S3.SecretKey)
	assert.Equal(t, "secret", cfg.Keys.SettlerKey)

	out.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
