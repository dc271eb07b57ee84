package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Helper function tests
// ---------------------------------------------------------------------------

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string // nil = don't set; pointer to distinguish "" from unset
		fallback string
		want     string
	}{
		{name: "returns fallback when unset", key: "ACPLINK_TEST_GETENV_UNSET", setVal: nil, fallback: "default", want: "default"},
		{name: "returns env value when set", key: "ACPLINK_TEST_GETENV_SET", setVal: strPtr("custom"), fallback: "default", want: "custom"},
		{name: "returns fallback when empty string", key: "ACPLINK_TEST_GETENV_EMPTY", setVal: strPtr(""), fallback: "default", want: "default"},
		{name: "preserves whitespace", key: "ACPLINK_TEST_GETENV_WS", setVal: strPtr("  spaced  "), fallback: "x", want: "  spaced  "},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got := getEnv(tc.key, tc.fallback)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback int
		want     int
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "ACPLINK_TEST_INT_UNSET", setVal: nil, fallback: 42, want: 42},
		{name: "parses valid int", key: "ACPLINK_TEST_INT_VALID", setVal: strPtr("8080"), fallback: 0, want: 8080},
		{name: "parses negative int", key: "ACPLINK_TEST_INT_NEG", setVal: strPtr("-1"), fallback: 0, want: -1},
		{name: "parses zero", key: "ACPLINK_TEST_INT_ZERO", setVal: strPtr("0"), fallback: 99, want: 0},
		{name: "returns fallback for empty string", key: "ACPLINK_TEST_INT_EMPTY", setVal: strPtr(""), fallback: 25, want: 25},
		{name: "errors on non-numeric", key: "ACPLINK_TEST_INT_NAN", setVal: strPtr("abc"), fallback: 0, wantErr: true},
		{name: "errors on float", key: "ACPLINK_TEST_INT_FLOAT", setVal: strPtr("3.14"), fallback: 0, wantErr: true},
		{name: "errors on hex", key: "ACPLINK_TEST_INT_HEX", setVal: strPtr("0xFF"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvInt(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback time.Duration
		want     time.Duration
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "ACPLINK_TEST_DUR_UNSET", setVal: nil, fallback: 5 * time.Second, want: 5 * time.Second},
		{name: "parses seconds", key: "ACPLINK_TEST_DUR_SEC", setVal: strPtr("30s"), fallback: 0, want: 30 * time.Second},
		{name: "parses minutes", key: "ACPLINK_TEST_DUR_MIN", setVal: strPtr("15m"), fallback: 0, want: 15 * time.Minute},
		{name: "parses composite", key: "ACPLINK_TEST_DUR_COMP", setVal: strPtr("1h30m"), fallback: 0, want: 90 * time.Minute},
		{name: "parses zero", key: "ACPLINK_TEST_DUR_ZERO", setVal: strPtr("0s"), fallback: 5 * time.Second, want: 0},
		{name: "errors on invalid", key: "ACPLINK_TEST_DUR_INV", setVal: strPtr("notaduration"), fallback: 0, wantErr: true},
		{name: "errors on bare number", key: "ACPLINK_TEST_DUR_BARE", setVal: strPtr("30"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvDuration(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvList(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback []string
		want     []string
	}{
		{name: "returns fallback when unset", key: "ACPLINK_TEST_LIST_UNSET", setVal: nil, fallback: []string{"a"}, want: []string{"a"}},
		{name: "splits on comma", key: "ACPLINK_TEST_LIST_SPLIT", setVal: strPtr("a,b,c"), fallback: nil, want: []string{"a", "b", "c"}},
		{name: "trims whitespace", key: "ACPLINK_TEST_LIST_WS", setVal: strPtr(" a , b "), fallback: nil, want: []string{"a", "b"}},
		{name: "drops empty entries", key: "ACPLINK_TEST_LIST_EMPTY", setVal: strPtr("a,,b,"), fallback: nil, want: []string{"a", "b"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			assert.Equal(t, tc.want, getEnvList(tc.key, tc.fallback))
		})
	}
}

// ---------------------------------------------------------------------------
// Load() error cases
// ---------------------------------------------------------------------------

func TestLoad_InvalidEnvVars(t *testing.T) {
	tests := []struct {
		name   string
		envKey string
		envVal string
		errMsg string
	}{
		// DB_PORT parse errors
		{name: "DB_PORT not a number", envKey: "ACPLINK_DB_PORT", envVal: "abc", errMsg: "ACPLINK_DB_PORT"},
		{name: "DB_PORT float", envKey: "ACPLINK_DB_PORT", envVal: "3.14", errMsg: "ACPLINK_DB_PORT"},

		// DB_MAX_CONNS
		{name: "DB_MAX_CONNS not a number", envKey: "ACPLINK_DB_MAX_CONNS", envVal: "many", errMsg: "ACPLINK_DB_MAX_CONNS"},

		// Server timeouts
		{name: "SERVER_READ_TIMEOUT invalid", envKey: "ACPLINK_SERVER_READ_TIMEOUT", envVal: "notduration", errMsg: "ACPLINK_SERVER_READ_TIMEOUT"},
		{name: "SERVER_WRITE_TIMEOUT invalid", envKey: "ACPLINK_SERVER_WRITE_TIMEOUT", envVal: "notduration", errMsg: "ACPLINK_SERVER_WRITE_TIMEOUT"},
		{name: "SERVER_READ_TIMEOUT zero", envKey: "ACPLINK_SERVER_READ_TIMEOUT", envVal: "0s", errMsg: "ACPLINK_SERVER_READ_TIMEOUT"},
		{name: "SERVER_WRITE_TIMEOUT zero", envKey: "ACPLINK_SERVER_WRITE_TIMEOUT", envVal: "0s", errMsg: "ACPLINK_SERVER_WRITE_TIMEOUT"},

		// Redis DB
		{name: "REDIS_DB not a number", envKey: "ACPLINK_REDIS_DB", envVal: "abc", errMsg: "ACPLINK_REDIS_DB"},

		// Agent reconnect settings
		{name: "RECONNECT_ATTEMPTS not a number", envKey: "ACPLINK_AGENT_RECONNECT_ATTEMPTS", envVal: "abc", errMsg: "ACPLINK_AGENT_RECONNECT_ATTEMPTS"},
		{name: "RECONNECT_ATTEMPTS negative", envKey: "ACPLINK_AGENT_RECONNECT_ATTEMPTS", envVal: "-1", errMsg: "ACPLINK_AGENT_RECONNECT_ATTEMPTS"},
		{name: "RECONNECT_DELAY invalid", envKey: "ACPLINK_AGENT_RECONNECT_DELAY", envVal: "badval", errMsg: "ACPLINK_AGENT_RECONNECT_DELAY"},
		{name: "RECONNECT_DELAY negative", envKey: "ACPLINK_AGENT_RECONNECT_DELAY", envVal: "-5s", errMsg: "ACPLINK_AGENT_RECONNECT_DELAY"},

		// Slack
		{name: "SLACK_BOT_TOKEN without channel", envKey: "ACPLINK_SLACK_BOT_TOKEN", envVal: "xoxb-test", errMsg: "ACPLINK_SLACK_CHANNEL"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.envKey, tc.envVal)

			cfg, err := Load()
			require.Error(t, err, "expected error for %s=%q", tc.envKey, tc.envVal)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestLoad_DatabaseBoundsOnlyWhenEnabled(t *testing.T) {
	t.Run("bad port rejected when host set", func(t *testing.T) {
		t.Setenv("ACPLINK_DB_HOST", "db.internal")
		t.Setenv("ACPLINK_DB_PORT", "0")

		cfg, err := Load()
		require.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "ACPLINK_DB_PORT")
	})

	t.Run("bad max conns rejected when host set", func(t *testing.T) {
		t.Setenv("ACPLINK_DB_HOST", "db.internal")
		t.Setenv("ACPLINK_DB_MAX_CONNS", "0")

		cfg, err := Load()
		require.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "ACPLINK_DB_MAX_CONNS")
	})

	t.Run("bounds skipped when database disabled", func(t *testing.T) {
		t.Setenv("ACPLINK_DB_MAX_CONNS", "0")

		cfg, err := Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Empty(t, cfg.Database.Host)
	})
}

// ---------------------------------------------------------------------------
// Load() happy paths
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Database defaults: disabled unless a host is configured.
	assert.Empty(t, cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "acplink", cfg.Database.User)
	assert.Empty(t, cfg.Database.Password)
	assert.Equal(t, "acplink_dev", cfg.Database.DBName)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 25, cfg.Database.MaxConns)

	// Redis defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Empty(t, cfg.Redis.Password)
	assert.Equal(t, 0, cfg.Redis.DB)

	// Server defaults.
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSOrigins)

	// Agent defaults.
	assert.Empty(t, cfg.Agent.WsURL)
	assert.Equal(t, "/workspace", cfg.Agent.Cwd)
	assert.Equal(t, 3, cfg.Agent.ReconnectAttempts)
	assert.Equal(t, time.Second, cfg.Agent.ReconnectDelay)

	// Slack defaults.
	assert.Empty(t, cfg.Slack.BotToken)
	assert.Empty(t, cfg.Slack.Channel)
}

func TestLoad_AllCustomValues(t *testing.T) {
	envs := map[string]string{
		// Database
		"ACPLINK_DB_HOST":      "db.prod.internal",
		"ACPLINK_DB_PORT":      "5433",
		"ACPLINK_DB_USER":      "prod_user",
		"ACPLINK_DB_PASSWORD":  "s3cret!",
		"ACPLINK_DB_NAME":      "acplink_prod",
		"ACPLINK_DB_SSLMODE":   "require",
		"ACPLINK_DB_MAX_CONNS": "50",
		// Redis
		"ACPLINK_REDIS_ADDR":     "redis.prod:6380",
		"ACPLINK_REDIS_PASSWORD": "redis-pass",
		"ACPLINK_REDIS_DB":       "3",
		// Server
		"ACPLINK_SERVER_ADDR":          ":9090",
		"ACPLINK_SERVER_READ_TIMEOUT":  "5s",
		"ACPLINK_SERVER_WRITE_TIMEOUT": "15s",
		"ACPLINK_CORS_ORIGINS":         "https://app.example.com,https://staging.example.com",
		// Agent
		"ACPLINK_AGENT_WS_URL":             "ws://agent.prod:9000/acp",
		"ACPLINK_AGENT_CWD":                "/srv/project",
		"ACPLINK_AGENT_RECONNECT_ATTEMPTS": "5",
		"ACPLINK_AGENT_RECONNECT_DELAY":    "2s",
		// Slack
		"ACPLINK_SLACK_BOT_TOKEN": "xoxb-test",
		"ACPLINK_SLACK_CHANNEL":   "C0123456789",
	}

	for k, v := range envs {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Database
	assert.Equal(t, "db.prod.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "prod_user", cfg.Database.User)
	assert.Equal(t, "s3cret!", cfg.Database.Password)
	assert.Equal(t, "acplink_prod", cfg.Database.DBName)
	assert.Equal(t, "require", cfg.Database.SSLMode)
	assert.Equal(t, 50, cfg.Database.MaxConns)

	// Redis
	assert.Equal(t, "redis.prod:6380", cfg.Redis.Addr)
	assert.Equal(t, "redis-pass", cfg.Redis.Password)
	assert.Equal(t, 3, cfg.Redis.DB)

	// Server
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"https://app.example.com", "https://staging.example.com"}, cfg.Server.CORSOrigins)

	// Agent
	assert.Equal(t, "ws://agent.prod:9000/acp", cfg.Agent.WsURL)
	assert.Equal(t, "/srv/project", cfg.Agent.Cwd)
	assert.Equal(t, 5, cfg.Agent.ReconnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.Agent.ReconnectDelay)

	// Slack
	assert.Equal(t, "xoxb-test", cfg.Slack.BotToken)
	assert.Equal(t, "C0123456789", cfg.Slack.Channel)
}

// ---------------------------------------------------------------------------
// DSN() output format
// ---------------------------------------------------------------------------

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "default dev values",
			cfg: DatabaseConfig{
				Host: "localhost", Port: 5432, User: "acplink",
				Password: "", DBName: "acplink_dev", SSLMode: "disable",
			},
			want: "host=localhost port=5432 user=acplink password= dbname=acplink_dev sslmode=disable",
		},
		{
			name: "production values",
			cfg: DatabaseConfig{
				Host: "db.prod", Port: 5433, User: "admin",
				Password: "p@ss!", DBName: "acplink_prod", SSLMode: "require",
			},
			want: "host=db.prod port=5433 user=admin password=p@ss! dbname=acplink_prod sslmode=require",
		},
		{
			name: "special characters in password",
			cfg: DatabaseConfig{
				Host: "h", Port: 1, User: "u",
				Password: "p=a&b c", DBName: "d", SSLMode: "s",
			},
			want: "host=h port=1 user=u password=p=a&b c dbname=d sslmode=s",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.cfg.DSN())
		})
	}
}

// ---------------------------------------------------------------------------
// validate() direct tests
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	t.Parallel()

	// validBase returns a Config that passes validation.
	validBase := func() *Config {
		return &Config{
			Database: DatabaseConfig{Port: 5432, MaxConns: 25},
			Server: ServerConfig{
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 30 * time.Second,
			},
			Agent: AgentConfig{
				ReconnectAttempts: 3,
				ReconnectDelay:    time.Second,
			},
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validBase().validate())
	})

	t.Run("port 0 fails when database enabled", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Database.Host = "db.internal"
		c.Database.Port = 0
		assert.ErrorContains(t, c.validate(), "ACPLINK_DB_PORT")
	})

	t.Run("port 65536 fails when database enabled", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Database.Host = "db.internal"
		c.Database.Port = 65536
		assert.ErrorContains(t, c.validate(), "ACPLINK_DB_PORT")
	})

	t.Run("port bounds ignored when database disabled", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Database.Port = 0
		assert.NoError(t, c.validate())
	})

	t.Run("MaxConns 0 fails when database enabled", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Database.Host = "db.internal"
		c.Database.MaxConns = 0
		assert.ErrorContains(t, c.validate(), "ACPLINK_DB_MAX_CONNS")
	})

	t.Run("reconnect attempts 0 passes", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Agent.ReconnectAttempts = 0
		assert.NoError(t, c.validate())
	})

	t.Run("reconnect attempts negative fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Agent.ReconnectAttempts = -1
		assert.ErrorContains(t, c.validate(), "ACPLINK_AGENT_RECONNECT_ATTEMPTS")
	})

	t.Run("reconnect delay negative fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Agent.ReconnectDelay = -time.Second
		assert.ErrorContains(t, c.validate(), "ACPLINK_AGENT_RECONNECT_DELAY")
	})

	t.Run("ReadTimeout 0 fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Server.ReadTimeout = 0
		assert.ErrorContains(t, c.validate(), "ACPLINK_SERVER_READ_TIMEOUT")
	})

	t.Run("WriteTimeout negative fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Server.WriteTimeout = -time.Second
		assert.ErrorContains(t, c.validate(), "ACPLINK_SERVER_WRITE_TIMEOUT")
	})

	t.Run("slack token without channel fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Slack.BotToken = "xoxb-test"
		assert.ErrorContains(t, c.validate(), "ACPLINK_SLACK_CHANNEL")
	})

	t.Run("slack token with channel passes", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Slack.BotToken = "xoxb-test"
		c.Slack.Channel = "C0123456789"
		assert.NoError(t, c.validate())
	})
}

// ---------------------------------------------------------------------------
// Test helper
// ---------------------------------------------------------------------------

func strPtr(s string) *string {
	return &s
}
