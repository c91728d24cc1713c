package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("默认配置加载失败: %v", err)
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Fatalf("默认驱动应为 sqlite, 实际 %s", cfg.Database.Driver)
	}
	if cfg.Validation.WindowDays != 20 || cfg.Validation.SigmaThreshold != 3.0 {
		t.Fatalf("验证默认值不正确: %+v", cfg.Validation)
	}
	if cfg.Network.RetryInterval != 10*time.Second {
		t.Fatalf("期望重试间隔 10s, 实际 %s", cfg.Network.RetryInterval)
	}
	if len(cfg.FX.Pairs) != 3 {
		t.Fatalf("默认应配置 3 个货币对, 实际 %v", cfg.FX.Pairs)
	}
	if cfg.Backup.Keep != 10 {
		t.Fatalf("默认保留 10 个备份, 实际 %d", cfg.Backup.Keep)
	}
	if cfg.Location().String() != "Asia/Shanghai" {
		t.Fatalf("默认时区应为 Asia/Shanghai, 实际 %s", cfg.Location())
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
database:
  driver: postgres
  dsn: postgres://localhost/gold
validation:
  window_days: 30
metals:
  silver:
    enabled: false
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	t.Setenv("GOLDTRACKER_VALIDATION_SIGMA_THRESHOLD", "2.5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Database.Driver != DriverPostgres || cfg.Database.DSN != "postgres://localhost/gold" {
		t.Fatalf("数据库配置未生效: %+v", cfg.Database)
	}
	if cfg.Validation.WindowDays != 30 {
		t.Fatalf("window_days 应为 30, 实际 %d", cfg.Validation.WindowDays)
	}
	if cfg.Validation.SigmaThreshold != 2.5 {
		t.Fatalf("环境变量应覆盖 sigma_threshold, 实际 %v", cfg.Validation.SigmaThreshold)
	}
	if cfg.Metals.Silver.Enabled {
		t.Fatal("silver 应被禁用")
	}
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())

	base, err := Load("")
	if err != nil {
		t.Fatalf("默认配置加载失败: %v", err)
	}

	cases := map[string]func(c *Config){
		"unknown driver":   func(c *Config) { c.Database.Driver = "mysql" },
		"postgres no dsn":  func(c *Config) { c.Database.Driver = DriverPostgres; c.Database.DSN = "" },
		"bad provider":     func(c *Config) { c.Metals.Gold.BenchmarkProvider = "bloomberg" },
		"inverted ratio":   func(c *Config) { c.Validation.LocalRatioLow = 1.2 },
		"zero window":      func(c *Config) { c.Validation.WindowDays = 0 },
		"no fx pairs":      func(c *Config) { c.FX.Pairs = nil },
		"bad timezone":     func(c *Config) { c.App.Timezone = "Mars/Olympus" },
		"metrics no url":   func(c *Config) { c.Metrics.Enabled = true },
		"zero backup keep": func(c *Config) { c.Backup.Keep = 0 },
	}
	for name, mutate := range cases {
		cfg := *base
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: 期望校验失败", name)
		}
	}
}

type fakeSSM struct {
	values map[string]string
	calls  int
}

func (f *fakeSSM) GetParameter(ctx context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	if in.WithDecryption == nil || !*in.WithDecryption {
		return nil, errors.New("decryption not requested")
	}
	value, ok := f.values[*in.Name]
	if !ok {
		return nil, errors.New("parameter not found")
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: &value}}, nil
}

func TestResolveSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Database.DSN = "ssm:/gold/dsn"
	cfg.Sources.GoldAPI.APIKey = "plain-key"
	cfg.Redis.Password = "ssm:/gold/redis"

	client := &fakeSSM{values: map[string]string{
		"/gold/dsn":   "postgres://secret",
		"/gold/redis": "hunter2",
	}}

	if err := cfg.ResolveSecrets(context.Background(), client); err != nil {
		t.Fatalf("解析密钥失败: %v", err)
	}
	if cfg.Database.DSN != "postgres://secret" || cfg.Redis.Password != "hunter2" {
		t.Fatalf("密钥未替换: %+v %+v", cfg.Database, cfg.Redis)
	}
	if cfg.Sources.GoldAPI.APIKey != "plain-key" {
		t.Fatal("非 ssm 值不应被修改")
	}
	if client.calls != 2 {
		t.Fatalf("期望调用 SSM 2 次, 实际 %d", client.calls)
	}
}

func TestResolveSecretsMissingParameter(t *testing.T) {
	cfg := &Config{}
	cfg.Sources.GoldAPI.APIKey = "ssm:/missing"

	if err := cfg.ResolveSecrets(context.Background(), &fakeSSM{}); err == nil {
		t.Fatal("缺失参数应返回错误")
	}
}
