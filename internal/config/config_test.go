package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	if err != nil {
		t.Fatalf("加载默认配置失败: %v", err)
	}
	if cfg.History.Capacity != 24 {
		t.Fatalf("默认容量应为 24, 实际 %d", cfg.History.Capacity)
	}
	if cfg.Alerting.ThresholdPct != 3 {
		t.Fatalf("默认阈值应为 3, 实际 %v", cfg.Alerting.ThresholdPct)
	}
	if cfg.Alerting.FiringRetention != 720*time.Hour {
		t.Fatalf("默认告警记录保留期应为 720h, 实际 %v", cfg.Alerting.FiringRetention)
	}
	if len(cfg.Assets) != 2 {
		t.Fatalf("默认应跟踪 2 个资产, 实际 %d", len(cfg.Assets))
	}
	eth, ok := cfg.Asset("ethereum")
	if !ok || eth.Interval != time.Minute || eth.Source != "coingecko" || eth.FeedID != "ethereum" {
		t.Fatalf("ethereum 默认配置不正确: %+v", eth)
	}
	polygon, ok := cfg.Asset("polygon")
	if !ok || polygon.FeedID != "matic-network" || polygon.Interval != time.Hour {
		t.Fatalf("polygon 默认配置不正确: %+v", polygon)
	}
}

func TestLoadAssetsAndAlerts(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  default_interval: 5m
assets:
  - id: bitcoin
  - id: ethereum
    interval: 30s
alerts:
  - asset: ethereum
    target_price: 2000
    destination: a@b.com
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	btc, _ := cfg.Asset("bitcoin")
	if btc.Interval != 5*time.Minute {
		t.Fatalf("未设置 interval 时应使用默认值, 实际 %s", btc.Interval)
	}
	eth, _ := cfg.Asset("ethereum")
	if eth.Interval != 30*time.Second {
		t.Fatalf("ethereum interval 不正确: %s", eth.Interval)
	}
	if len(cfg.Alerts) != 1 || cfg.Alerts[0].TargetPrice != 2000 || cfg.Alerts[0].Destination != "a@b.com" {
		t.Fatalf("alerts 解析不正确: %+v", cfg.Alerts)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"duplicate asset": "assets:\n  - id: eth\n  - id: eth\n",
		"chainlink without rpc": "assets:\n  - id: eth\n    source: chainlink\n    feed_id: \"0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419\"\n",
		"unknown source":        "assets:\n  - id: eth\n    source: kraken\n",
		"bad alert":             "alerts:\n  - asset: ethereum\n    target_price: 0\n    destination: a@b.com\n",
		"negative threshold":    "alerting:\n  threshold_pct: -1\n",
		"negative retention":    "alerting:\n  firing_retention: -1h\n",
		"zero capacity":         "history:\n  capacity: 0\n",
		"telegram no token":     "alerting:\n  telegram:\n    enabled: true\n",
		"smtp no host":          "alerting:\n  smtp:\n    enabled: true\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("%s 应校验失败", name)
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 10}}
	if cfg.ResolveMaxPoints(0) != 10 || cfg.ResolveMaxPoints(3) != 3 {
		t.Fatal("ResolveMaxPoints 不正确")
	}
}
