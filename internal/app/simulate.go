package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"pricewatch/internal/model"
)

// SimulateAlert 将给定的价格序列推入引擎并通过已配置的通道发送告警。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	if opts.Asset == "" {
		return errors.New("asset 不能为空")
	}
	if len(opts.Prices) == 0 {
		return errors.New("至少需要一个价格")
	}

	p := a.newPipeline(a.newNotifier())
	if opts.TargetPrice > 0 {
		if opts.Destination == "" {
			opts.Destination = a.Config.Alerting.OperatorDestination
		}
		rule := p.registry.Register(opts.Asset, opts.TargetPrice, opts.Destination)
		a.Logger.Info().Str("rule_id", rule.ID).Float64("target_price", rule.TargetPrice).Msg("simulated rule registered")
	}

	now := time.Now().UTC()
	samples := make([]model.Sample, 0, len(opts.Prices))
	for i, price := range opts.Prices {
		sample, err := model.NewSample(opts.Asset, price, now.Add(time.Duration(i)*time.Second))
		if err != nil {
			return fmt.Errorf("price #%d: %w", i+1, err)
		}
		samples = append(samples, sample)
	}

	fired, failed, err := a.evaluate(ctx, p, samples, true, os.Stdout)
	if err != nil {
		return err
	}
	a.Logger.Info().Int("fired", fired).Int("failed", failed).Msg("simulation finished")
	if failed > 0 {
		return fmt.Errorf("%d alert(s) failed to dispatch", failed)
	}
	return nil
}
