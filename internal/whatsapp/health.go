package whatsapp

import (
	"errors"
	"fmt"
	"runtime/debug"

	"go.mau.fi/whatsmeow"
	"go.uber.org/zap"

	"github.com/talkincode/wabot/pkg/metrics"
)

// HealthCheck counts a failure for every paired instance that is not
// connected and asks it to reconnect. An instance that keeps failing is
// torn down. Instances still waiting for a QR scan are left alone.
func (m *Manager) HealthCheck() {
	maxFailures := int32(m.cfg().MaxHealthFailures)
	if maxFailures <= 0 {
		maxFailures = 3
	}
	var running, connected int64
	for _, inst := range m.snapshot() {
		cli := m.clientOf(inst)
		if cli == nil {
			continue
		}
		running++
		if cli.IsConnected() && cli.IsLoggedIn() {
			inst.failures.Store(0)
			connected++
			continue
		}
		if !cli.IsPaired() {
			continue
		}

		n := inst.failures.Add(1)
		if n >= maxFailures {
			zap.L().Warn("whatsapp: bot failed health checks, stopping",
				zap.Int64("bot_id", inst.botID), zap.Int32("failures", n))
			m.teardown(inst, "health check failed", closeKeep)
			continue
		}
		zap.L().Info("whatsapp: bot unhealthy, reconnecting", zap.Int64("bot_id", inst.botID), zap.Int32("failures", n))
		if !cli.IsConnected() {
			go func() {
				if err := cli.Connect(); err != nil && !errors.Is(err, whatsmeow.ErrAlreadyConnected) {
					zap.L().Warn("whatsapp: reconnect failed", zap.Int64("bot_id", inst.botID), zap.Error(err))
				}
			}()
		}
	}
	metrics.SetGauge("wabot_bots_running", running)
	metrics.SetGauge("wabot_bots_connected", connected)
}

// ScheduleHealthCheck registers HealthCheck on the application scheduler.
func (m *Manager) ScheduleHealthCheck() error {
	sched := m.app.Scheduler()
	interval := m.cfg().HealthInterval
	if sched == nil || interval <= 0 {
		return nil
	}
	id, err := sched.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		defer func() {
			if err := recover(); err != nil {
				zap.S().Error(err)
				zap.S().Error(string(debug.Stack()))
			}
		}()
		m.HealthCheck()
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.healthID = id
	m.mu.Unlock()
	return nil
}
