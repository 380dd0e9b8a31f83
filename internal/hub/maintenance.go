package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/logger"
	"github.com/robfig/cron/v3"
)

// Retrier 重新启动失败的快照保存
type Retrier interface {
	RetryFailed() int
}

type Maintenance struct {
	cron *cron.Cron
}

// StartMaintenance 定时回收过期光标、驱逐空闲房间并重试失败的保存
func StartMaintenance(h *Hub, retrier Retrier, cursorSpec, idleSpec string) (*Maintenance, error) {
	c := cron.New()

	if cursorSpec != "" {
		_, err := c.AddFunc(cursorSpec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if n := h.SweepCursors(ctx); n > 0 {
				logger.DebugF("Swept %d stale cursors", n)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("schedule cursor sweep: %w", err)
		}
	}

	if idleSpec != "" {
		_, err := c.AddFunc(idleSpec, func() {
			if n := h.SweepIdle(); n > 0 {
				logger.InfoF("Evicted %d idle rooms, %d resident", n, h.RoomCount())
			}
			if retrier != nil {
				if n := retrier.RetryFailed(); n > 0 {
					logger.InfoF("Retrying %d failed snapshot saves", n)
				}
			}
		})
		if err != nil {
			return nil, fmt.Errorf("schedule idle sweep: %w", err)
		}
	}

	c.Start()
	logger.Info("Maintenance scheduler started")
	return &Maintenance{cron: c}, nil
}

// Invoke 停止调度并等待正在执行的任务
func (m *Maintenance) Invoke(ctx context.Context) error {
	stopped := m.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
