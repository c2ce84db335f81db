package drift

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const MonitorInterval = 30 * time.Second

// Monitor periodically re-estimates drift on a growing timeline and calls
// onDrift when it is significant with confidence above MonitorConfidence.
// The returned function stops the monitor.
func Monitor(tl *Timeline, interval time.Duration, onDrift func(Info)) func() {
	if interval <= 0 {
		interval = MonitorInterval
	}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info := Detect(tl)
				if !info.Significant() || info.Confidence <= MonitorConfidence {
					continue
				}
				log.WithFields(logrus.Fields{
					"user_id":    tl.UserID,
					"ssrc":       tl.SSRC,
					"drift_ms":   info.DriftMs,
					"confidence": info.Confidence,
					"samples":    info.Samples,
				}).Warn("Clock drift detected")
				onDrift(info)
			}
		}
	}()

	return cancel
}
