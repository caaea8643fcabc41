package signal

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunLiveness probes every open connection each ping period. A peer
// that never acknowledged the previous probe is terminated, which runs
// the regular disconnect cleanup through its readPump. This bounds how
// long a dead connection can hold a stale participant entry to roughly
// one period.
func (ctl *Controller) RunLiveness(ctx context.Context) {
	ticker := time.NewTicker(ctl.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, snap := range ctl.coord.Registry().Connections() {
				if !snap.Conn.Alive() {
					log.Warn().Str("module", "signal").Str("conn", string(snap.ID)).Msg("liveness probe unanswered, terminating")
					snap.Conn.Close()
					continue
				}
				snap.Conn.MarkUnconfirmed()
				if err := snap.Conn.Ping(); err != nil {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(snap.ID)).Msg("liveness probe failed, terminating")
					snap.Conn.Close()
				}
			}
		}
	}
}
