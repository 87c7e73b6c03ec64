package firewall

import (
	"context"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"grimm.is/geowall/internal/logging"
)

// Verifier checks outbound reachability after a swap. Stateful accept
// rules should keep established and related flows working; if every
// probe target goes dark right after a swap, something is badly wrong
// and the caller should roll back.
type Verifier struct {
	targets []string
	timeout time.Duration
	logger  *logging.Logger
}

// NewVerifier creates a Verifier for the given probe targets. A nil or
// empty target list disables verification.
func NewVerifier(targets []string, timeout time.Duration, logger *logging.Logger) *Verifier {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Verifier{targets: targets, timeout: timeout, logger: logger.WithComponent("verify")}
}

// Verify pings each target and succeeds if at least one answers. All
// targets unreachable is treated as a lockout indicator.
func (v *Verifier) Verify(ctx context.Context) error {
	if len(v.targets) == 0 {
		return nil
	}
	var lastErr error
	for _, target := range v.targets {
		ok, err := v.probe(ctx, target)
		if ok {
			v.logger.Debug("connectivity verified", "target", target)
			return nil
		}
		if err != nil {
			lastErr = err
		}
		v.logger.Warn("probe target unreachable", "target", target, "error", err)
	}
	if lastErr != nil {
		return fmt.Errorf("all %d probe targets unreachable: %w", len(v.targets), lastErr)
	}
	return fmt.Errorf("all %d probe targets unreachable", len(v.targets))
}

func (v *Verifier) probe(ctx context.Context, target string) (bool, error) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return false, err
	}
	pinger.Count = 3
	pinger.Interval = 200 * time.Millisecond
	pinger.Timeout = v.timeout
	pinger.SetPrivileged(true)
	if err := pinger.RunWithContext(ctx); err != nil {
		return false, err
	}
	return pinger.Statistics().PacketsRecv > 0, nil
}
