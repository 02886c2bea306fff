package state

import "time"

// Duration marshals to yaml as a human-readable string ("5s", "2m").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) orDefault(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}

// effective tunables, falling back to package defaults

func (t Tunables) EffRouteTTL() time.Duration {
	return t.RouteTTL.orDefault(RouteExpiryTime)
}

func (t Tunables) EffDiscoveryTimeout() time.Duration {
	return t.DiscoveryTimeout.orDefault(DiscoveryTimeout)
}

func (t Tunables) EffMaxRequestHops() uint8 {
	if t.MaxRequestHops == 0 {
		return MaxRequestHops
	}
	return t.MaxRequestHops
}

func (t Tunables) EffRetryInterval() time.Duration {
	return t.RetryInterval.orDefault(RetrySweepTick)
}

func (t Tunables) EffMaxSendAttempts() int {
	if t.MaxSendAttempts == 0 {
		return MaxSendAttempts
	}
	return t.MaxSendAttempts
}
