package ratelimit

const (
	BucketRegister     = "register"
	BucketToken        = "token"
	BucketValidate     = "validate"
	BucketClients      = "clients"
	BucketPaidCheckout = "paid-checkout"
)

const (
	defaultWindowSeconds = 60
	defaultMax           = 60
)

type Config struct {
	WindowSeconds   int `mapstructure:"window_seconds"`
	MaxRegister     int `mapstructure:"max_register"`
	MaxToken        int `mapstructure:"max_token"`
	MaxValidate     int `mapstructure:"max_validate"`
	MaxClients      int `mapstructure:"max_clients"`
	MaxPaidCheckout int `mapstructure:"max_paid_checkout"`
}

func DefaultConfig() Config {
	return Config{
		WindowSeconds:   defaultWindowSeconds,
		MaxRegister:     30,
		MaxToken:        60,
		MaxValidate:     120,
		MaxClients:      60,
		MaxPaidCheckout: 30,
	}
}

// Max returns the per-window ceiling for bucket. Unknown buckets and
// unset values fall back to the generic default.
func (c Config) Max(bucket string) int {
	var v int
	switch bucket {
	case BucketRegister:
		v = c.MaxRegister
	case BucketToken:
		v = c.MaxToken
	case BucketValidate:
		v = c.MaxValidate
	case BucketClients:
		v = c.MaxClients
	case BucketPaidCheckout:
		v = c.MaxPaidCheckout
	}
	if v <= 0 {
		return defaultMax
	}
	return v
}

func (c Config) Window() int {
	if c.WindowSeconds <= 0 {
		return defaultWindowSeconds
	}
	return c.WindowSeconds
}
