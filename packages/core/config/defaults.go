package config

// Reporters are the output formats the run command knows.
var Reporters = []string{"console", "json", "junit", "tap"}

func IsReporter(name string) bool {
	for _, r := range Reporters {
		if r == name {
			return true
		}
	}
	return false
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Timeout:         30000, // 30 seconds
		FollowRedirects: BoolPtr(true),
		MaxRedirects:    10,
		ValidateSSL:     BoolPtr(true),
		RateBurst:       1,
		Reporters:       []string{"console"},
	}
}
