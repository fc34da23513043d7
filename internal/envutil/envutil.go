package envutil

import "os"

// Prefix is accepted in front of every configuration variable so that
// deployments sharing an environment with other services can namespace them.
const Prefix = "LIVEBOARD_"

// Lookup returns the value of key, falling back to the prefixed form.
// LIVEBOARD_SERVER_PORT and SERVER_PORT are equivalent; the exact key wins.
func Lookup(key string) (string, bool) {
	if value, ok := os.LookupEnv(key); ok {
		return value, true
	}
	if len(key) < len(Prefix) || key[:len(Prefix)] != Prefix {
		if value, ok := os.LookupEnv(Prefix + key); ok {
			return value, true
		}
	}
	return "", false
}

// Get is Lookup with a fallback.
func Get(key, fallback string) string {
	if value, ok := Lookup(key); ok {
		return value
	}
	return fallback
}
