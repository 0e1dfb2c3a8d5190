package blocker

// Store types
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// stored hash values
const (
	valueEnabled  = "1"
	valueDisabled = "0"
)
