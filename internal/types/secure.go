package types

const redacted = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString shields credential values (API tokens, cron secrets, database
// passwords, PIX provider keys) from accidental exposure. fmt and JSON both
// see the redacted placeholder; only Unmask returns the plaintext.
type SecretString string

// String satisfies fmt.Stringer with the redacted placeholder.
func (s SecretString) String() string {
	return redacted
}

// MarshalJSON always emits the redacted placeholder so secrets never reach
// config dumps or structured logs.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the plaintext. Call sites should be limited to the moment
// the secret is actually consumed (auth headers, connection strings).
func (s SecretString) Unmask() string {
	return string(s)
}
