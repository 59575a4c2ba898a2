package config

// Secret is a string type that redacts itself when printed or marshaled,
// used for webhook secrets and exchange API keys in Config.String().
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

func (s Secret) GoString() string {
	return "[REDACTED]"
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

func (s Secret) MarshalYAML() (interface{}, error) {
	return "[REDACTED]", nil
}
