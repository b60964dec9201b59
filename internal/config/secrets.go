package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by
// "***". Use this when logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Server.APIKeys = make([]APIKey, len(cfg.Server.APIKeys))
	for i, k := range cfg.Server.APIKeys {
		out.Server.APIKeys[i] = APIKey{Key: k.Key, Account: k.Account}
		redact(&out.Server.APIKeys[i].Key)
	}
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}
