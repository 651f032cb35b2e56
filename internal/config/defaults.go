package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kagami/data/cache.db"
	}
	if cfg.Remote.TokenEnv == "" {
		cfg.Remote.TokenEnv = "KAGAMI_API_TOKEN"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "mock"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
}
