package config

type Config interface {
	EnvConfig
	EngineConfig
	ProviderConfig
}

type mainConfig struct {
	EnvVars
	Engine
	Provider
}

func New() Config {
	return mainConfig{}
}
