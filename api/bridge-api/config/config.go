package config

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Application config structure
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogFile  string `mapstructure:"log_file"`

	DatabaseConfig DatabaseConfig `mapstructure:"database" validate:"required"`
	TwilioConfig   TwilioConfig   `mapstructure:"twilio" validate:"required"`
	RealtimeConfig RealtimeConfig `mapstructure:"realtime" validate:"required"`

	// PublicHost is the externally reachable host used to build the wss://
	// stream callback URL for outbound calls.
	PublicHost string `mapstructure:"public_host"`

	RecordingEnabled bool   `mapstructure:"recording_enabled"`
	RecordingDir     string `mapstructure:"recording_dir"`

	// Assistant defaults, overridable per call.
	DefaultVoice        string `mapstructure:"default_voice"`
	DefaultInstructions string `mapstructure:"default_instructions"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

type TwilioConfig struct {
	AccountSid string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	FromNumber string `mapstructure:"from_number"`
}

type RealtimeConfig struct {
	URL    string `mapstructure:"url" validate:"required"`
	Model  string `mapstructure:"model" validate:"required"`
	APIKey string `mapstructure:"api_key" validate:"required"`
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env variables.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// keeping watch on https://github.com/spf13/viper/issues/188
	v.SetDefault("SERVICE_NAME", "bridge-api")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("PUBLIC_HOST", "")

	v.SetDefault("DATABASE__DRIVER", "sqlite")
	v.SetDefault("DATABASE__DSN", "bridge.db")

	v.SetDefault("TWILIO__ACCOUNT_SID", "")
	v.SetDefault("TWILIO__AUTH_TOKEN", "")
	v.SetDefault("TWILIO__FROM_NUMBER", "")

	v.SetDefault("REALTIME__URL", "wss://api.openai.com/v1/realtime")
	v.SetDefault("REALTIME__MODEL", "gpt-realtime")
	v.SetDefault("REALTIME__API_KEY", "")

	v.SetDefault("RECORDING_ENABLED", false)
	v.SetDefault("RECORDING_DIR", "recordings")

	v.SetDefault("DEFAULT_VOICE", "marin")
	v.SetDefault("DEFAULT_INSTRUCTIONS", "")
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
