package common

import (
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	commonconfig "github.com/G-Research/chunkpool/internal/common/config"
)

const baseConfigFileName = "config"

// RFC3339Millis
const logTimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// BindCommandlineArguments binds the pflag command line to viper so that flags override config files.
func BindCommandlineArguments() {
	err := viper.BindPFlags(pflag.CommandLine)
	if err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}

// LoadConfig reads the default config from defaultPath, then merges any user supplied files on top.
// Environment variables prefixed with CHUNKPOOL_ override both.
func LoadConfig(
	config interface{},
	defaultPath string,
	overrideConfigs []string,
	hooks ...mapstructure.DecodeHookFunc,
) (*viper.Viper, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigName(baseConfigFileName)
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "error reading base config path=%s", defaultPath)
	}
	log.Infof("Read base config from %s", v.ConfigFileUsed())

	for _, overrideConfig := range overrideConfigs {
		v.SetConfigFile(overrideConfig)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Wrapf(err, "error reading config from %s", overrideConfig)
		}
		log.Infof("Read config from %s", v.ConfigFileUsed())
	}

	v.SetEnvKeyReplacer(strings.NewReplacer("::", "_"))
	v.SetEnvPrefix("CHUNKPOOL")
	v.AutomaticEnv()

	if err := v.Unmarshal(config, commonconfig.CustomHooks(hooks...)...); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := commonconfig.Validate(config); err != nil {
		commonconfig.LogValidationErrors(err)
		return nil, err
	}
	return v, nil
}

// DecodeConfig decodes an untyped map, e.g. parsed from a manifest, using the same hooks as LoadConfig.
func DecodeConfig(input interface{}, config interface{}, hooks ...mapstructure.DecodeHookFunc) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       commonconfig.DecodeHook(hooks...),
		WeaklyTypedInput: true,
		Result:           config,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(decoder.Decode(input))
}

func ConfigureLogging() {
	log.SetLevel(readEnvironmentLogLevel())
	log.SetFormatter(&log.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		TimestampFormat: logTimestampFormat,
	})
	log.SetOutput(os.Stdout)
}

func readEnvironmentLogLevel() log.Level {
	level, ok := os.LookupEnv("LOG_LEVEL")
	if ok {
		logLevel, err := log.ParseLevel(level)
		if err == nil {
			return logLevel
		}
	}
	return log.InfoLevel
}
