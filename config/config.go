package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

var Config *MainConfig
var ConfigChanged bool

type MainConfig struct {
	DownloadDir         string
	ToolPath            string
	MuxToolPath         string
	CookiesFile         string
	SingleConcurrency   int
	PlaylistConcurrency int
	RetryCount          int
	RateLimit           string
	SpawnPerMinute      int
	RedisHost           string
	EventChannel        string
	HTTPPort            string
	PprofHost           string
	LogFile             string
	LogFileSize         int
	LogLevel            string
	CacheTTLSec         int
	CacheSweepSize      int
	HistorySize         int
	ShutdownGraceSec    int
	ExtraConfig         map[string]interface{}
}

func defaultConfig() *MainConfig {
	return &MainConfig{
		DownloadDir:         "downloads",
		ToolPath:            "yt-dlp",
		MuxToolPath:         "ffmpeg",
		SingleConcurrency:   1,
		PlaylistConcurrency: 3,
		RetryCount:          10,
		SpawnPerMinute:      20,
		EventChannel:        "mediagrab:events",
		HTTPPort:            "9972",
		LogFile:             "mediagrab.log",
		LogFileSize:         50,
		LogLevel:            "info",
		CacheTTLSec:         300,
		CacheSweepSize:      100,
		HistorySize:         256,
		ShutdownGraceSec:    10,
	}
}

func InitConfig() {
	initConfig()
	_, err := ReloadConfig()
	if err != nil {
		fmt.Printf("config load error: %s\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("json")
	err := viper.ReadInConfig()
	if err != nil {
		fmt.Printf("config file error: %s\n", err)
		os.Exit(1)
	}
	viper.WatchConfig()

	ConfigChanged = true
	viper.OnConfigChange(func(in fsnotify.Event) {
		ConfigChanged = true
	})
}

// ReloadConfig re-reads the config after the watcher flagged a change.
// Unknown keys are collected into ExtraConfig instead of being dropped.
func ReloadConfig() (bool, error) {
	if !ConfigChanged {
		return false, nil
	}
	ConfigChanged = false
	err := viper.ReadInConfig()
	if err != nil {
		return true, err
	}
	config := defaultConfig()
	err = viper.Unmarshal(config, func(c *mapstructure.DecoderConfig) {
		c.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			func(inType reflect.Type, outType reflect.Type, input interface{}) (interface{}, error) {
				if inType.Kind() == reflect.Map && outType.Kind() == reflect.Struct {
					fieldsMap := make(map[string]reflect.StructField, 10)
					for i := 0; i < outType.NumField(); i++ {
						fieldsMap[strings.ToLower(outType.Field(i).Name)] = outType.Field(i)
					}
					inputMap, ok := input.(map[string]interface{})
					if !ok {
						return input, nil
					}
					extraConfig := make(map[string]interface{}, 5)
					inputMap["ExtraConfig"] = extraConfig
					for key := range inputMap {
						_, ok := fieldsMap[strings.ToLower(key)]
						if !ok {
							extraConfig[key] = inputMap[key]
						}
					}
				}
				return input, nil
			},
			c.DecodeHook)
	})
	if err != nil {
		return true, fmt.Errorf("struct config error: %w", err)
	}
	Config = config

	UpdateLogLevel()
	return true, nil
}
