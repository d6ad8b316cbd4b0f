package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"clipmerge/media"
)

type Config struct {
	FFBin              string        `mapstructure:"FF_BIN"`
	FFProbeBin         string        `mapstructure:"FFPROBE_BIN"`
	FFTimeout          time.Duration `mapstructure:"FF_TIMEOUT"`
	ProbeTimeout       time.Duration `mapstructure:"PROBE_TIMEOUT"`
	CacheDir           string        `mapstructure:"CACHE_DIR"`
	TargetVideoCodec   string        `mapstructure:"TARGET_VIDEO_CODEC"`
	TargetVideoEncoder string        `mapstructure:"TARGET_VIDEO_ENCODER"`
	TargetAudioCodec   string        `mapstructure:"TARGET_AUDIO_CODEC"`
	TargetAudioEncoder string        `mapstructure:"TARGET_AUDIO_ENCODER"`
	TargetWidth        int           `mapstructure:"TARGET_WIDTH"`
	TargetHeight       int           `mapstructure:"TARGET_HEIGHT"`
	TargetFrameRate    float64       `mapstructure:"TARGET_FRAME_RATE"`
	FrameRateTolerance float64       `mapstructure:"FRAME_RATE_TOLERANCE"`
	EncodeExtraArgs    string        `mapstructure:"ENCODE_EXTRA_ARGS"`
	OutputUTCOffset    time.Duration `mapstructure:"OUTPUT_UTC_OFFSET"`
	JobLifetime        time.Duration `mapstructure:"JOB_LIFETIME"`
	ThrottleCPU        float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem    int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk   int64         `mapstructure:"THROTTLE_FREEDISK"`
	AuthEnable         bool          `mapstructure:"AUTH_ENABLE"`
	AuthKey            string        `mapstructure:"AUTH_KEY"`
	Port               string        `mapstructure:"PORT"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	LogFormat          string        `mapstructure:"LOG_FORMAT"`
}

// TempDir holds transcode artifacts and concat manifests for running exports.
func (c *Config) TempDir() string {
	return filepath.Join(c.CacheDir, "temp")
}

// ThumbnailDir holds cached preview frames keyed by input path hash.
func (c *Config) ThumbnailDir() string {
	return filepath.Join(c.CacheDir, "thumbnails")
}

// Profile returns the target every merged clip must conform to.
func (c *Config) Profile() media.Profile {
	return media.Profile{
		VideoCodec:         c.TargetVideoCodec,
		VideoEncoder:       c.TargetVideoEncoder,
		AudioCodec:         c.TargetAudioCodec,
		AudioEncoder:       c.TargetAudioEncoder,
		Width:              c.TargetWidth,
		Height:             c.TargetHeight,
		FrameRate:          c.TargetFrameRate,
		FrameRateTolerance: c.FrameRateTolerance,
	}
}

// OutputLocation is the fixed zone output names are stamped in.
func (c *Config) OutputLocation() *time.Location {
	return time.FixedZone("output", int(c.OutputUTCOffset/time.Second))
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "clipmerge")
}

func Load() (*Config, error) {
	vp := viper.New()

	profile := media.DefaultProfile()

	// Set default values as strings, the hooks will handle them.
	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("FF_TIMEOUT", "2h")
	vp.SetDefault("PROBE_TIMEOUT", "30s")
	vp.SetDefault("CACHE_DIR", defaultCacheDir())
	vp.SetDefault("TARGET_VIDEO_CODEC", profile.VideoCodec)
	vp.SetDefault("TARGET_VIDEO_ENCODER", profile.VideoEncoder)
	vp.SetDefault("TARGET_AUDIO_CODEC", profile.AudioCodec)
	vp.SetDefault("TARGET_AUDIO_ENCODER", profile.AudioEncoder)
	vp.SetDefault("TARGET_WIDTH", profile.Width)
	vp.SetDefault("TARGET_HEIGHT", profile.Height)
	vp.SetDefault("TARGET_FRAME_RATE", profile.FrameRate)
	vp.SetDefault("FRAME_RATE_TOLERANCE", profile.FrameRateTolerance)
	vp.SetDefault("ENCODE_EXTRA_ARGS", "")
	vp.SetDefault("OUTPUT_UTC_OFFSET", "9h")
	vp.SetDefault("JOB_LIFETIME", "1h")
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "0")
	vp.SetDefault("THROTTLE_FREEDISK", "500MB")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FORMAT", "json")

	// Load from config file
	vp.SetConfigName("clipmerge_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/clipmerge/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Load from environment variables
	vp.SetEnvPrefix("CLIPMERGE")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
