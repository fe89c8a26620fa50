package cmd

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app       = "form-filler"
	envPrefix = "FORM_FILLER"
)

type Config struct {
	URL         string             `mapstructure:"url"`
	Answers     map[string]any     `mapstructure:"answers"`
	Attachments []AttachmentConfig `mapstructure:"attachments"`
	// Fields and Dropdowns replace the built-in concept tables when set.
	Fields     []ConceptConfig  `mapstructure:"fields"`
	Dropdowns  []ConceptConfig  `mapstructure:"dropdowns"`
	Matching   *MatchingConfig  `mapstructure:"matching"`
	Embedding  *EmbeddingConfig `mapstructure:"embedding"`
	Browser    *BrowserConfig   `mapstructure:"browser"`
	Pauses     *PausesConfig    `mapstructure:"pauses"`
	History    *HistoryConfig   `mapstructure:"history"`
	Review     time.Duration    `mapstructure:"review"`
	ReportFile string           `mapstructure:"report-file"`
}

// ConceptConfig binds a concept to the answer key holding its value.
type ConceptConfig struct {
	Concept string `mapstructure:"concept"`
	Key     string `mapstructure:"key"`
}

type AttachmentConfig struct {
	Name    string `mapstructure:"name"`
	InputID string `mapstructure:"input-id"`
	Path    string `mapstructure:"path"`
}

type MatchingConfig struct {
	Threshold    float64  `mapstructure:"threshold"`
	SlowKeywords []string `mapstructure:"slow-keywords"`
}

type EmbeddingConfig struct {
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
	Local    *LocalConfig  `mapstructure:"local"`
}

type GeminiConfig struct {
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
	Dimensions int32  `mapstructure:"dimensions"`
	MaxRetries int    `mapstructure:"max-retries"`
}

type LocalConfig struct {
	Dimensions int `mapstructure:"dimensions"`
}

type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	NoSandbox         bool          `mapstructure:"no-sandbox"`
	Bin               string        `mapstructure:"bin"`
	ControlURL        string        `mapstructure:"control-url"`
	FrameSelector     string        `mapstructure:"frame-selector"`
	FrameTimeout      time.Duration `mapstructure:"frame-timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation-timeout"`
	LabelTimeout      time.Duration `mapstructure:"label-timeout"`
	StableWindow      time.Duration `mapstructure:"stable-window"`
}

type PausesConfig struct {
	Clear   time.Duration `mapstructure:"clear"`
	Confirm time.Duration `mapstructure:"confirm"`
	Slow    time.Duration `mapstructure:"slow"`
}

type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "form-filler fills job application forms by matching configured answers to field labels",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("embedding.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is form-filler.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// Only commands that work with a form need the config file.
	if runCmd.CalledAs() == "" && conceptsCmd.CalledAs() == "" && historyCmd.CalledAs() == "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config == nil {
		config = &Config{}
	}

	return config, nil
}
