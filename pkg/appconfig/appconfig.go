package appconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/docopt/docopt-go"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"gopkg.in/ini.v1"

	"assumerole/pkg/awsconfig"
	"assumerole/pkg/roleassumer"
	"assumerole/pkg/rolecreds"
)

const Usage = `Usage:
  assume-role [options] [--policy <arn>]...
  assume-role --help
  assume-role --version

Options:
  -r <arn>, --role <arn>                  ARN of the role to assume.
  -s <name>, --session-name <name>        Session name (generated from the current time if omitted).
  -p <profile>, --profile <profile>       AWS profile used to call assume-role.
  -f <file>, --file <file>                Credentials file used to call assume-role.
  --region <region>                       AWS region of the STS endpoint, also AWS_DEFAULT_REGION (us-east-1 if unset).
  --duration <seconds>                    Lifetime of the temporary credentials in seconds.
  --external-id <id>                      External ID to pass to assume-role.
  --policy <arn>                          ARN of a managed session policy, may be repeated.
  --policy-json <json>                    Inline session policy JSON.
  --mfa-serial-number <serial>            MFA device serial number.
  --mfa <code>                            MFA token code.
  --dest-file <file>                      Credentials file to save to, also AWS_SHARED_CREDENTIALS_FILE ($HOME/.aws/credentials if unset).
  --dest-profile <profile>                Profile to save the credentials under (default if unset).
  --process                               Print credential_process JSON to stdout instead of saving.
  --cache <file>                          Cache file for --process output.
  --proxy <url>                           Proxy URL for the STS endpoint.
  -c <config>, --config <config>          Path to the assume-role config file ($HOME/.assume-role if unset).
  --verbose                               Enable verbose output.
  -h, --help                              Show this help message.
  --version                               Show the version.`

// ConfigSection is the section of the config file holding defaults.
const ConfigSection = "assume-role"

const (
	envCredentialsFile = "AWS_SHARED_CREDENTIALS_FILE"
	envRegion          = "AWS_DEFAULT_REGION"
)

// Version is reported by --version.
var Version = "dev"

var (
	helpHandler = docopt.PrintHelpAndExit
	userHomeDir = os.UserHomeDir
)

// AppConfig is the merged configuration: defaults, config file, environment
// and command line, in increasing order of precedence.
type AppConfig struct {
	Role        string   `koanf:"role"`
	SessionName string   `koanf:"session-name"`
	Profile     string   `koanf:"profile"`
	File        string   `koanf:"file"`
	Region      string   `koanf:"region"`
	Duration    int32    `koanf:"duration"`
	ExternalID  string   `koanf:"external-id"`
	Policies    []string `koanf:"policy"`
	PolicyJSON  string   `koanf:"policy-json"`
	MFASerial   string   `koanf:"mfa-serial-number"`
	MFACode     string   `koanf:"mfa"`
	DestFile    string   `koanf:"dest-file"`
	DestProfile string   `koanf:"dest-profile"`
	Process     bool     `koanf:"process"`
	Cache       string   `koanf:"cache"`
	Proxy       string   `koanf:"proxy"`
	Config      string   `koanf:"config"`
	Verbose     bool     `koanf:"verbose"`
}

func setLogger(verbose bool) error {
	level := slog.LevelInfo

	if verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

// Parse merges the command line in args with the environment, the config
// file and the built-in defaults.
func (config *AppConfig) Parse(args []string) error {
	parser := &docopt.Parser{HelpHandler: helpHandler}
	opts, err := parser.ParseArgs(Usage, args, "assume-role "+Version)
	if err != nil {
		return fmt.Errorf("error parsing options: %w", err)
	}
	flags := flagValues(opts)

	// SETUP LOGGING
	verbose, _ := flags["verbose"].(bool)
	if err := setLogger(verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Error setting logger: %v\n", err)
	}

	home, err := userHomeDir()
	if err != nil {
		return fmt.Errorf("unable to determine home directory: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(home), "."), nil); err != nil {
		return fmt.Errorf("error loading defaults: %w", err)
	}

	configPath, explicit := flags["config"].(string)
	if !explicit {
		configPath = filepath.Join(home, ".assume-role")
	}
	fileValues, err := loadConfigFile(expandHome(configPath, home), explicit)
	if err != nil {
		return err
	}
	if err := k.Load(confmap.Provider(fileValues, "."), nil); err != nil {
		return fmt.Errorf("error loading config file values: %w", err)
	}

	if err := k.Load(env.ProviderWithValue("", ".", envKey), nil); err != nil {
		return fmt.Errorf("error loading environment: %w", err)
	}

	if err := k.Load(confmap.Provider(flags, "."), nil); err != nil {
		return fmt.Errorf("error loading command line: %w", err)
	}

	*config = AppConfig{}
	if err := k.Unmarshal("", config); err != nil {
		return fmt.Errorf("error binding options: %w", err)
	}

	config.Config = expandHome(config.Config, home)
	config.DestFile = expandHome(config.DestFile, home)
	config.File = expandHome(config.File, home)
	config.Cache = expandHome(config.Cache, home)

	slog.Debug("Parsed configuration", "role", config.Role, "region", config.Region,
		"dest_file", config.DestFile, "dest_profile", config.DestProfile, "process", config.Process)
	return nil
}

func defaults(home string) map[string]interface{} {
	return map[string]interface{}{
		"region":       awsconfig.DefaultRegion,
		"dest-file":    filepath.Join(home, ".aws", "credentials"),
		"dest-profile": "default",
		"config":       filepath.Join(home, ".assume-role"),
	}
}

// flagValues keeps only the options actually given on the command line so
// they do not mask lower layers.
func flagValues(opts docopt.Opts) map[string]interface{} {
	out := make(map[string]interface{})
	for k, v := range opts {
		if !strings.HasPrefix(k, "--") {
			continue
		}
		name := strings.TrimPrefix(k, "--")
		if name == "help" || name == "version" {
			continue
		}

		switch val := v.(type) {
		case bool:
			if val {
				out[name] = true
			}
		case string:
			out[name] = val
		case []string:
			if len(val) > 0 {
				out[name] = val
			}
		}
	}
	return out
}

func envKey(key, value string) (string, interface{}) {
	if value == "" {
		return "", nil
	}
	switch key {
	case envCredentialsFile:
		return "dest-file", value
	case envRegion:
		return "region", value
	}
	return "", nil
}

// loadConfigFile reads the [assume-role] section of the config file. A
// missing file is only an error when its path was given explicitly.
func loadConfigFile(path string, explicit bool) (map[string]interface{}, error) {
	slog.Debug("Checking for assume-role config file", "path", path)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			slog.Debug("Assume-role config file does not exist", "path", path)
			return map[string]interface{}{}, nil
		}
		return nil, fmt.Errorf("error checking config file: %w", err)
	}

	slog.Debug("Loading assume-role config file", "path", path)
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	section, err := cfg.GetSection(ConfigSection)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s section: %w", ConfigSection, err)
	}

	values := make(map[string]interface{})
	for key, value := range section.KeysHash() {
		if key == "config" {
			continue
		}
		slog.Debug("Setting value from config", "key", key)
		values[key] = value
	}
	return values, nil
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// ValidateOptions checks the merged configuration for missing or conflicting values.
func (config *AppConfig) ValidateOptions() error {
	slog.Debug("Validating options")

	switch {
	case config.Role == "":
		return fmt.Errorf("a role ARN must be supplied with --role or in the config file")
	case config.Duration < 0:
		return fmt.Errorf("duration must be a positive number of seconds, got %d", config.Duration)
	case config.MFACode != "" && config.MFASerial == "":
		return fmt.Errorf("--mfa requires --mfa-serial-number")
	case config.PolicyJSON != "" && !json.Valid([]byte(config.PolicyJSON)):
		return fmt.Errorf("--policy-json is not valid JSON")
	case config.Cache != "" && !config.Process:
		return fmt.Errorf("--cache can only be used with --process")
	case !config.Process && config.DestFile == "":
		return fmt.Errorf("a destination credentials file is required")
	}

	return nil
}

// Mode returns the output mode selected by the configuration.
func (config *AppConfig) Mode() roleassumer.Mode {
	if config.Process {
		return roleassumer.ProcessMode
	}
	return roleassumer.FileMode
}

// Request builds the STS request described by the configuration.
func (config *AppConfig) Request() rolecreds.Request {
	return rolecreds.Request{
		RoleARN:         config.Role,
		SessionName:     config.SessionName,
		ExternalID:      config.ExternalID,
		DurationSeconds: config.Duration,
		MFASerial:       config.MFASerial,
		MFACode:         config.MFACode,
		PolicyARNs:      config.Policies,
		PolicyJSON:      config.PolicyJSON,
	}
}

// AWSOptions selects the identity used to call STS.
func (config *AppConfig) AWSOptions() awsconfig.Options {
	return awsconfig.Options{
		Region:          config.Region,
		Profile:         config.Profile,
		CredentialsFile: config.File,
		Proxy:           config.Proxy,
	}
}
