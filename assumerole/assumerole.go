// Package assumerole wires the command line, the STS client, the credentials
// file store and the process cache into the assume-role command.
package assumerole

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"

	appc "assumerole/pkg/appconfig"
	appa "assumerole/pkg/awsconfig"
	"assumerole/pkg/credfile"
	"assumerole/pkg/fsutil"
	"assumerole/pkg/processcache"
	"assumerole/pkg/roleassumer"
	"assumerole/pkg/rolecreds"
)

// EnvVarMessageTemplate tells the user how to pick up a non-default destination profile.
const EnvVarMessageTemplate = `
To use the new credentials by default add the following to your profile:

  export AWS_PROFILE=%s
`

// newAssumer builds the STS-backed collaborator.
var newAssumer = func(ctx context.Context, opts appa.Options) (roleassumer.Assumer, error) {
	cfg, err := appa.LoadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	return appa.NewClient(cfg), nil
}

// ConfigError reports that the AWS configuration of the calling identity
// could not be loaded.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("error loading aws config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// lazyAssumer defers loading the SDK configuration until a remote call is
// actually needed, so a cache hit works without a usable source identity.
type lazyAssumer struct {
	opts    appa.Options
	assumer roleassumer.Assumer
}

func (l *lazyAssumer) AssumeRole(ctx context.Context, req rolecreds.Request) (rolecreds.Credentials, error) {
	if l.assumer == nil {
		slog.Debug("Loading source aws credentials...")
		assumer, err := newAssumer(ctx, l.opts)
		if err != nil {
			return rolecreds.Credentials{}, &ConfigError{Err: err}
		}
		l.assumer = assumer
	}
	return l.assumer.AssumeRole(ctx, req)
}

// CLI runs assume-role with args and returns the process exit code.
func CLI(args []string) int {
	return run(context.Background(), args, afero.NewOsFs(), os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, fsys afero.Fs, stdout, stderr io.Writer) int {
	var appconfig appc.AppConfig

	// PARSE COMMAND LINE ARGS
	if err := appconfig.Parse(args); err != nil {
		fmt.Fprintf(stderr, "Error parsing command line arguments: %v\n", err)
		return 1
	}

	// VALIDATE OPTIONS
	slog.Debug("Validating assume-role options and config...")
	if err := appconfig.ValidateOptions(); err != nil {
		fmt.Fprintf(stderr, "Error validating options: %v\n", err)
		return 1
	}

	opts := []roleassumer.Option{roleassumer.WithStdout(stdout)}
	if appconfig.Cache != "" {
		opts = append(opts, roleassumer.WithCache(processcache.New(processcache.Config{
			Fs:   fsys,
			Path: appconfig.Cache,
		})))
	}
	ra := roleassumer.New(&lazyAssumer{opts: appconfig.AWSOptions()}, credfile.NewStore(fsys), opts...)

	// ASSUME ROLE AND DELIVER CREDENTIALS
	mode := appconfig.Mode()
	if mode == roleassumer.FileMode {
		slog.Info("Assuming role...", "role_arn", appconfig.Role)
	}
	res, err := ra.Run(ctx, roleassumer.Config{
		Mode:        mode,
		Request:     appconfig.Request(),
		DestFile:    appconfig.DestFile,
		DestProfile: appconfig.DestProfile,
	})
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", describe(err), err)
		return 1
	}

	if mode == roleassumer.FileMode {
		slog.Info("Wrote aws credentials file", "path", appconfig.DestFile, "profile", appconfig.DestProfile,
			"expiration", res.Credentials.Expiration)

		// PRINT ENV VAR MESSAGE IF NOT THE ACTIVE PROFILE
		if appconfig.DestProfile != "default" && os.Getenv("AWS_PROFILE") != appconfig.DestProfile {
			fmt.Fprintf(stderr, EnvVarMessageTemplate, appconfig.DestProfile)
		}
	}

	return 0
}

// describe names the failure class so remote, local-write and parse problems
// read differently.
func describe(err error) string {
	var cfgErr *ConfigError
	var assumeErr *appa.AssumeRoleError
	var parseErr *credfile.ParseError
	var ioErr *fsutil.IOError

	switch {
	case errors.As(err, &cfgErr):
		return "Could not load aws config"
	case errors.As(err, &assumeErr):
		return "Could not assume role"
	case errors.As(err, &parseErr):
		return "Malformed credentials file"
	case errors.As(err, &ioErr):
		return "Could not read or write local file"
	default:
		return "Error"
	}
}
