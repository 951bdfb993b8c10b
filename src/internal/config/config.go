// Package config loads casbackup configuration from YAML and the
// environment. The loader hands back a viper instance; typed access to the
// account list goes through Accounts, which re-validates every identifier
// even though the file is operator-owned.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/casapps/casbackup/src/internal/validate"
)

// Account describes one hosting account to back up.
type Account struct {
	Name   string `mapstructure:"name" validate:"required,accountname"`
	Token  string `mapstructure:"token"`
	UseSSH bool   `mapstructure:"use_ssh"`
}

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	// Account names share the grammar enforced on every other external input.
	_ = v.RegisterValidation("accountname", func(fl validator.FieldLevel) bool {
		return validate.Account(fl.Field().String())
	})
	return v
}

// Load reads configuration from path (or the default search locations when
// path is empty) and the CASBACKUP_* environment.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("CASBACKUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/casbackup")
		v.SetConfigName("config")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	resolvePaths(v)

	return v, nil
}

func setDefaults(v *viper.Viper) {
	// Layout defaults
	v.SetDefault("settings.backup_dir", "backups")
	v.SetDefault("settings.log_dir", "logs")

	// Logging defaults
	v.SetDefault("settings.log_max_size_mb", 100)

	// Snapshot defaults
	v.SetDefault("settings.keep_snapshots_days", 30)

	// Timeout and retry defaults
	v.SetDefault("settings.api_timeout", "30s")
	v.SetDefault("settings.git_timeout", "300s")
	v.SetDefault("settings.retry_attempts", 3)
	v.SetDefault("settings.retry_base_delay", "1s")

	// API defaults
	v.SetDefault("settings.api_base_url", "https://api.github.com")
	v.SetDefault("settings.api_requests_per_second", 5)

	// External tool defaults
	v.SetDefault("settings.git_path", "git")
	v.SetDefault("settings.gh_path", "gh")

	// History database defaults
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_connections", 5)

	// Webhook listener defaults
	v.SetDefault("webhook.listen", ":8473")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.workers", 1)

	// Email defaults
	v.SetDefault("email.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.from.address", "")
	v.SetDefault("email.from.name", "casbackup")
	v.SetDefault("email.to", []string{})
}

func resolvePaths(v *viper.Viper) {
	// The sqlite history database lives beside the account trees unless the
	// operator points it elsewhere.
	if v.GetString("database.dsn") == "" && v.GetString("database.type") == "sqlite" {
		v.Set("database.dsn", filepath.Join(v.GetString("settings.backup_dir"), "history.db"))
	}
}

// Accounts returns the configured account list with ${ENV_VAR} token
// references expanded. Every record is validated before it is returned.
func Accounts(v *viper.Viper) ([]Account, error) {
	var accounts []Account
	if err := v.UnmarshalKey("accounts", &accounts); err != nil {
		return nil, fmt.Errorf("error parsing accounts: %w", err)
	}

	for i := range accounts {
		accounts[i].Token = expandToken(accounts[i].Token)
		if err := structValidator.Struct(&accounts[i]); err != nil {
			return nil, fmt.Errorf("invalid account %q: %w", accounts[i].Name, err)
		}
	}
	return accounts, nil
}

// FindAccount looks up one account by name.
func FindAccount(v *viper.Viper, name string) (Account, error) {
	accounts, err := Accounts(v)
	if err != nil {
		return Account{}, err
	}
	for _, acc := range accounts {
		if acc.Name == name {
			return acc, nil
		}
	}
	return Account{}, fmt.Errorf("account %q not found in config", name)
}

// expandToken resolves ${ENV_VAR} placeholders so tokens never need to be
// written into the config file verbatim.
func expandToken(token string) string {
	if strings.HasPrefix(token, "${") && strings.HasSuffix(token, "}") {
		return os.Getenv(token[2 : len(token)-1])
	}
	return token
}
