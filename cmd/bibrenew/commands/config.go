package commands

import (
	"errors"
	"os"
	"strings"

	"bibrenew/lib/configutil"
	"bibrenew/lib/notify"
	"bibrenew/lib/renewal"
	"bibrenew/lib/runstore"
	"bibrenew/lib/serviceutil"
	"bibrenew/lib/transport"
)

type UserConfig struct {
	Name       string `json:"name"`
	CardNumber string `json:"card_number"`
	Password   string `json:"password"`
}

type NotifyConfig struct {
	WebhookUrl string             `json:"webhook_url"`
	Email      notify.EmailConfig `json:"email"`
}

type ServeConfig struct {
	Port int `json:"port"`
	// Hours lists the local hours (Europe/Brussels) at which the
	// serve daemon starts a run.
	Hours []int `json:"hours"`
}

type Config struct {
	BaseUrl string       `json:"base_url"`
	Users   []UserConfig `json:"users"`
	Notify  NotifyConfig `json:"notify"`
	// History points at a sqlite file or a libsql:// url, empty
	// disables run persistence.
	History string      `json:"history"`
	Serve   ServeConfig `json:"serve"`
}

// loadConfig reads bibrenew.json5 (plus its .local override) and
// applies environment overrides on top. A missing file is fine, the
// environment alone can define a complete run.
func loadConfig() (Config, error) {
	cfg, err := configutil.ReadConfig[Config]("bibrenew.json5")
	if err != nil && !os.IsNotExist(err) {
		return Config{}, err
	}

	if v := os.Getenv("BIBRENEW_BASE_URL"); v != "" {
		cfg.BaseUrl = v
	}
	if v := os.Getenv("BIBRENEW_USERS"); v != "" {
		cfg.Users = parseUsersEnv(v)
	}
	if v := os.Getenv("BIBRENEW_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookUrl = v
	}
	return cfg, nil
}

// BIBRENEW_USERS holds comma separated card:password pairs, e.g.
// "12345678:geheim,87654321:hunter2".
func parseUsersEnv(raw string) []UserConfig {
	var users []UserConfig
	for _, pair := range strings.Split(raw, ",") {
		card, password, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || card == "" {
			continue
		}
		users = append(users, UserConfig{CardNumber: card, Password: password})
	}
	return users
}

func requirePortalConfig(cfg Config) {
	if cfg.BaseUrl == "" {
		serviceutil.Fatal("incomplete configuration", errors.New("no portal base url configured"))
	}
	if len(cfg.Users) == 0 {
		serviceutil.Fatal("incomplete configuration", errors.New("no users configured"))
	}
}

func portalUsers(cfg Config) []renewal.User {
	users := make([]renewal.User, len(cfg.Users))
	for i, user := range cfg.Users {
		users[i] = renewal.User{
			Name:       user.Name,
			CardNumber: user.CardNumber,
			Password:   user.Password,
		}
	}
	return users
}

func transportOptions() transport.Options {
	options := transport.Options{}
	if *verbose {
		options.Output = transport.NewFilesystemOutput(".dev/resty/bibrenew")
	}
	return options
}

func runnerOptions(cfg Config, onlyTitle string) renewal.Options {
	return renewal.Options{
		BaseUrl:   cfg.BaseUrl,
		Users:     portalUsers(cfg),
		OnlyTitle: onlyTitle,
		Transport: transportOptions(),
	}
}

func buildSinks(cfg Config) []notify.Sink {
	var sinks []notify.Sink
	if cfg.Notify.WebhookUrl != "" {
		sinks = append(sinks, notify.NewDiscord(cfg.Notify.WebhookUrl))
	}
	if cfg.Notify.Email.Server != "" {
		sinks = append(sinks, notify.NewEmail(cfg.Notify.Email))
	}
	return sinks
}

// openHistory returns nil when no history database is configured.
func openHistory(cfg Config) (*runstore.Store, error) {
	if cfg.History == "" {
		return nil, nil
	}
	database, err := runstore.Open(cfg.History)
	if err != nil {
		return nil, err
	}
	store := runstore.NewStore(database)
	return &store, nil
}
