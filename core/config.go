package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	// Config holds all app settings. It is loaded once on startup and passed around explicitly.
	Config struct {
		Debug    bool
		TestMode bool
		Env      string // DEV (default) | TEST | QA | PROD
		Build    string
		AppName  string
		WorkDir  string

		SecretKey        string
		DefaultFromEmail mail.Address
		FrontendBaseURL  string

		Server       ServerConfig
		Database     DatabaseConfig
		Notification NotificationConfig

		SendgridAPIKey string
		RollbarToken   string
	}

	ServerConfig struct {
		Host            string
		DebugHost       string
		ShutdownTimeout time.Duration
		JWTExpiration   time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Name          string
		Host          string
		Port          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	// NotificationConfig configures the dispatch engine and its channel adapters.
	NotificationConfig struct {
		// DefaultTimezone applies when a recipient's timezone is unknown (quiet hours check).
		DefaultTimezone string
		// Workers bounds the (recipient, channel) delivery worker pool.
		Workers int
		// AdapterTimeout bounds a single channel adapter call.
		AdapterTimeout time.Duration

		SMSGatewayURL  string
		SMSGatewayKey  string
		SMSSender      string
		PushGatewayURL string
		PushGatewayKey string
		TelegramToken  string
		TelegramChatID int64
	}
)

func (c DatabaseConfig) Address() string {
	return c.Host + ":" + c.Port
}

// NewConfig loads the app Config. Env vars (prefixed with the current ENV) override
// defaults; an optional config/.env.<env> file is loaded first.
func NewConfig(build ...string) *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Shule")
	v.SetDefault("secretKey", "0f9&yb^a@87e=p+hd-34%(1!fmw&2l_7xsg*5qzj4#kvn6u)tc")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")

	v.SetDefault("serverHost", "0.0.0.0:8000")
	v.SetDefault("serverDebugHost", "0.0.0.0:4000")
	v.SetDefault("serverShutdownTimeout", 5*time.Second)
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)

	v.SetDefault("databaseEngine", "postgres")
	v.SetDefault("databaseName", "shule")
	v.SetDefault("databaseHost", "localhost")
	v.SetDefault("databasePort", "5432")
	v.SetDefault("databaseUser", "shule")
	v.SetDefault("databasePassword", "")
	v.SetDefault("databaseAdminUser", "")
	v.SetDefault("databaseAdminPassword", "")
	v.SetDefault("databaseDisableTLS", true)

	v.SetDefault("notifDefaultTimezone", "Africa/Nairobi")
	v.SetDefault("notifWorkers", 8)
	v.SetDefault("notifAdapterTimeout", 15*time.Second)
	v.SetDefault("smsGatewayURL", "")
	v.SetDefault("smsGatewayKey", "")
	v.SetDefault("smsSender", "SHULE")
	v.SetDefault("pushGatewayURL", "")
	v.SetDefault("pushGatewayKey", "")
	v.SetDefault("telegramToken", "")
	v.SetDefault("telegramChatID", 0)

	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	v.SetEnvPrefix(env)

	wd := getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err = godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Debug:    v.GetBool("debug"),
		TestMode: env == "TEST",
		Env:      env,
		AppName:  v.GetString("appName"),
		WorkDir:  wd,

		SecretKey:        v.GetString("secretKey"),
		DefaultFromEmail: mail.Address{Name: v.GetString("appName"), Address: v.GetString("defaultFromEmail")},
		FrontendBaseURL:  v.GetString("frontendBaseURL"),

		Server: ServerConfig{
			Host:            v.GetString("serverHost"),
			DebugHost:       v.GetString("serverDebugHost"),
			ShutdownTimeout: v.GetDuration("serverShutdownTimeout"),
			JWTExpiration:   v.GetDuration("jwtExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("databaseEngine"),
			Name:          v.GetString("databaseName"),
			Host:          v.GetString("databaseHost"),
			Port:          v.GetString("databasePort"),
			User:          v.GetString("databaseUser"),
			Password:      v.GetString("databasePassword"),
			AdminUser:     v.GetString("databaseAdminUser"),
			AdminPassword: v.GetString("databaseAdminPassword"),
			DisableTLS:    v.GetBool("databaseDisableTLS"),
		},
		Notification: NotificationConfig{
			DefaultTimezone: v.GetString("notifDefaultTimezone"),
			Workers:         v.GetInt("notifWorkers"),
			AdapterTimeout:  v.GetDuration("notifAdapterTimeout"),
			SMSGatewayURL:   v.GetString("smsGatewayURL"),
			SMSGatewayKey:   v.GetString("smsGatewayKey"),
			SMSSender:       v.GetString("smsSender"),
			PushGatewayURL:  v.GetString("pushGatewayURL"),
			PushGatewayKey:  v.GetString("pushGatewayKey"),
			TelegramToken:   v.GetString("telegramToken"),
			TelegramChatID:  v.GetInt64("telegramChatID"),
		},

		SendgridAPIKey: v.GetString("sendgridApiKey"),
		RollbarToken:   v.GetString("rollbarToken"),
	}
	if len(build) > 0 {
		conf.Build = build[0]
	}
	return conf
}

// getwd tries to find the project root (the dir holding go.mod).
// go-test changes the working directory to the test package being run during tests...
// see: https://stackoverflow.com/questions/23847003/golang-tests-and-working-directory
func getwd() string {
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}
	currDir := wd
	for {
		if _, err := os.Stat(filepath.Join(currDir, "go.mod")); err == nil {
			return currDir
		}
		newDir := filepath.Dir(currDir)
		if newDir == string(os.PathSeparator) || newDir == currDir {
			// deployed binary running outside the project tree; cwd will do
			return wd
		}
		currDir = newDir
	}
}
