package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	echoapi "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/notif"
	channelsvc "github.com/trezcool/shule/services/channel"
	logsvc "github.com/trezcool/shule/services/logger"
	"github.com/trezcool/shule/storage/database"
	sqlxrepos "github.com/trezcool/shule/storage/database/sqlx"
)

var build = "dev" // set on build

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig(build)

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			logger.Error("failed to close DB", err)
		}
	}()

	// set up services
	defaultTZ, err := time.LoadLocation(conf.Notification.DefaultTimezone)
	if err != nil {
		logger.Warn(fmt.Sprintf("unknown default timezone %q, using UTC", conf.Notification.DefaultTimezone))
		defaultTZ = time.UTC
	}
	hub := channelsvc.NewHub(logger)
	engine := notif.NewEngine(
		conf,
		logger,
		notif.Repositories{
			Templates:     sqlxrepos.NewTemplateRepository(db),
			Channels:      sqlxrepos.NewChannelRepository(db),
			Preferences:   sqlxrepos.NewPreferenceRepository(db),
			Notifications: sqlxrepos.NewNotificationRepository(db),
		},
		notif.NewDirectory(sqlxrepos.NewUserRepository(db), defaultTZ),
		newAdapters(conf, hub),
	)
	defer engine.Close()

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	notif.InitValidators(validate, translator)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			Engine:     engine,
			Hub:        hub,
			Validate:   validate,
			Translator: translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db); err != nil {
		return nil, err
	}
	return sqlx.NewDb(db, conf.Database.Engine), nil
}

// newAdapters wires one adapter per channel type. In DEV the outbound channels
// print to the console instead of hitting real vendors.
func newAdapters(conf *core.Config, hub *channelsvc.Hub) map[notif.ChannelType]notif.Adapter {
	adapters := map[notif.ChannelType]notif.Adapter{
		notif.ChannelInApp: channelsvc.NewInAppAdapter(hub),
	}
	if conf.Debug {
		for _, typ := range []notif.ChannelType{notif.ChannelEmail, notif.ChannelSMS, notif.ChannelPush, notif.ChannelChat} {
			adapters[typ] = channelsvc.NewConsoleAdapter(typ)
		}
		return adapters
	}

	adapters[notif.ChannelEmail] = channelsvc.NewEmailAdapter(conf)
	adapters[notif.ChannelSMS] = channelsvc.NewSMSAdapter(conf)
	adapters[notif.ChannelPush] = channelsvc.NewPushAdapter(conf)
	adapters[notif.ChannelChat] = channelsvc.NewChatAdapter(conf)
	return adapters
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
