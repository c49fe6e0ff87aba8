package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/notif"
	"github.com/trezcool/shule/core/user"
	dummydb "github.com/trezcool/shule/storage/database/dummy"
)

var (
	adminUser = user.User{
		ID:       "adm-1",
		Name:     "Head Teacher",
		Username: "head",
		Email:    "head@shule.test",
		IsActive: true,
		Roles:    []string{user.RoleAdminPrincipal},
	}
	studentUser = user.User{
		ID:       "std-1",
		Name:     "Amina",
		Username: "amina",
		Email:    "amina@shule.test",
		IsActive: true,
		Roles:    []string{user.RoleStudent},
	}
)

type sinkAdapter struct{}

func (sinkAdapter) Deliver(context.Context, notif.Recipient, string, string, notif.Channel) error {
	return nil
}

func newTestConfig() *core.Config {
	return &core.Config{
		TestMode:  true,
		AppName:   "Shule",
		SecretKey: "secret",
		Server: core.ServerConfig{
			Host:          "localhost:0",
			JWTExpiration: 10 * time.Minute,
		},
		Notification: core.NotificationConfig{
			DefaultTimezone: "UTC",
			AdapterTimeout:  time.Second,
		},
	}
}

func newTestServer(t *testing.T) (Server, *core.Config) {
	t.Helper()

	conf := newTestConfig()

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open() failed: %v", err)
	}
	usrRepo := dummydb.NewUserRepository(db)
	usrRepo.SetUser(adminUser)
	usrRepo.SetUser(studentUser)

	engine := notif.NewEngine(
		conf,
		testLogger{},
		notif.Repositories{
			Templates:     dummydb.NewTemplateRepository(db),
			Channels:      dummydb.NewChannelRepository(db),
			Preferences:   dummydb.NewPreferenceRepository(db),
			Notifications: dummydb.NewNotificationRepository(db),
		},
		notif.NewDirectory(usrRepo, time.UTC),
		map[notif.ChannelType]notif.Adapter{
			notif.ChannelInApp: sinkAdapter{},
			notif.ChannelEmail: sinkAdapter{},
		},
	)
	t.Cleanup(engine.Close)

	validate := validator.New()
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	core.InitValidators(validate, translator)
	notif.InitValidators(validate, translator)

	server := NewServer(ServerDeps{
		Conf:           conf,
		Logger:         testLogger{},
		Engine:         engine,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	})
	return server, conf
}

type testLogger struct{}

func (testLogger) Enable(bool)                  {}
func (testLogger) Debug(string, ...interface{}) {}
func (testLogger) Info(string, ...interface{})  {}
func (testLogger) Warn(string, ...interface{})  {}
func (testLogger) Error(string, ...interface{}) {}
func (testLogger) Fatal(string, ...interface{}) {}

func getToken(t *testing.T, conf *core.Config, usr user.User) string {
	t.Helper()
	token, err := GenerateToken(conf, GetUserClaims(conf, usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj() failed: %v", err)
	}
	return data
}
