package echoapi

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core/notif"
)

func TestNotifAPIAuth(t *testing.T) {
	server, conf := newTestServer(t)

	// no token
	req, rec := newAuthRequest(http.MethodGet, "/v1/notifications", "")
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// student cannot reach admin endpoints
	studentToken := getToken(t, conf, studentUser)
	req, rec = newAuthRequest(http.MethodGet, "/v1/admin/notif/templates", studentToken)
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestNotifAPISendAndReadFlow(t *testing.T) {
	server, conf := newTestServer(t)
	adminToken := getToken(t, conf, adminUser)
	studentToken := getToken(t, conf, studentUser)

	// admin sends an ad hoc notification to the student
	body := marshallObj(t, SendRequest{
		UserID: studentUser.ID,
		Kind:   "info",
		Title:  "Library closes early",
		Body:   "Closing at 15:00 today.",
	})
	req, rec := newAuthRequest(http.MethodPost, "/v1/admin/notif/send", adminToken, body)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sent SendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sent))
	require.Len(t, sent.NotificationIDs, 1)
	notifID := sent.NotificationIDs[0]

	// the student sees it in their list, unread
	req, rec = newAuthRequest(http.MethodGet, "/v1/notifications?unread=true", studentToken)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var notifs []notif.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notifs))
	require.Len(t, notifs, 1)
	assert.Equal(t, notifID, notifs[0].ID)
	assert.Equal(t, "Library closes early", notifs[0].Title)
	assert.False(t, notifs[0].IsRead)

	req, rec = newAuthRequest(http.MethodGet, "/v1/notifications/unread-count", studentToken)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count": 1}`, rec.Body.String())

	// admins may inspect other users' notifications
	req, rec = newAuthRequest(http.MethodGet, "/v1/notifications/"+notifID, getToken(t, conf, adminUser))
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// mark read, then the unread list is empty
	req, rec = newAuthRequest(http.MethodPost, "/v1/notifications/"+notifID+"/read", studentToken)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req, rec = newAuthRequest(http.MethodGet, "/v1/notifications/unread-count", studentToken)
	server.ServeHTTP(rec, req)
	assert.JSONEq(t, `{"count": 0}`, rec.Body.String())

	// delivery log is admin-only and records the in-app attempt
	req, rec = newAuthRequest(http.MethodGet, "/v1/admin/notif/notifications/"+notifID+"/attempts", adminToken)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var attempts []notif.DeliveryAttempt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &attempts))
	require.Len(t, attempts, 1)
	assert.Equal(t, notif.ChannelInApp, attempts[0].ChannelType)
	assert.Equal(t, notif.StatusSent, attempts[0].Status)
}

func TestNotifAPISendValidation(t *testing.T) {
	server, conf := newTestServer(t)
	adminToken := getToken(t, conf, adminUser)

	tests := []struct {
		name string
		body SendRequest
	}{
		{name: "missing title", body: SendRequest{UserID: studentUser.ID, Kind: "info", Body: "b"}},
		{name: "bad kind", body: SendRequest{UserID: studentUser.ID, Kind: "loud", Title: "t", Body: "b"}},
		{name: "bad channel", body: SendRequest{UserID: studentUser.ID, Kind: "info", Title: "t", Body: "b", Channels: []string{"pigeon"}}},
		{name: "no selector", body: SendRequest{Kind: "info", Title: "t", Body: "b"}},
		{name: "both selectors", body: SendRequest{UserID: studentUser.ID, Role: "teacher:", Kind: "info", Title: "t", Body: "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/admin/notif/send", adminToken, marshallObj(t, tt.body))
			server.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	// unknown recipient
	body := marshallObj(t, SendRequest{UserID: "ghost", Kind: "info", Title: "t", Body: "b"})
	req, rec := newAuthRequest(http.MethodPost, "/v1/admin/notif/send", adminToken, body)
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}

func TestNotifAdminAPITemplates(t *testing.T) {
	server, conf := newTestServer(t)
	adminToken := getToken(t, conf, adminUser)

	newTmpl := notif.NewTemplate{
		Name:         "fees_due",
		TitleTmpl:    "Fees due for {{student_name}}",
		BodyTmpl:     "{{amount}} due.",
		Kind:         "warning",
		RequiredVars: []string{"student_name", "amount"},
	}
	req, rec := newAuthRequest(http.MethodPost, "/v1/admin/notif/templates", adminToken, marshallObj(t, newTmpl))
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// duplicate name
	req, rec = newAuthRequest(http.MethodPost, "/v1/admin/notif/templates", adminToken, marshallObj(t, newTmpl))
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// invalid kind
	bad := newTmpl
	bad.Name = "other"
	bad.Kind = "loud"
	req, rec = newAuthRequest(http.MethodPost, "/v1/admin/notif/templates", adminToken, marshallObj(t, bad))
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// retrieve + template send
	req, rec = newAuthRequest(http.MethodGet, "/v1/admin/notif/templates/fees_due", adminToken)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	sendBody := marshallObj(t, SendTemplateRequest{
		Name:   "fees_due",
		UserID: studentUser.ID,
		Vars:   notif.Vars{"student_name": "Amina", "amount": 1500},
	})
	req, rec = newAuthRequest(http.MethodPost, "/v1/admin/notif/send-template", adminToken, sendBody)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// missing required var
	sendBody = marshallObj(t, SendTemplateRequest{
		Name:   "fees_due",
		UserID: studentUser.ID,
		Vars:   notif.Vars{"student_name": "Amina"},
	})
	req, rec = newAuthRequest(http.MethodPost, "/v1/admin/notif/send-template", adminToken, sendBody)
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	// unknown template
	sendBody = marshallObj(t, SendTemplateRequest{Name: "nope", UserID: studentUser.ID})
	req, rec = newAuthRequest(http.MethodPost, "/v1/admin/notif/send-template", adminToken, sendBody)
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())

	// delete
	req, rec = newAuthRequest(http.MethodDelete, "/v1/admin/notif/templates/fees_due", adminToken)
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req, rec = newAuthRequest(http.MethodGet, "/v1/admin/notif/templates/fees_due", adminToken)
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotifAdminAPIChannels(t *testing.T) {
	server, conf := newTestServer(t)
	adminToken := getToken(t, conf, adminUser)

	// config variant must match the channel type
	bad := marshallObj(t, notif.NewChannel{Type: "email", Name: "smtp"})
	req, rec := newAuthRequest(http.MethodPost, "/v1/admin/notif/channels", adminToken, bad)
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	create := func(name string, activate bool) notif.Channel {
		body := marshallObj(t, notif.NewChannel{
			Type:     "email",
			Name:     name,
			Config:   notif.ChannelConfig{Email: &notif.EmailConfig{Host: "smtp.test", Port: 587}},
			Activate: activate,
		})
		req, rec := newAuthRequest(http.MethodPost, "/v1/admin/notif/channels", adminToken, body)
		server.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var ch notif.Channel
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ch))
		return ch
	}

	first := create("primary", true)
	assert.True(t, first.IsActive)

	second := create("secondary", false)
	assert.False(t, second.IsActive)

	// activating the second deactivates the first
	req, rec = newAuthRequest(http.MethodPost, "/v1/admin/notif/channels/"+second.ID+"/activate", adminToken)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req, rec = newAuthRequest(http.MethodGet, "/v1/admin/notif/channels", adminToken)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var channels []notif.Channel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &channels))
	require.Len(t, channels, 2)
	for _, ch := range channels {
		assert.Equal(t, ch.ID == second.ID, ch.IsActive, "channel %s", ch.Name)
	}
}

func TestNotifAPIPreferences(t *testing.T) {
	server, conf := newTestServer(t)
	studentToken := getToken(t, conf, studentUser)

	// defaults for every kind before anything is stored
	req, rec := newAuthRequest(http.MethodGet, "/v1/notification-prefs", studentToken)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var prefs []notif.Preference
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prefs))
	assert.Len(t, prefs, len(notif.AllKinds))

	// store one with quiet hours
	body := marshallObj(t, notif.UpdatePreference{
		Kind:       "info",
		Enabled:    true,
		Channels:   []string{"in-app", "email"},
		QuietStart: "22:00",
		QuietEnd:   "06:00",
	})
	req, rec = newAuthRequest(http.MethodPut, "/v1/notification-prefs", studentToken, body)
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var pref notif.Preference
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pref))
	assert.Equal(t, studentUser.ID, pref.UserID)
	require.NotNil(t, pref.QuietStart)
	assert.Equal(t, "22:00", pref.QuietStart.String())

	// malformed clock value
	body = marshallObj(t, notif.UpdatePreference{Kind: "info", QuietStart: "25:00", QuietEnd: "06:00"})
	req, rec = newAuthRequest(http.MethodPut, "/v1/notification-prefs", studentToken, body)
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// reset back to defaults
	req, rec = newAuthRequest(http.MethodDelete, "/v1/notification-prefs/info", studentToken)
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req, rec = newAuthRequest(http.MethodDelete, "/v1/notification-prefs/loud", studentToken)
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
