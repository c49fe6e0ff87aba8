package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/notif"
	channelsvc "github.com/trezcool/shule/services/channel"
)

type notifApi struct {
	engine   *notif.Engine
	hub      *channelsvc.Hub
	validate *validator.Validate
	upgrader websocket.Upgrader
}

func registerNotifAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := notifApi{
		engine:   deps.Engine,
		hub:      deps.Hub,
		validate: deps.Validate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	ng := g.Group("/notifications", jwt)
	ng.GET("", api.query)
	ng.GET("/unread-count", api.unreadCount)
	ng.POST("/read-all", api.markAllRead)
	ng.GET("/ws", api.subscribe)
	ng.GET("/:id", api.retrieve)
	ng.POST("/:id/read", api.markRead)

	pg := g.Group("/notification-prefs", jwt)
	pg.GET("", api.queryPreferences)
	pg.PUT("", api.upsertPreference)
	pg.DELETE("/:kind", api.deletePreference)
}

// Handlers

func (api *notifApi) query(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	unreadOnly, _ := strconv.ParseBool(ctx.QueryParam("unread"))
	limit, _ := strconv.Atoi(ctx.QueryParam("limit"))
	offset, _ := strconv.Atoi(ctx.QueryParam("offset"))

	notifs, err := api.engine.QueryNotifications(ctx.Request().Context(), claims.Subject, unreadOnly, limit, offset)
	if err != nil {
		return errors.Wrap(err, "querying notifications")
	}
	return ctx.JSON(http.StatusOK, notifs)
}

func (api *notifApi) unreadCount(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	count, err := api.engine.CountUnread(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "counting unread notifications")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"count": count})
}

func (api *notifApi) retrieve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	n, err := api.engine.GetNotification(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	// existence of others' notifications is not disclosed
	if n.UserID != claims.Subject && !claims.IsAdmin {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, n)
}

func (api *notifApi) markRead(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	if err = api.engine.MarkRead(ctx.Request().Context(), ctx.Param("id"), claims.Subject); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *notifApi) markAllRead(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	if err = api.engine.MarkAllRead(ctx.Request().Context(), claims.Subject); err != nil {
		return errors.Wrap(err, "marking all notifications read")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// subscribe upgrades the connection and registers it on the hub for realtime
// in-app pushes. The hub owns the connection from here on.
func (api *notifApi) subscribe(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	if api.hub == nil {
		return errHttpNotFound
	}

	conn, err := api.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return errors.Wrap(err, "upgrading connection")
	}
	api.hub.Add(claims.Subject, conn)
	return nil
}

func (api *notifApi) queryPreferences(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	prefs, err := api.engine.QueryPreferences(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "querying preferences")
	}
	return ctx.JSON(http.StatusOK, prefs)
}

func (api *notifApi) upsertPreference(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	var data notif.UpdatePreference
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdatePreference")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	pref, err := api.engine.UpsertPreference(ctx.Request().Context(), claims.Subject, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, pref)
}

func (api *notifApi) deletePreference(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	kind := notif.Kind(ctx.Param("kind"))
	if !kind.IsValid() {
		return errHttpNotFound
	}
	if err = api.engine.DeletePreference(ctx.Request().Context(), claims.Subject, kind); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}
