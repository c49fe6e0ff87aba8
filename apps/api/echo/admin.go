package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/notif"
)

type notifAdminApi struct {
	engine   *notif.Engine
	validate *validator.Validate
}

func registerNotifAdminAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := notifAdminApi{
		engine:   deps.Engine,
		validate: deps.Validate,
	}

	ag := g.Group("/admin/notif", jwt, adminMiddleware())

	ag.POST("/send", api.send)
	ag.POST("/send-template", api.sendTemplate)
	ag.GET("/notifications/:id", api.retrieveNotification)
	ag.GET("/notifications/:id/attempts", api.queryAttempts)

	tg := ag.Group("/templates")
	tg.POST("", api.createTemplate)
	tg.GET("", api.queryTemplates)
	tg.GET("/:name", api.retrieveTemplate)
	tg.PUT("/:name", api.updateTemplate)
	tg.DELETE("/:name", api.destroyTemplate)

	cg := ag.Group("/channels")
	cg.POST("", api.createChannel)
	cg.GET("", api.queryChannels)
	cg.GET("/:id", api.retrieveChannel)
	cg.PUT("/:id", api.updateChannel)
	cg.POST("/:id/activate", api.activateChannel)
	cg.DELETE("/:id", api.destroyChannel)
}

// Send handlers

func (api *notifAdminApi) send(ctx echo.Context) error {
	var data SendRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SendRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	reqCtx := ctx.Request().Context()
	kind := notif.Kind(data.Kind)
	channels := make([]notif.ChannelType, 0, len(data.Channels))
	for _, typ := range data.Channels {
		channels = append(channels, notif.ChannelType(typ))
	}

	var ids []string
	if data.UserID != "" {
		id, err := api.engine.SendDirect(reqCtx, data.UserID, kind, data.Title, data.Body, channels...)
		if err != nil {
			return err
		}
		ids = []string{id}
	} else {
		var err error
		if ids, err = api.engine.SendByRole(reqCtx, data.Role, kind, data.Title, data.Body, channels...); err != nil {
			return err
		}
	}
	return ctx.JSON(http.StatusCreated, SendResponse{NotificationIDs: ids})
}

func (api *notifAdminApi) sendTemplate(ctx echo.Context) error {
	var data SendTemplateRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SendTemplateRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sel := notif.RecipientSelector{UserID: data.UserID, Role: data.Role}
	ids, err := api.engine.SendFromTemplate(ctx.Request().Context(), data.Name, sel, data.Vars, data.PerRecipient)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, SendResponse{NotificationIDs: ids})
}

func (api *notifAdminApi) retrieveNotification(ctx echo.Context) error {
	n, err := api.engine.GetNotification(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, n)
}

func (api *notifAdminApi) queryAttempts(ctx echo.Context) error {
	id := ctx.Param("id")
	// 404 on unknown notification rather than an empty list
	if _, err := api.engine.GetNotification(ctx.Request().Context(), id); err != nil {
		return err
	}
	attempts, err := api.engine.QueryAttempts(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "querying delivery attempts")
	}
	return ctx.JSON(http.StatusOK, attempts)
}

// Template handlers

func (api *notifAdminApi) createTemplate(ctx echo.Context) error {
	var data notif.NewTemplate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTemplate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	tmpl, err := api.engine.CreateTemplate(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, tmpl)
}

func (api *notifAdminApi) queryTemplates(ctx echo.Context) error {
	tmpls, err := api.engine.QueryTemplates(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying templates")
	}
	return ctx.JSON(http.StatusOK, tmpls)
}

func (api *notifAdminApi) retrieveTemplate(ctx echo.Context) error {
	tmpl, err := api.engine.GetTemplate(ctx.Request().Context(), ctx.Param("name"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, tmpl)
}

func (api *notifAdminApi) updateTemplate(ctx echo.Context) error {
	var data notif.UpdateTemplate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateTemplate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	tmpl, err := api.engine.UpdateTemplate(ctx.Request().Context(), ctx.Param("name"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, tmpl)
}

func (api *notifAdminApi) destroyTemplate(ctx echo.Context) error {
	if err := api.engine.DeleteTemplate(ctx.Request().Context(), ctx.Param("name")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Channel handlers

func (api *notifAdminApi) createChannel(ctx echo.Context) error {
	var data notif.NewChannel
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewChannel")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ch, err := api.engine.CreateChannel(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, ch)
}

func (api *notifAdminApi) queryChannels(ctx echo.Context) error {
	channels, err := api.engine.QueryChannels(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying channels")
	}
	return ctx.JSON(http.StatusOK, channels)
}

func (api *notifAdminApi) retrieveChannel(ctx echo.Context) error {
	ch, err := api.engine.GetChannel(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ch)
}

func (api *notifAdminApi) updateChannel(ctx echo.Context) error {
	var data notif.UpdateChannel
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateChannel")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ch, err := api.engine.UpdateChannel(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ch)
}

func (api *notifAdminApi) activateChannel(ctx echo.Context) error {
	ch, err := api.engine.ActivateChannel(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ch)
}

func (api *notifAdminApi) destroyChannel(ctx echo.Context) error {
	if err := api.engine.DeleteChannel(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}
